package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/go-rtmp-relay/internal/logger"
	srv "github.com/alxayo/go-rtmp-relay/internal/rtmp/server"
)

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stdout)
	if err != nil {
		// flag package already printed usage/error
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	log := logger.Logger().With("component", "cli")

	if cfg.configPath != "" {
		fc, err := loadConfigFile(cfg.configPath)
		if err != nil {
			log.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg.applyFile(fc)
		if err := cfg.validate(); err != nil {
			log.Error("invalid configuration", "path", cfg.configPath, "error", err)
			os.Exit(1)
		}
	}
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		log.Warn("invalid log level, keeping default", "level", cfg.logLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hookManager, events, err := cfg.buildHooks(logger.Logger())
	if err != nil {
		log.Error("failed to configure hooks", "error", err)
		os.Exit(1)
	}
	defer hookManager.Close()

	serverCfg := cfg.serverConfig()
	serverCfg.Hooks = hookManager
	serverCfg.Events = events
	server := srv.New(serverCfg)
	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	log.Info("server started", "addr", server.Addr().String(), "version", version, "resolver", cfg.resolver)

	if cfg.configPath != "" {
		if err := watchLogLevel(ctx, cfg.configPath, log); err != nil {
			log.Warn("config hot reload disabled", "error", err)
		}
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
