package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// apiServer is the admin HTTP API. Handlers read state through the reactor
// (Server.do) so each response is a consistent snapshot.
type apiServer struct {
	srv   *http.Server
	addr  net.Addr
	start time.Time
}

func startAPI(s *Server, addr string) (*apiServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("api listen %s: %w", addr, err)
	}
	a := &apiServer{addr: ln.Addr(), start: time.Now()}
	a.srv = &http.Server{
		Handler:           s.apiRouter(a.start),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Admin API stopped", "error", err)
		}
	}()
	s.log.Info("Admin API listening", "addr", ln.Addr().String())
	return a, nil
}

func (a *apiServer) shutdown(ctx context.Context) error { return a.srv.Shutdown(ctx) }

// apiRouter builds the admin routes.
func (s *Server) apiRouter(start time.Time) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth(start)).Methods(http.MethodGet)
	api.HandleFunc("/streams", s.handleStreams).Methods(http.MethodGet)
	api.HandleFunc("/streams/{path:.+}", s.handleStream).Methods(http.MethodGet)
	api.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)
	if s.cfg.Hooks != nil {
		api.HandleFunc("/hooks", s.handleHooks).Methods(http.MethodGet)
	}
	if s.cfg.Events != nil {
		api.Handle("/events", s.cfg.Events).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleHealth(start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		streams, err := s.Streams()
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"connections": s.ConnectionCount(),
			"streams":     len(streams),
			"uptime":      time.Since(start).Truncate(time.Second).String(),
		})
	}
}

func (s *Server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	streams, err := s.Streams()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	streams, err := s.Streams()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	for _, st := range streams {
		if st.Path == path {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("no producer for %q", path))
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	conns, err := s.Connections()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) handleHooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Hooks.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
