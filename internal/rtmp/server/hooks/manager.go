package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager routes events to registered hooks. Trigger never blocks the
// caller; hooks run on a bounded pool. Each hook receives its events in
// the order they were triggered.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    Config
}

func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults()

	m := &Manager{
		hooks:  make(map[EventType][]Hook),
		logger: logger,
		config: config,
		pool:   newExecutionPool(config.Concurrency, config.Timeout, logger),
	}
	if config.StdioFormat != "" {
		if err := m.EnableStdioOutput(config.StdioFormat); err != nil {
			logger.Warn("Ignoring stdio hook format", "format", config.StdioFormat, "error", err)
		}
	}
	return m
}

// Register adds hook for eventType.
func (m *Manager) Register(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.logger.Info("Hook registered",
		"event_type", eventType,
		"hook_type", hook.Type(),
		"hook_id", hook.ID())
	return nil
}

// RegisterAll adds hook for every event type.
func (m *Manager) RegisterAll(hook Hook) error {
	for _, et := range AllEvents {
		if err := m.Register(et, hook); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes the hook with hookID from eventType.
func (m *Manager) Unregister(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	hooks := m.hooks[eventType]
	for i, hook := range hooks {
		if hook.ID() == hookID {
			m.hooks[eventType] = append(hooks[:i:i], hooks[i+1:]...)
			m.logger.Info("Hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// Trigger schedules every hook registered for event.Type. A nil Manager is
// a no-op.
func (m *Manager) Trigger(ctx context.Context, event Event) {
	if m == nil {
		return
	}
	m.mu.RLock()
	hooks := make([]Hook, 0, len(m.hooks[event.Type])+1)
	hooks = append(hooks, m.hooks[event.Type]...)
	if m.stdioHook != nil {
		hooks = append(hooks, m.stdioHook)
	}
	m.mu.RUnlock()

	if len(hooks) == 0 {
		return
	}
	m.logger.Debug("Triggering event",
		"event_type", event.Type,
		"hook_count", len(hooks),
		"event", event.String())

	for _, hook := range hooks {
		m.pool.execute(ctx, hook, event)
	}
}

// EnableStdioOutput attaches a stdio hook that sees every event.
func (m *Manager) EnableStdioOutput(format string) error {
	if format != FormatJSON && format != FormatEnv {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stdioHook = NewStdioHook("stdio", format)
	m.logger.Info("Stdio output enabled", "format", format)
	return nil
}

// Stats summarises registrations for the admin API.
type Stats struct {
	TotalHooks   int            `json:"total_hooks"`
	HooksByType  map[string]int `json:"hooks_by_type"`
	StdioEnabled bool           `json:"stdio_enabled"`
	PoolSize     int            `json:"pool_size"`
	PoolActive   int            `json:"pool_active"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		HooksByType:  make(map[string]int),
		StdioEnabled: m.stdioHook != nil,
		PoolSize:     m.pool.size,
		PoolActive:   m.pool.activeCount(),
	}
	for et, hooks := range m.hooks {
		s.HooksByType[string(et)] = len(hooks)
		s.TotalHooks += len(hooks)
	}
	return s
}

// Close waits for in-flight executions, then closes any hook that holds
// resources (MQTT client, websocket subscribers).
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.pool.close()

	m.mu.Lock()
	seen := make(map[Hook]bool)
	var closers []interface{ Close() error }
	for _, hooks := range m.hooks {
		for _, h := range hooks {
			if seen[h] {
				continue
			}
			seen[h] = true
			if c, ok := h.(interface{ Close() error }); ok {
				closers = append(closers, c)
			}
		}
	}
	m.hooks = make(map[EventType][]Hook)
	m.mu.Unlock()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			m.logger.Warn("Hook close failed", "error", err)
		}
	}
	m.logger.Info("Hook manager closed")
	return nil
}

// executionPool runs hooks on goroutines, at most size at a time. Each
// hook has its own lane: its events execute one after another in trigger
// order, while different hooks proceed in parallel.
type executionPool struct {
	workers chan struct{}
	size    int
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.Mutex
	lanes   map[string]*lane
	active  int
	closed  bool
	logger  *slog.Logger
}

type lane struct {
	queue   []job
	running bool
}

type job struct {
	ctx   context.Context
	hook  Hook
	event Event
}

func newExecutionPool(size int, timeout time.Duration, logger *slog.Logger) *executionPool {
	return &executionPool{
		workers: make(chan struct{}, size),
		size:    size,
		timeout: timeout,
		lanes:   make(map[string]*lane),
		logger:  logger,
	}
}

func laneKey(hook Hook) string { return hook.Type() + "/" + hook.ID() }

func (ep *executionPool) activeCount() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.active
}

// execute queues event on hook's lane. It never blocks on hook execution.
func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return
	}
	ep.wg.Add(1)
	key := laneKey(hook)
	l := ep.lanes[key]
	if l == nil {
		l = &lane{}
		ep.lanes[key] = l
	}
	l.queue = append(l.queue, job{ctx: ctx, hook: hook, event: event})
	if l.running {
		ep.mu.Unlock()
		return
	}
	l.running = true
	ep.mu.Unlock()

	go ep.drain(key, l)
}

// drain runs the lane's jobs in order and retires the lane once empty.
func (ep *executionPool) drain(key string, l *lane) {
	for {
		ep.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			delete(ep.lanes, key)
			ep.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue[0] = job{}
		l.queue = l.queue[1:]
		ep.mu.Unlock()

		ep.run(j)
		ep.wg.Done()
	}
}

func (ep *executionPool) run(j job) {
	ep.workers <- struct{}{}
	defer func() { <-ep.workers }()

	ep.mu.Lock()
	ep.active++
	ep.mu.Unlock()
	defer func() {
		ep.mu.Lock()
		ep.active--
		ep.mu.Unlock()
	}()

	// Hooks outlive the request that triggered them.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), ep.timeout)
	defer cancel()

	start := time.Now()
	err := j.hook.Execute(execCtx, j.event)
	duration := time.Since(start)
	if err != nil {
		ep.logger.Error("Hook execution failed",
			"hook_type", j.hook.Type(),
			"hook_id", j.hook.ID(),
			"event_type", j.event.Type,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return
	}
	ep.logger.Debug("Hook executed",
		"hook_type", j.hook.Type(),
		"hook_id", j.hook.ID(),
		"event_type", j.event.Type,
		"duration_ms", duration.Milliseconds())
}

// close stops accepting work and waits for queued executions.
func (ep *executionPool) close() {
	ep.mu.Lock()
	ep.closed = true
	ep.mu.Unlock()
	ep.wg.Wait()
}
