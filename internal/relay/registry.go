// Package relay is the producer/consumer directory: at most one Producer per
// path, each with an ordered list of Consumer subscriptions that receive
// its payloads.
//
// The relay's reactor drives every mutation from one goroutine, but the
// Registry still guards its map with a mutex so check-then-insert stays
// atomic for any other caller (admin queries, future sharding).
package relay

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrEmptyPath         = errors.New("relay: empty path")
	ErrAlreadyRegistered = errors.New("relay: producer already registered for path")
	ErrNoProducer        = errors.New("relay: no producer for path")
	ErrProducerClosed    = errors.New("relay: producer unregistered")
)

// Subscriber is a peer that can receive relayed payloads. Send must not
// block; it queues payload for delivery or fails.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
}

// Registry maps paths to their live Producer.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]*Producer
}

func NewRegistry() *Registry { return &Registry{producers: make(map[string]*Producer)} }

// Register creates the Producer for path owned by owner. It fails with
// ErrAlreadyRegistered if path already has a live producer, leaving that
// producer untouched.
func (r *Registry) Register(path string, owner Subscriber) (*Producer, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.producers[path]; exists {
		return nil, ErrAlreadyRegistered
	}
	p := newProducer(path, owner)
	r.producers[path] = p
	return p, nil
}

// Lookup returns the live producer for path, or nil.
func (r *Registry) Lookup(path string) *Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.producers[path]
}

// Subscribe attaches sub to the producer registered for path. Nothing is
// created when the path has no producer.
func (r *Registry) Subscribe(path string, sub Subscriber) (*Consumer, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	p := r.Lookup(path)
	if p == nil {
		return nil, ErrNoProducer
	}
	return p.Subscribe(sub)
}

// Unregister removes p from the registry and detaches all of its consumers,
// returning them in subscription order. The consumers' subscribers are not
// closed. Unregistering an already removed producer returns nil.
func (r *Registry) Unregister(p *Producer) []*Consumer {
	if p == nil {
		return nil
	}
	r.mu.Lock()
	if cur, ok := r.producers[p.path]; ok && cur == p {
		delete(r.producers, p.path)
	}
	r.mu.Unlock()
	return p.close()
}

// Len returns the number of registered paths.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}

// StreamInfo is a point-in-time view of one registered path.
type StreamInfo struct {
	Path       string    `json:"path"`
	ProducerID string    `json:"producer_id"`
	Consumers  []string  `json:"consumers"`
	Messages   uint64    `json:"messages"`
	Bytes      uint64    `json:"bytes"`
	StartedAt  time.Time `json:"started_at"`
}

// Snapshot describes every registered path, sorted by path.
func (r *Registry) Snapshot() []StreamInfo {
	r.mu.RLock()
	list := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		list = append(list, p)
	}
	r.mu.RUnlock()

	out := make([]StreamInfo, 0, len(list))
	for _, p := range list {
		out = append(out, p.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
