package relay

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Producer is the single publisher of a path and its ordered subscriber
// list. Subscription order is broadcast order.
type Producer struct {
	path      string
	owner     Subscriber
	startedAt time.Time

	mu     sync.RWMutex
	subs   []*Consumer
	nextID uint64
	closed bool

	messages atomic.Uint64
	bytes    atomic.Uint64
}

func newProducer(path string, owner Subscriber) *Producer {
	return &Producer{path: path, owner: owner, startedAt: time.Now()}
}

func (p *Producer) Path() string      { return p.path }
func (p *Producer) Owner() Subscriber { return p.owner }

// Consumer is a subscription handle. It stays valid after removal; Producer
// returns nil once the subscription ended for either reason.
type Consumer struct {
	id  uint64
	sub Subscriber

	mu       sync.Mutex
	producer *Producer
}

func (c *Consumer) ID() uint64             { return c.id }
func (c *Consumer) Subscriber() Subscriber { return c.sub }

// Producer returns the producer c is attached to, or nil once detached or
// unsubscribed.
func (c *Consumer) Producer() *Producer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producer
}

func (c *Consumer) detach() {
	c.mu.Lock()
	c.producer = nil
	c.mu.Unlock()
}

// Subscribe appends sub to the subscriber list. Callers enforce that a peer
// subscribes once.
func (p *Producer) Subscribe(sub Subscriber) (*Consumer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProducerClosed
	}
	p.nextID++
	c := &Consumer{id: p.nextID, sub: sub, producer: p}
	p.subs = append(p.subs, c)
	return c, nil
}

// Unsubscribe removes exactly c. It returns false, and does nothing, if c is
// not (or no longer) subscribed.
func (p *Producer) Unsubscribe(c *Consumer) bool {
	if c == nil {
		return false
	}
	p.mu.Lock()
	i := slices.Index(p.subs, c)
	if i >= 0 {
		p.subs = slices.Delete(p.subs, i, i+1)
	}
	p.mu.Unlock()
	if i < 0 {
		return false
	}
	c.detach()
	return true
}

// Consumers returns the current subscriptions in order.
func (p *Producer) Consumers() []*Consumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.subs)
}

// Broadcast sends payload to every subscriber in subscription order. A
// failing subscriber does not stop delivery to the rest; after the pass all
// failed consumers are unsubscribed and returned.
func (p *Producer) Broadcast(payload []byte) ([]*Consumer, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrProducerClosed
	}
	subs := slices.Clone(p.subs)
	p.mu.RUnlock()

	var failed []*Consumer
	for _, c := range subs {
		if err := c.sub.Send(payload); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		p.Unsubscribe(c)
	}
	p.messages.Add(1)
	p.bytes.Add(uint64(len(payload)))
	return failed, nil
}

// close marks p unregistered and detaches every consumer.
func (p *Producer) close() []*Consumer {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, c := range subs {
		c.detach()
	}
	return subs
}

// Info returns a point-in-time description of p.
func (p *Producer) Info() StreamInfo {
	p.mu.RLock()
	ids := make([]string, 0, len(p.subs))
	for _, c := range p.subs {
		ids = append(ids, c.sub.ID())
	}
	p.mu.RUnlock()

	info := StreamInfo{
		Path:      p.path,
		Consumers: ids,
		Messages:  p.messages.Load(),
		Bytes:     p.bytes.Load(),
		StartedAt: p.startedAt,
	}
	if p.owner != nil {
		info.ProducerID = p.owner.ID()
	}
	return info
}
