// Package bufpool hands out size-classed byte slices backed by sync.Pool.
// Transport read buffers come from here; the classes cover the range of
// configurable read sizes, from one default RTMP chunk up to 64 KiB.
package bufpool

import "sync"

const (
	ClassChunk = 128
	ClassRead  = 4096
	ClassLarge = 65536
)

var sizeClasses = [...]int{ClassChunk, ClassRead, ClassLarge}

// Pool is a set of per-class sync.Pools. The zero value is not usable; use New.
type Pool struct {
	classes [len(sizeClasses)]*sync.Pool
}

var defaultPool = New()

func Get(size int) []byte { return defaultPool.Get(size) }
func Put(buf []byte)      { defaultPool.Put(buf) }

// New creates a pool with the package size classes.
func New() *Pool {
	p := &Pool{}
	for i, size := range sizeClasses {
		p.classes[i] = &sync.Pool{New: func() any { return make([]byte, size) }}
	}
	return p
}

// Get returns a slice of length size whose capacity is the smallest class
// that fits. Requests above the largest class are allocated directly and
// are dropped by Put.
func (p *Pool) Get(size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}
	for i, class := range sizeClasses {
		if size <= class {
			return p.classes[i].Get().([]byte)[:size]
		}
	}
	return make([]byte, size)
}

// Put zeroes buf and returns it to its class. Slices whose capacity is not
// exactly a class size are ignored.
func (p *Pool) Put(buf []byte) {
	if p == nil || buf == nil {
		return
	}
	for i, class := range sizeClasses {
		if cap(buf) == class {
			full := buf[:class]
			clear(full)
			p.classes[i].Put(full)
			return
		}
	}
}
