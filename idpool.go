package spanz

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"sync"
)

// IDPool manages a pool of pre-generated IDs to amortize crypto/rand overhead.
// IDs are not checked for uniqueness here; the trace buffer skips any ID
// already in use when it registers a span.
type IDPool struct {
	factory func() uint64
	ids     chan uint64
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a new ID pool with the specified capacity.
func NewIDPool(capacity int, factory func() uint64) *IDPool {
	pool := &IDPool{
		ids:     make(chan uint64, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	// Start background refill goroutine.
	go pool.refill()
	return pool
}

// Get retrieves an ID from the pool or generates one if pool is empty.
func (p *IDPool) Get() uint64 {
	select {
	case id := <-p.ids:
		return id
	default:
		// Pool empty, generate directly (fallback for burst load).
		return p.factory()
	}
}

// refill maintains the pool by generating IDs in background.
func (p *IDPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		default:
			// Only generate if pool has capacity.
			select {
			case p.ids <- p.factory():
			case <-p.stopCh:
				return
			}
		}
	}
}

// Close shuts down the ID pool gracefully.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// randomID returns a non-zero 63-bit ID. Zero is reserved for "no parent",
// and the agent stores IDs as signed 64-bit integers.
func randomID() uint64 {
	var b [8]byte
	for {
		var id uint64
		if _, err := rand.Read(b[:]); err == nil {
			id = binary.BigEndian.Uint64(b[:])
		} else {
			id = mrand.Uint64()
		}
		id &= 1<<63 - 1
		if id != 0 {
			return id
		}
	}
}
