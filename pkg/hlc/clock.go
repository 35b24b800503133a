package hlc

import (
	"math"
	"sync"
	"time"
)

// Clock produces monotonically increasing HLC timestamps for one node.
// Unlike a plain wall clock it never goes backwards, even across NTP
// steps: when the wall clock stalls or regresses, the counter carries
// the ordering. Safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	last HLC
	node uint32

	// wallNow is swappable in tests; defaults to time.Now in millis.
	wallNow func() uint64
}

// NewClock returns a clock stamping timestamps with the given node id.
func NewClock(node uint32) *Clock {
	return &Clock{
		node:    node,
		wallNow: func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
}

// NodeID returns the node id this clock stamps onto timestamps.
func (c *Clock) NodeID() uint32 { return c.node }

// Now returns the next timestamp. Successive calls return strictly
// increasing values: if the wall clock has advanced past the last
// timestamp the counter resets, otherwise it increments. If the counter
// would overflow, Now blocks until the wall clock advances.
func (c *Clock) Now() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next()
}

// next advances the clock. Caller must hold mu.
func (c *Clock) next() HLC {
	w := c.wallNow()
	if w > c.last.WallMS {
		c.last = HLC{WallMS: w, Counter: 0, NodeID: c.node}
		return c.last
	}
	for c.last.Counter == math.MaxUint32 {
		// Counter exhausted within one logical millisecond. Wait out
		// the wall clock rather than wrapping.
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		c.mu.Lock()
		if w := c.wallNow(); w > c.last.WallMS {
			c.last = HLC{WallMS: w, Counter: 0, NodeID: c.node}
			return c.last
		}
	}
	c.last = HLC{WallMS: c.last.WallMS, Counter: c.last.Counter + 1, NodeID: c.node}
	return c.last
}

// Receive folds a remote timestamp into the clock and returns the next
// local timestamp, which is strictly greater than both the remote value
// and every timestamp this clock previously produced.
func (c *Clock) Receive(remote HLC) HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote.After(c.last) {
		c.last = remote
	}
	return c.next()
}

// Observe advances the clock state without producing a timestamp. Used
// to seed a fresh clock from persisted high-water marks so the first
// Now() already orders after everything on disk.
func (c *Clock) Observe(h HLC) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.After(c.last) {
		c.last = h
	}
}

// Last returns the most recent timestamp state without advancing.
func (c *Clock) Last() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
