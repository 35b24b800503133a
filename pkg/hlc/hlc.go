// Package hlc implements Hybrid Logical Clocks.
//
// An HLC combines a wall-clock reading with a logical counter so that
// timestamps are close to physical time yet still totally ordered and
// compatible with causality (Kulkarni et al., 2014). Two rules govern
// the clock, mirroring Lamport's IR1/IR2:
//
//	Now (internal event): if the wall clock advanced past the last
//	     timestamp, reset the counter; otherwise bump the counter.
//	Receive (message receipt): on receiving a remote timestamp t,
//	     advance the local state to max(own, t), then apply Now.
//
// The node id breaks ties deterministically, giving every participant
// the same total order without coordination. The zero HLC is reserved
// as the "since the beginning" sentinel.
package hlc

import (
	"fmt"
	"hash/fnv"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// HLC is a hybrid logical timestamp. Ordering is lexicographic on
// (WallMS, Counter, NodeID). Node ids are unique per process, so two
// timestamps produced by different processes never compare equal.
type HLC struct {
	WallMS  uint64 `json:"wall_ms"`
	Counter uint32 `json:"counter"`
	NodeID  uint32 `json:"node_id"`
}

// Zero is the minimum HLC, used as the "everything since the beginning"
// sentinel in sync requests and high-water marks.
var Zero = HLC{}

// Compare returns -1, 0, or +1 ordering h relative to other.
func (h HLC) Compare(other HLC) int {
	if h.WallMS != other.WallMS {
		if h.WallMS < other.WallMS {
			return -1
		}
		return 1
	}
	if h.Counter != other.Counter {
		if h.Counter < other.Counter {
			return -1
		}
		return 1
	}
	if h.NodeID != other.NodeID {
		if h.NodeID < other.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether h orders strictly before other.
func (h HLC) Less(other HLC) bool { return h.Compare(other) < 0 }

// After reports whether h orders strictly after other.
func (h HLC) After(other HLC) bool { return h.Compare(other) > 0 }

// IsZero reports whether h is the sentinel minimum.
func (h HLC) IsZero() bool { return h == Zero }

// String renders the timestamp as "wall-counter-node", the textual form
// used in the high-water files and in log output.
func (h HLC) String() string {
	return fmt.Sprintf("%d-%d-%d", h.WallMS, h.Counter, h.NodeID)
}

// SortKey renders the timestamp zero-padded so that lexicographic
// comparison of the strings matches HLC order. Used for database
// columns that are sorted in SQL. Parse accepts this form too.
func (h HLC) SortKey() string {
	return fmt.Sprintf("%020d-%010d-%010d", h.WallMS, h.Counter, h.NodeID)
}

// Parse decodes the textual "wall-counter-node" form produced by String
// or SortKey.
func Parse(s string) (HLC, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return Zero, fmt.Errorf("hlc: malformed timestamp %q", s)
	}
	wall, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("hlc: malformed wall_ms in %q: %w", s, err)
	}
	counter, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Zero, fmt.Errorf("hlc: malformed counter in %q: %w", s, err)
	}
	node, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Zero, fmt.Errorf("hlc: malformed node_id in %q: %w", s, err)
	}
	return HLC{WallMS: wall, Counter: uint32(counter), NodeID: uint32(node)}, nil
}

// Max returns the lexicographically greater of a and b.
func Max(a, b HLC) HLC {
	if a.After(b) {
		return a
	}
	return b
}

// DeriveNodeID computes a stable per-installation node id from the
// current user and hostname. Distinct machines (and distinct users on
// one machine) land on distinct ids with overwhelming probability;
// collisions only weaken tie-breaking, never correctness of dedup.
func DeriveNodeID() uint32 {
	host, _ := os.Hostname()
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	h := fnv.New32a()
	h.Write([]byte(name + "@" + host))
	return h.Sum32()
}
