// Package oplog provides the durable client-side state files: the
// append-only operation log, the offline queue of unacknowledged ops,
// and the HLC high-water-mark files.
//
// All three are plain files under the state directory, written with an
// explicit fsync before success is reported. The formats are line
// oriented: one JSON op per line for the log and queue, one textual HLC
// for the marks. Blank lines are skipped on read, and a trailing
// malformed line, the residue of an interrupted write, is treated as
// the end of the log; the next append overwrites it.
package oplog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/daviddao/drift/pkg/hlc"
	"github.com/daviddao/drift/pkg/op"
)

// ErrCorrupt is returned when the log contains a record this build
// cannot interpret (an unknown payload type in a non-trailing position).
// Corruption is fatal at startup: proceeding would silently diverge.
var ErrCorrupt = errors.New("oplog: corrupt log")

// Log is a durable, append-only, id-indexed sequence of ops. A single
// mutex serializes readers and writers; appends dominate and are short.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	path string

	ops  []op.Op                 // all ops, ascending by id
	seen map[hlc.HLC]struct{}    // O(1) duplicate detection
	high hlc.HLC
}

// Open reads (or creates) the log at path and rebuilds the in-memory
// index with a single scan. A trailing malformed line is truncated away.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	l := &Log{f: f, path: path, seen: make(map[hlc.HLC]struct{})}
	if err := l.load(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// load scans the file, building the index and computing the byte length
// of the valid prefix. Everything after the last valid record is cut.
func (l *Log) load() error {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	ops, validLen, err := readOps(l.f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, l.path, err)
	}
	fi, err := l.f.Stat()
	if err != nil {
		return err
	}
	if validLen > fi.Size() {
		// Final record had no trailing newline; the +1 overshot.
		validLen = fi.Size()
	}
	if validLen < fi.Size() {
		if err := l.f.Truncate(validLen); err != nil {
			return fmt.Errorf("oplog: truncate torn tail of %s: %w", l.path, err)
		}
	}
	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	for _, o := range ops {
		l.ops = append(l.ops, o)
		l.seen[o.ID] = struct{}{}
		if o.ID.After(l.high) {
			l.high = o.ID
		}
	}
	op.SortByID(l.ops)
	return nil
}

// readOps decodes newline-delimited ops from r, skipping blank lines.
// It returns the ops plus the byte offset just past the last valid
// record. A malformed JSON line is tolerated only in trailing position;
// an op with an unknown payload type is an error anywhere.
func readOps(r io.Reader) ([]op.Op, int64, error) {
	var (
		ops      []op.Op
		validLen int64
		pending  bool // saw a malformed line; only ok if nothing follows
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		consumed := int64(len(line)) + 1
		if len(trimSpace(line)) == 0 {
			validLen += consumed
			continue
		}
		var o op.Op
		if err := json.Unmarshal(line, &o); err != nil {
			if errors.Is(err, op.ErrUnknownPayload) {
				return nil, 0, err
			}
			// Possibly a torn final write. Remember and keep scanning;
			// any further content proves real corruption.
			if pending {
				return nil, 0, fmt.Errorf("malformed record: %q", line)
			}
			pending = true
			continue
		}
		if pending {
			return nil, 0, fmt.Errorf("malformed record before %v", o.ID)
		}
		ops = append(ops, o)
		validLen += consumed
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return ops, validLen, nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}

// Append persists o iff its id is not already present. It returns true
// after the record is written and fsynced, false for a duplicate.
func (l *Log) Append(o op.Op) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[o.ID]; dup {
		return false, nil
	}
	line, err := json.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("oplog: encode %v: %w", o.ID, err)
	}
	line = append(line, '\n')
	if _, err := l.f.Write(line); err != nil {
		return false, fmt.Errorf("oplog: append %v: %w", o.ID, err)
	}
	if err := l.f.Sync(); err != nil {
		return false, fmt.Errorf("oplog: fsync: %w", err)
	}
	l.seen[o.ID] = struct{}{}
	l.insert(o)
	if o.ID.After(l.high) {
		l.high = o.ID
	}
	return true, nil
}

// insert places o at its sorted position; appends are almost always at
// the tail, so scan backwards.
func (l *Log) insert(o op.Op) {
	i := len(l.ops)
	for i > 0 && o.ID.Less(l.ops[i-1].ID) {
		i--
	}
	l.ops = append(l.ops, op.Op{})
	copy(l.ops[i+1:], l.ops[i:])
	l.ops[i] = o
}

// Contains reports whether an op with the given id is persisted.
func (l *Log) Contains(id hlc.HLC) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

// OpsSince returns all ops with id strictly greater than h, ascending.
func (l *Log) OpsSince(h hlc.HLC) []op.Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Binary search for the first id > h.
	lo, hi := 0, len(l.ops)
	for lo < hi {
		mid := (lo + hi) / 2
		if l.ops[mid].ID.After(h) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	out := make([]op.Op, len(l.ops)-lo)
	copy(out, l.ops[lo:])
	return out
}

// IterAll returns every op in id order.
func (l *Log) IterAll() []op.Op {
	return l.OpsSince(hlc.Zero)
}

// Len returns the number of persisted ops.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// HighWater returns the maximum persisted id, or the zero HLC if empty.
func (l *Log) HighWater() hlc.HLC {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
