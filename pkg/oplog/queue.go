package oplog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/daviddao/drift/pkg/op"
)

// Queue is the durable staging area for locally-produced ops that have
// not yet been acknowledged by the relay. The WebSocket transport names
// its file sync_queue.jsonl and drains it op by op on reconnect; the
// git-style backend names it pending_ops.jsonl and keeps it until an
// explicit flush. Same structure either way: newline-delimited JSON,
// fsynced on every enqueue.
type Queue struct {
	mu   sync.Mutex
	path string
}

// OpenQueue attaches to (or creates) the queue file at path.
func OpenQueue(path string) (*Queue, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	f.Close()
	return &Queue{path: path}, nil
}

// Enqueue durably appends o to the tail of the queue.
func (q *Queue) Enqueue(o op.Op) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	line, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("queue: encode %v: %w", o.ID, err)
	}
	f, err := os.OpenFile(q.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("queue: open %s: %w", q.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("queue: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("queue: fsync: %w", err)
	}
	return nil
}

// PeekAll returns the queued ops in insertion order without removing
// them. A trailing malformed line is ignored.
func (q *Queue) PeekAll() ([]op.Op, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read()
}

func (q *Queue) read() ([]op.Op, error) {
	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: open %s: %w", q.path, err)
	}
	defer f.Close()
	ops, _, err := readOps(f)
	if err != nil {
		return nil, fmt.Errorf("queue: %s: %w", q.path, err)
	}
	return ops, nil
}

// Len returns the number of queued ops.
func (q *Queue) Len() (int, error) {
	ops, err := q.PeekAll()
	return len(ops), err
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() (bool, error) {
	n, err := q.Len()
	return n == 0, err
}

// RemoveFirst drops the first n ops, rewriting the file with the tail.
// Used for incremental drain: remove each op only after the relay has
// accepted it.
func (q *Queue) RemoveFirst(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.read()
	if err != nil {
		return err
	}
	if n > len(ops) {
		n = len(ops)
	}
	return q.rewrite(ops[n:])
}

// Clear truncates the queue.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rewrite(nil)
}

func (q *Queue) rewrite(ops []op.Op) error {
	f, err := os.OpenFile(q.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("queue: rewrite %s: %w", q.path, err)
	}
	defer f.Close()
	for _, o := range ops {
		line, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("queue: encode %v: %w", o.ID, err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("queue: rewrite: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("queue: fsync: %w", err)
	}
	return nil
}
