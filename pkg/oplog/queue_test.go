package oplog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/daviddao/drift/pkg/op"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := OpenQueue(filepath.Join(t.TempDir(), SyncQueueFile))
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	return q
}

func TestEnqueuePreservesInsertionOrder(t *testing.T) {
	q := newTestQueue(t)
	for i := uint32(0); i < 5; i++ {
		if err := q.Enqueue(mkOp(2000, i, 7, "x")); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	ops, err := q.PeekAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 5 {
		t.Fatalf("PeekAll: %d ops, want 5", len(ops))
	}
	for i, o := range ops {
		if o.ID.Counter != uint32(i) {
			t.Fatalf("op %d has counter %d, want %d", i, o.ID.Counter, i)
		}
	}
}

func TestRemoveFirstDrainsHead(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(mkOp(2000, 0, 7, "a"))
	q.Enqueue(mkOp(2001, 0, 7, "b"))
	q.Enqueue(mkOp(2002, 0, 7, "c"))

	if err := q.RemoveFirst(1); err != nil {
		t.Fatalf("RemoveFirst: %v", err)
	}
	ops, _ := q.PeekAll()
	if len(ops) != 2 || ops[0].ID.WallMS != 2001 {
		t.Fatalf("after RemoveFirst(1): %v", ops)
	}

	// Removing more than present clears without error.
	if err := q.RemoveFirst(10); err != nil {
		t.Fatalf("RemoveFirst(10): %v", err)
	}
	if empty, _ := q.IsEmpty(); !empty {
		t.Fatal("queue should be empty")
	}
}

func TestClear(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(mkOp(2000, 0, 7, "a"))
	if err := q.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := q.Len(); n != 0 {
		t.Fatalf("Len after Clear = %d", n)
	}
}

func TestQueueToleratesTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SyncQueueFile)
	q, err := OpenQueue(path)
	if err != nil {
		t.Fatal(err)
	}
	q.Enqueue(mkOp(2000, 0, 7, "a"))

	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	f.WriteString(`{"id":{"wall_`)
	f.Close()

	ops, err := q.PeekAll()
	if err != nil {
		t.Fatalf("PeekAll with torn tail: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	if ops[0].Payload.(op.SetTitle).Title != "a" {
		t.Fatalf("unexpected op %+v", ops[0])
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SyncQueueFile)
	q, _ := OpenQueue(path)
	q.Enqueue(mkOp(2000, 0, 7, "a"))

	q2, err := OpenQueue(path)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := q2.Len(); n != 1 {
		t.Fatalf("reopened Len = %d, want 1", n)
	}
}
