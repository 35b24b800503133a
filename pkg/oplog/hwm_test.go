package oplog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/daviddao/drift/pkg/hlc"
)

func TestMarkAbsentReadsNone(t *testing.T) {
	m := NewMark(filepath.Join(t.TempDir(), LastHLCFile))
	if _, ok := m.Read(); ok {
		t.Fatal("absent mark should read as none")
	}
}

func TestMarkUpdateAndRead(t *testing.T) {
	m := NewMark(filepath.Join(t.TempDir(), ServerHLCFile))
	h := hlc.HLC{WallMS: 5000, Counter: 0, NodeID: 1}
	if err := m.Update(h); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok := m.Read()
	if !ok || got != h {
		t.Fatalf("Read = %v,%v, want %v,true", got, ok, h)
	}
}

func TestMarkIsMonotonic(t *testing.T) {
	m := NewMark(filepath.Join(t.TempDir(), ServerHLCFile))
	high := hlc.HLC{WallMS: 6000, Counter: 0, NodeID: 2}
	low := hlc.HLC{WallMS: 5000, Counter: 9, NodeID: 2}
	m.Update(high)
	if err := m.Update(low); err != nil {
		t.Fatalf("stale Update: %v", err)
	}
	if got, _ := m.Read(); got != high {
		t.Fatalf("mark regressed to %v, want %v", got, high)
	}
}

func TestMarkMalformedReadsNone(t *testing.T) {
	path := filepath.Join(t.TempDir(), LastHLCFile)
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewMark(path)
	if _, ok := m.Read(); ok {
		t.Fatal("malformed mark should read as none")
	}
	// And a subsequent update recovers the file.
	h := hlc.HLC{WallMS: 100, Counter: 0, NodeID: 3}
	if err := m.Update(h); err != nil {
		t.Fatal(err)
	}
	if got, ok := m.Read(); !ok || got != h {
		t.Fatalf("Read after recovery = %v,%v", got, ok)
	}
}
