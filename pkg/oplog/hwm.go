package oplog

import (
	"fmt"
	"os"
	"sync"

	"github.com/daviddao/drift/pkg/hlc"
)

// Mark persists a single HLC high-water value in a small text file.
// Each client keeps two: last_hlc.txt (maximum locally-produced id in
// the oplog) and server_hlc.txt (maximum id received from the relay,
// which seeds the Sync{since} request on reconnect).
type Mark struct {
	mu   sync.Mutex
	path string
}

// NewMark returns a mark backed by the file at path. The file is
// created lazily on the first Update.
func NewMark(path string) *Mark { return &Mark{path: path} }

// Read returns the persisted HLC and true, or the zero HLC and false
// when the file is absent or malformed. A malformed mark is not fatal:
// the caller falls back to a full snapshot.
func (m *Mark) Read() (hlc.HLC, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

func (m *Mark) read() (hlc.HLC, bool) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return hlc.Zero, false
	}
	h, err := hlc.Parse(string(b))
	if err != nil {
		return hlc.Zero, false
	}
	return h, true
}

// Update advances the mark to h iff h is greater than the current
// value, fsyncing the write. The mark is monotonic: stale updates are
// silently dropped, which makes Update safe to call per received op.
func (m *Mark) Update(h hlc.HLC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.read(); ok && !h.After(cur) {
		return nil
	}
	// The value is well under a filesystem block; write+fsync in place
	// is atomic enough without a rename dance.
	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("hwm: open %s: %w", m.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(h.String() + "\n"); err != nil {
		return fmt.Errorf("hwm: write %s: %w", m.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("hwm: fsync %s: %w", m.path, err)
	}
	return nil
}
