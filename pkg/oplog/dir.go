package oplog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Well-known file names inside a state directory.
const (
	LogFile       = "oplog.jsonl"
	SyncQueueFile = "sync_queue.jsonl"
	LastHLCFile   = "last_hlc.txt"
	ServerHLCFile = "server_hlc.txt"
	DBFile        = "issues.db"
	lockFile      = "state.lock"
)

// Dir bundles the per-client durable state living in one directory:
// the oplog, the offline queue, the two high-water marks, and the
// advisory lock that serializes CLI invocations against the files.
type Dir struct {
	Path      string
	Log       *Log
	Queue     *Queue
	LastHLC   *Mark
	ServerHLC *Mark

	fl *flock.Flock
}

// OpenDir creates the directory if needed, takes the advisory lock, and
// opens the state files. The lock covers only the line-oriented files;
// SQLite serializes itself.
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("state dir %s: %w", path, err)
	}
	fl := flock.New(filepath.Join(path, lockFile))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("state dir %s: lock: %w", path, err)
	}
	log, err := Open(filepath.Join(path, LogFile))
	if err != nil {
		fl.Unlock() //nolint:errcheck
		return nil, err
	}
	q, err := OpenQueue(filepath.Join(path, SyncQueueFile))
	if err != nil {
		log.Close()
		fl.Unlock() //nolint:errcheck
		return nil, err
	}
	return &Dir{
		Path:      path,
		Log:       log,
		Queue:     q,
		LastHLC:   NewMark(filepath.Join(path, LastHLCFile)),
		ServerHLC: NewMark(filepath.Join(path, ServerHLCFile)),
		fl:        fl,
	}, nil
}

// DBPath returns the path of the relational store file.
func (d *Dir) DBPath() string { return filepath.Join(d.Path, DBFile) }

// Close releases the files and the advisory lock.
func (d *Dir) Close() error {
	err := d.Log.Close()
	if uerr := d.fl.Unlock(); err == nil {
		err = uerr
	}
	return err
}
