package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/daviddao/drift/pkg/apply"
	"github.com/daviddao/drift/pkg/config"
	"github.com/daviddao/drift/pkg/hlc"
	"github.com/daviddao/drift/pkg/op"
	"github.com/daviddao/drift/pkg/oplog"
	"github.com/daviddao/drift/pkg/store"
)

const defaultDir = ".drift"

// app holds shared state for all CLI subcommands.
type app struct {
	cfg    *config.Workspace
	dir    *oplog.Dir
	store  *store.Store
	clock  *hlc.Clock
	engine *apply.Engine
	logger zerolog.Logger
}

// newApp opens an initialized workspace: config, state files, store,
// and a clock seeded from everything this replica has ever seen.
func newApp() (*app, error) {
	path := envOr("DRIFT_DIR", defaultDir)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("no workspace at %s (run 'drift init'): %w", path, err)
	}
	dir, err := oplog.OpenDir(path)
	if err != nil {
		return nil, err
	}
	s, err := store.New(dir.DBPath())
	if err != nil {
		dir.Close()
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	node := cfg.NodeID
	if node == 0 {
		node = hlc.DeriveNodeID()
	}
	clock := hlc.NewClock(node)
	// Seed from both marks so restarts never reissue an id.
	clock.Observe(dir.Log.HighWater())
	if last, ok := dir.LastHLC.Read(); ok {
		clock.Observe(last)
	}

	return &app{
		cfg:    cfg,
		dir:    dir,
		store:  s,
		clock:  clock,
		engine: apply.New(s, dir.Log),
		logger: newLogger(),
	}, nil
}

// Close releases the store and the state directory lock.
func (a *app) Close() {
	a.store.Close()
	a.dir.Close() //nolint:errcheck
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(envOr("DRIFT_LOG", "warn"))
	if err != nil {
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// emit stamps a payload with a fresh clock reading, applies it locally,
// and queues it for the relay. This is the single write path every
// mutation command goes through.
func (a *app) emit(p op.Payload) (op.Op, error) {
	o := op.Op{ID: a.clock.Now(), Payload: p}
	if _, err := a.engine.Apply(o); err != nil {
		return op.Op{}, err
	}
	if err := a.dir.Queue.Enqueue(o); err != nil {
		return op.Op{}, fmt.Errorf("queue: %w", err)
	}
	if err := a.dir.LastHLC.Update(o.ID); err != nil {
		return op.Op{}, fmt.Errorf("mark: %w", err)
	}
	a.logger.Debug().Str("op", o.ID.String()).Str("kind", string(p.Kind())).Msg("emitted")
	return o, nil
}

// requireIssue errors before emitting when the target does not exist
// locally, so typos fail loudly instead of becoming skipped ops.
func (a *app) requireIssue(id string) error {
	if _, err := a.store.GetIssue(id); err != nil {
		return fmt.Errorf("unknown issue %q", id)
	}
	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// errf prints a command error and returns the exit code.
func errf(format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, "drift: "+format+"\n", args...)
	return 1
}
