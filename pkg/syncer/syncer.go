// Package syncer implements the client side of the relay protocol:
// connect, catch up from the server's log, push the offline queue, and
// stay subscribed applying broadcasts. Every transition is crash-safe
// because the oplog deduplicates and the server high-water mark only
// advances after the covered ops are applied.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/daviddao/drift/pkg/apply"
	"github.com/daviddao/drift/pkg/hlc"
	"github.com/daviddao/drift/pkg/op"
	"github.com/daviddao/drift/pkg/oplog"
	"github.com/daviddao/drift/pkg/store"
	"github.com/daviddao/drift/pkg/wire"
)

// State is the connection state, readable from other goroutines.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
	maxRetries     = 10
	dialTimeout    = 5 * time.Second
	writeTimeout   = 5 * time.Second
)

// Syncer drives one replica's relay connection.
type Syncer struct {
	url    string
	clock  *hlc.Clock
	engine *apply.Engine
	store  *store.Store
	queue  *oplog.Queue
	mark   *oplog.Mark // server high-water mark
	logger zerolog.Logger
	state  atomic.Int32
}

// New builds a syncer over an already-open replica.
func New(url string, clock *hlc.Clock, engine *apply.Engine, s *store.Store, queue *oplog.Queue, serverMark *oplog.Mark, logger zerolog.Logger) *Syncer {
	return &Syncer{
		url:    url,
		clock:  clock,
		engine: engine,
		store:  s,
		queue:  queue,
		mark:   serverMark,
		logger: logger.With().Str("component", "syncer").Logger(),
	}
}

// State returns the current connection state.
func (s *Syncer) State() State { return State(s.state.Load()) }

func (s *Syncer) setState(st State) { s.state.Store(int32(st)) }

// newBackoff returns the reconnect policy: exponential with full
// jitter, 100ms doubling to a 30s cap.
func newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 1
	b.MaxElapsedTime = 0
	return b
}

// Run connects and stays subscribed until ctx is cancelled. Each
// successful session resets the backoff; after maxRetries consecutive
// failures Run gives up and returns the last error.
func (s *Syncer) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackoff(), maxRetries), ctx)
	return backoff.Retry(func() error {
		err := s.session(ctx, true)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("session ended, will retry")
		}
		return err
	}, policy)
}

// Once performs a single exchange: catch up, push the queue, and
// disconnect. This is what the sync command runs.
func (s *Syncer) Once(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackoff(), maxRetries), ctx)
	return backoff.Retry(func() error {
		err := s.session(ctx, false)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy)
}

// session runs one connection lifetime: dial, catch up, drain the
// queue, then (when subscribe is set) apply broadcasts until the
// connection drops or ctx is cancelled.
func (s *Syncer) session(ctx context.Context, subscribe bool) error {
	s.setState(StateConnecting)
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()
	s.setState(StateConnected)
	s.logger.Info().Str("url", s.url).Msg("connected")

	// Close the socket when ctx is cancelled so reads unblock.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := s.catchUp(conn); err != nil {
		return err
	}
	if err := s.drainQueue(conn); err != nil {
		return err
	}
	if !subscribe {
		return nil
	}
	return s.subscribeLoop(conn)
}

// catchUp requests everything after the stored server mark (or a full
// snapshot when this replica has never synced) and applies the answer.
// The relay subscribes a connection before serving its sync, so live
// broadcasts may arrive ahead of the response; they are applied as they
// come, and oplog dedup makes the union with the batch exact.
func (s *Syncer) catchUp(conn *websocket.Conn) error {
	var req wire.Message
	since, haveMark := s.mark.Read()
	if haveMark {
		req = wire.NewSync(&since)
	} else if s.store.CountIssues() == 0 {
		req = wire.Message{Type: wire.TypeSnapshot}
	} else {
		req = wire.NewSync(nil)
	}
	if err := s.write(conn, req); err != nil {
		return err
	}

	// Broadcasts that land ahead of the response are buffered and folded
	// after it, so a snapshot import cannot wipe their effects.
	var pending []op.Op
	for {
		m, err := s.readFrame(conn)
		if err != nil {
			return err
		}
		switch m.Type {
		case wire.TypeOp:
			pending = append(pending, *m.Op)
		case wire.TypeSyncResponse:
			if err := s.applySyncResponse(m); err != nil {
				return err
			}
			return s.applyPending(pending)
		case wire.TypeSnapshotResponse:
			if err := s.applySnapshot(m); err != nil {
				return err
			}
			return s.applyPending(pending)
		case wire.TypeError:
			return fmt.Errorf("relay error: %s", m.Message)
		case wire.TypePong:
			// keepalive
		default:
			return fmt.Errorf("unexpected %s frame during catch-up", m.Type)
		}
	}
}

func (s *Syncer) applyPending(ops []op.Op) error {
	for _, o := range ops {
		if err := s.applyBroadcast(o); err != nil {
			return err
		}
	}
	return nil
}

// applyBroadcast folds one relayed op and advances the server mark.
func (s *Syncer) applyBroadcast(o op.Op) error {
	s.clock.Receive(o.ID)
	if _, err := s.engine.Apply(o); err != nil {
		return fmt.Errorf("apply broadcast %v: %w", o.ID, err)
	}
	return s.mark.Update(o.ID)
}

func (s *Syncer) applySyncResponse(m wire.Message) error {
	applied, err := s.engine.ApplyAll(m.Ops)
	if err != nil {
		return fmt.Errorf("apply sync batch: %w", err)
	}
	for _, o := range m.Ops {
		s.clock.Observe(o.ID)
	}
	s.logger.Info().Int("received", len(m.Ops)).Int("applied", applied).Msg("caught up")
	return s.advanceMark(m.HighWater)
}

func (s *Syncer) applySnapshot(m wire.Message) error {
	if err := s.store.ImportSnapshot(m.Issues, m.Tags); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	s.logger.Info().Int("issues", len(m.Issues)).Msg("snapshot imported")
	return s.advanceMark(m.Since)
}

// advanceMark moves the server mark to h, after the covered state is
// durably applied. Nil means the response carried no cursor.
func (s *Syncer) advanceMark(h *hlc.HLC) error {
	if h == nil {
		return nil
	}
	s.clock.Observe(*h)
	return s.mark.Update(*h)
}

// drainQueue pushes queued offline ops one at a time, removing each
// from the queue only after the write succeeds. A crash between write
// and remove re-sends the op; the relay deduplicates.
func (s *Syncer) drainQueue(conn *websocket.Conn) error {
	ops, err := s.queue.PeekAll()
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	for _, o := range ops {
		if err := s.write(conn, wire.NewOp(o)); err != nil {
			return fmt.Errorf("push %v: %w", o.ID, err)
		}
		if err := s.queue.RemoveFirst(1); err != nil {
			return fmt.Errorf("dequeue %v: %w", o.ID, err)
		}
	}
	if len(ops) > 0 {
		s.logger.Info().Int("pushed", len(ops)).Msg("queue drained")
	}
	return nil
}

// subscribeLoop applies broadcast ops until the connection drops.
func (s *Syncer) subscribeLoop(conn *websocket.Conn) error {
	for {
		m, err := s.readFrame(conn)
		if err != nil {
			return err
		}
		switch m.Type {
		case wire.TypeOp:
			if err := s.applyBroadcast(*m.Op); err != nil {
				return err
			}
		case wire.TypePong:
			// keepalive
		case wire.TypeError:
			s.logger.Warn().Str("detail", m.Message).Msg("relay error")
		default:
			s.logger.Warn().Str("type", m.Type).Msg("unexpected frame, ignoring")
		}
	}
}

func (s *Syncer) write(conn *websocket.Conn, m wire.Message) error {
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Syncer) readFrame(conn *websocket.Conn) (wire.Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return wire.Message{}, errors.New("connection closed")
		}
		return wire.Message{}, err
	}
	return wire.Decode(data)
}
