// Package relay implements the sync relay: a WebSocket endpoint that
// accepts operations, folds them into its own projection, and fans them
// out to every other subscriber. The relay is itself a replica; sync
// and snapshot requests are answered from its oplog and store.
package relay

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/daviddao/drift/pkg/apply"
	"github.com/daviddao/drift/pkg/hlc"
	"github.com/daviddao/drift/pkg/op"
	"github.com/daviddao/drift/pkg/oplog"
	"github.com/daviddao/drift/pkg/store"
	"github.com/daviddao/drift/pkg/wire"
)

// Config is the relay's environment-driven configuration.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8377"`
	DataDir    string `envconfig:"DATA_DIR" default:".drift-relay"`
}

// Server is the relay endpoint. It owns a hub for fan-out and an apply
// engine for its authoritative copy of the log.
type Server struct {
	hub      *hub
	engine   *apply.Engine
	store    store.Reader
	log      *oplog.Log
	clock    *hlc.Clock
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	// mu serializes oplog append and broadcast publish, so frames leave
	// the hub in oplog commit order.
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewServer wires a relay over an already-open store and oplog. Call
// Run before serving.
func NewServer(s *store.Store, l *oplog.Log, clock *hlc.Clock, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "relay").Logger()
	return &Server{
		hub:    newHub(logger),
		engine: apply.New(s, l),
		store:  s,
		log:    l,
		clock:  clock,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run starts the hub's fan-out loop.
func (s *Server) Run() { go s.hub.run() }

// Close stops the fan-out loop and releases remaining subscribers.
// Safe to call more than once.
func (s *Server) Close() { s.closeOnce.Do(func() { close(s.hub.done) }) }

// ServeHTTP upgrades the connection and subscribes it. The client is
// registered before its first frame is read, so nothing broadcast after
// a sync response can be missed; replays are absorbed by oplog dedup.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := newClient(conn, s.logger)
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(s)
}

// dispatch handles one inbound frame from a client.
func (s *Server) dispatch(c *client, data []byte) {
	m, err := wire.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad frame")
		c.reply(wire.NewError(err.Error()))
		return
	}

	switch m.Type {
	case wire.TypeOp:
		s.handleOp(c, *m.Op, data)
	case wire.TypeSync:
		s.handleSync(c, m.Since)
	case wire.TypeSnapshot:
		s.handleSnapshot(c)
	case wire.TypePing:
		c.reply(wire.Message{Type: wire.TypePong, ID: m.ID})
	default:
		c.reply(wire.NewError("unexpected frame type " + m.Type))
	}
}

// handleOp folds one client op into the relay's replica and fans it out
// to every subscriber, the sender included; the sender's own apply of
// the echo is a dedup. Duplicates are absorbed silently; projection
// failures are reported back to the sender only. Append and publish
// happen under one lock so concurrent senders cannot invert commit and
// broadcast order.
func (s *Server) handleOp(c *client, o op.Op, raw []byte) {
	s.clock.Receive(o.ID)

	s.mu.Lock()
	fresh, err := s.engine.Apply(o)
	if err == nil && fresh {
		select {
		case s.hub.broadcast <- raw:
		case <-s.hub.done:
		}
	}
	s.mu.Unlock()

	if err != nil {
		c.log.Error().Err(err).Str("op", o.ID.String()).Msg("apply failed")
		c.reply(wire.NewError("apply " + o.ID.String() + ": " + err.Error()))
		return
	}
	if fresh {
		s.logger.Debug().Str("op", o.ID.String()).Str("kind", string(o.Payload.Kind())).Msg("op accepted")
	}
}

// handleSync answers with every op strictly after the cursor, plus the
// current high-water mark so an empty batch still advances the client.
func (s *Server) handleSync(c *client, since *hlc.HLC) {
	cursor := hlc.Zero
	if since != nil {
		cursor = *since
	}
	ops := s.log.OpsSince(cursor)
	resp := wire.Message{Type: wire.TypeSyncResponse, Ops: ops}
	if hw := s.log.HighWater(); !hw.IsZero() {
		resp.HighWater = &hw
	}
	c.log.Debug().Int("ops", len(ops)).Str("since", cursor.String()).Msg("sync")
	c.reply(resp)
}

// handleSnapshot sends the full projected state for fresh-client
// bootstrap: issues, tags, and the mark to subscribe after.
func (s *Server) handleSnapshot(c *client) {
	issues, err := s.store.ListIssues("")
	if err != nil {
		c.reply(wire.NewError("snapshot: " + err.Error()))
		return
	}
	tags, err := s.store.AllLabels()
	if err != nil {
		c.reply(wire.NewError("snapshot: " + err.Error()))
		return
	}
	resp := wire.Message{Type: wire.TypeSnapshotResponse, Issues: issues, Tags: tags}
	if hw := s.log.HighWater(); !hw.IsZero() {
		resp.Since = &hw
	}
	c.log.Debug().Int("issues", len(issues)).Msg("snapshot")
	c.reply(resp)
}
