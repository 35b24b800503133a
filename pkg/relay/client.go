package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/daviddao/drift/pkg/wire"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 16 << 20 // matches the oplog's max record size
	sendBufferSize = 256
)

// client is one subscribed connection. The read pump feeds frames to
// the server's dispatcher; the write pump drains send. All writes to
// the socket go through send so they never interleave.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
	log    zerolog.Logger
}

func newClient(conn *websocket.Conn, log zerolog.Logger) *client {
	remote := conn.RemoteAddr().String()
	return &client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		remote: remote,
		log:    log.With().Str("remote", remote).Logger(),
	}
}

// reply queues one frame for this client, dropping it if the client is
// already backed up (the write pump will tear the connection down).
func (c *client) reply(m wire.Message) {
	data, err := wire.Encode(m)
	if err != nil {
		c.log.Error().Err(err).Str("type", m.Type).Msg("encode reply")
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn().Str("type", m.Type).Msg("send buffer full, dropping reply")
	}
}

// readPump reads frames until the connection dies and hands each one
// to dispatch. Runs on the connection's goroutine.
func (c *client) readPump(s *Server) {
	defer func() {
		select {
		case s.hub.unregister <- c:
		case <-s.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		s.dispatch(c, data)
	}
}

// writePump drains send onto the socket and keeps the connection alive
// with transport pings. Exits when the hub closes send.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
