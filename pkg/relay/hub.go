package relay

import "github.com/rs/zerolog"

// hub fans accepted operations out to every subscribed connection,
// the originator included; the originator's own apply of the echo is
// a dedup. One goroutine owns the client set, so registration,
// broadcast, and teardown never race.
type hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool
	done       chan struct{}
	log        zerolog.Logger
}

func newHub(log zerolog.Logger) *hub {
	return &hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*client]bool),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// run owns the client set until done is closed. A subscriber whose
// send buffer is full is dropped rather than allowed to stall the
// fan-out; it will reconnect and sync the gap.
func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug().Str("remote", c.remote).Int("clients", len(h.clients)).Msg("client registered")
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.log.Debug().Str("remote", c.remote).Int("clients", len(h.clients)).Msg("client unregistered")
			}
		case data := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.log.Warn().Str("remote", c.remote).Msg("send buffer full, dropping client")
					delete(h.clients, c)
					close(c.send)
				}
			}
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}
