// Package wire defines the relay protocol frames. Every frame is one
// JSON text message with a "type" discriminator; payload fields are
// inlined on the frame and unused ones omitted. Both directions share
// the Message struct so the relay can echo op frames verbatim.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/daviddao/drift/pkg/hlc"
	"github.com/daviddao/drift/pkg/op"
	"github.com/daviddao/drift/pkg/store"
)

// Frame types. Client to server: op, sync, snapshot, ping. Server to
// client: op (broadcast), sync_response, snapshot_response, pong, error.
const (
	TypeOp               = "op"
	TypeSync             = "sync"
	TypeSnapshot         = "snapshot"
	TypePing             = "ping"
	TypeSyncResponse     = "sync_response"
	TypeSnapshotResponse = "snapshot_response"
	TypePong             = "pong"
	TypeError            = "error"
)

// Message is one protocol frame. Type selects which fields are live.
type Message struct {
	Type string `json:"type"`

	// Op carries one operation (type op, both directions).
	Op *op.Op `json:"op,omitempty"`

	// Since is the exclusive sync cursor (type sync). Nil means from
	// the beginning of the log. On a snapshot_response it is the mark
	// the client should subscribe after.
	Since *hlc.HLC `json:"since,omitempty"`

	// Ops is the ordered batch answering a sync (type sync_response).
	Ops []op.Op `json:"ops,omitempty"`

	// Issues and Tags form a snapshot (type snapshot_response).
	Issues []store.Issue       `json:"issues,omitempty"`
	Tags   map[string][]string `json:"tags,omitempty"`

	// HighWater is the server's log high-water mark, sent on
	// sync_response so the client can advance its cursor even when the
	// batch is empty.
	HighWater *hlc.HLC `json:"high_water,omitempty"`

	// ID correlates a ping with its pong.
	ID uint64 `json:"id,omitempty"`

	// Message is human-readable error detail (type error).
	Message string `json:"message,omitempty"`
}

var knownTypes = map[string]bool{
	TypeOp: true, TypeSync: true, TypeSnapshot: true, TypePing: true,
	TypeSyncResponse: true, TypeSnapshotResponse: true, TypePong: true,
	TypeError: true,
}

// Decode parses one frame, rejecting unknown or missing types so a
// newer peer cannot silently slip frames past us.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	if !knownTypes[m.Type] {
		return Message{}, fmt.Errorf("wire: unknown frame type %q", m.Type)
	}
	if m.Type == TypeOp && m.Op == nil {
		return Message{}, fmt.Errorf("wire: op frame without op")
	}
	return m, nil
}

// Encode serializes one frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// NewOp wraps one operation for transmission.
func NewOp(o op.Op) Message {
	return Message{Type: TypeOp, Op: &o}
}

// NewSync builds a sync request from an optional cursor.
func NewSync(since *hlc.HLC) Message {
	return Message{Type: TypeSync, Since: since}
}

// NewError builds an error frame.
func NewError(detail string) Message {
	return Message{Type: TypeError, Message: detail}
}
