// Package op defines the operation model: the atomic unit of change in
// drift. An operation pairs a globally unique HLC id with a tagged
// payload describing what changed. Operations are the only thing that
// crosses the wire and the only thing the oplog stores; all issue state
// is a deterministic fold over them.
package op

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/daviddao/drift/pkg/hlc"
)

// ErrUnknownPayload is returned when decoding meets a payload type this
// build does not know. Forward compatibility is deliberately not
// provided: an unknown variant means the log or peer is newer than us,
// and silently skipping it would break convergence.
var ErrUnknownPayload = errors.New("op: unknown payload type")

// Kind discriminates payload variants on the wire and in the oplog.
type Kind string

const (
	KindCreateIssue    Kind = "create_issue"
	KindSetStatus      Kind = "set_status"
	KindSetTitle       Kind = "set_title"
	KindSetType        Kind = "set_type"
	KindSetDescription Kind = "set_description"
	KindSetAssignee    Kind = "set_assignee"
	KindAddLabel       Kind = "add_label"
	KindRemoveLabel    Kind = "remove_label"
	KindAddNote        Kind = "add_note"
	KindAddDep         Kind = "add_dep"
	KindRemoveDep      Kind = "remove_dep"
	KindConfigRename   Kind = "config_rename"
)

// Well-known issue statuses and types. The store treats both as opaque
// strings; these are the values the CLI offers.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusClosed     = "closed"
)

// RelationBlocks is the dependency relation that must stay acyclic.
const RelationBlocks = "blocks"

// Payload is one arm of the operation union. Implementations are plain
// structs; the apply engine switches on the concrete type.
type Payload interface {
	Kind() Kind
	// IssueID returns the id of the issue the payload touches, or ""
	// for payloads that affect the whole store (config_rename).
	IssueID() string
}

// CreateIssue is the first observation of an issue. Idempotent: applying
// it when the id already exists is a no-op.
type CreateIssue struct {
	ID        string `json:"id"`
	IssueType string `json:"issue_type"`
	Title     string `json:"title"`
}

// SetStatus is field LWW on status. Reason, if present, is recorded as
// an event alongside the change.
type SetStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// SetTitle is field LWW on title.
type SetTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SetType is field LWW on the issue type.
type SetType struct {
	ID        string `json:"id"`
	IssueType string `json:"issue_type"`
}

// SetDescription is field LWW on description. A nil description clears.
type SetDescription struct {
	ID          string  `json:"id"`
	Description *string `json:"description"`
}

// SetAssignee is field LWW on assignee. A nil assignee clears.
type SetAssignee struct {
	ID       string  `json:"id"`
	Assignee *string `json:"assignee"`
}

// AddLabel adds to the issue's label set. Idempotent.
type AddLabel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// RemoveLabel removes from the issue's label set. Idempotent.
type RemoveLabel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AddNote appends a note. Notes are append-only and never conflict.
type AddNote struct {
	ID           string `json:"id"`
	Body         string `json:"body"`
	StatusAtTime string `json:"status_at_time"`
}

// AddDep adds a (from, to, relation) edge to the dependency set.
// "from blocks to" when Relation is RelationBlocks.
type AddDep struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// RemoveDep removes a dependency edge.
type RemoveDep struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// ConfigRename rewrites every issue id under OldPrefix to NewPrefix,
// cascading through labels, notes, deps, and events.
type ConfigRename struct {
	OldPrefix string `json:"old_prefix"`
	NewPrefix string `json:"new_prefix"`
}

func (CreateIssue) Kind() Kind    { return KindCreateIssue }
func (SetStatus) Kind() Kind      { return KindSetStatus }
func (SetTitle) Kind() Kind       { return KindSetTitle }
func (SetType) Kind() Kind        { return KindSetType }
func (SetDescription) Kind() Kind { return KindSetDescription }
func (SetAssignee) Kind() Kind    { return KindSetAssignee }
func (AddLabel) Kind() Kind       { return KindAddLabel }
func (RemoveLabel) Kind() Kind    { return KindRemoveLabel }
func (AddNote) Kind() Kind        { return KindAddNote }
func (AddDep) Kind() Kind         { return KindAddDep }
func (RemoveDep) Kind() Kind      { return KindRemoveDep }
func (ConfigRename) Kind() Kind   { return KindConfigRename }

func (p CreateIssue) IssueID() string    { return p.ID }
func (p SetStatus) IssueID() string      { return p.ID }
func (p SetTitle) IssueID() string       { return p.ID }
func (p SetType) IssueID() string        { return p.ID }
func (p SetDescription) IssueID() string { return p.ID }
func (p SetAssignee) IssueID() string    { return p.ID }
func (p AddLabel) IssueID() string       { return p.ID }
func (p RemoveLabel) IssueID() string    { return p.ID }
func (p AddNote) IssueID() string        { return p.ID }
func (p AddDep) IssueID() string         { return p.From }
func (p RemoveDep) IssueID() string      { return p.From }
func (ConfigRename) IssueID() string     { return "" }

// Op is one operation: a unique HLC id plus a payload. The id doubles
// as the dedup key and the LWW tiebreaker.
type Op struct {
	ID      hlc.HLC
	Payload Payload
}

// envelope is the JSON form: the payload fields are inlined next to a
// "type" discriminator, e.g.
//
//	{"id":{"wall_ms":1,"counter":0,"node_id":2},
//	 "payload":{"type":"set_title","id":"prj-aaaa","title":"A"}}
type envelope struct {
	ID      hlc.HLC         `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type kindProbe struct {
	Type Kind `json:"type"`
}

// MarshalJSON encodes the op with the payload's type tag inlined.
func (o Op) MarshalJSON() ([]byte, error) {
	if o.Payload == nil {
		return nil, errors.New("op: marshal with nil payload")
	}
	fields, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, err
	}
	m["type"] = json.RawMessage(fmt.Sprintf("%q", o.Payload.Kind()))
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ID: o.ID, Payload: payload})
}

// UnmarshalJSON decodes an op, rejecting unknown payload types with
// ErrUnknownPayload.
func (o *Op) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	p, err := decodePayload(env.Payload)
	if err != nil {
		return err
	}
	o.ID = env.ID
	o.Payload = p
	return nil
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	var probe kindProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	var p Payload
	switch probe.Type {
	case KindCreateIssue:
		p = &CreateIssue{}
	case KindSetStatus:
		p = &SetStatus{}
	case KindSetTitle:
		p = &SetTitle{}
	case KindSetType:
		p = &SetType{}
	case KindSetDescription:
		p = &SetDescription{}
	case KindSetAssignee:
		p = &SetAssignee{}
	case KindAddLabel:
		p = &AddLabel{}
	case KindRemoveLabel:
		p = &RemoveLabel{}
	case KindAddNote:
		p = &AddNote{}
	case KindAddDep:
		p = &AddDep{}
	case KindRemoveDep:
		p = &RemoveDep{}
	case KindConfigRename:
		p = &ConfigRename{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, probe.Type)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return deref(p), nil
}

// deref returns the payload by value so ops compare and print cleanly.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *CreateIssue:
		return *v
	case *SetStatus:
		return *v
	case *SetTitle:
		return *v
	case *SetType:
		return *v
	case *SetDescription:
		return *v
	case *SetAssignee:
		return *v
	case *AddLabel:
		return *v
	case *RemoveLabel:
		return *v
	case *AddNote:
		return *v
	case *AddDep:
		return *v
	case *RemoveDep:
		return *v
	case *ConfigRename:
		return *v
	}
	return p
}

// SortByID orders ops ascending by HLC id in place. Batch application
// must process ops in id order for deterministic projections.
func SortByID(ops []Op) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID.Less(ops[j].ID) })
}
