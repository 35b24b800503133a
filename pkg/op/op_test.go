package op

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/daviddao/drift/pkg/hlc"
)

func TestMarshalInlinesTypeTag(t *testing.T) {
	o := Op{
		ID:      hlc.HLC{WallMS: 1700000000000, Counter: 0, NodeID: 42},
		Payload: CreateIssue{ID: "prj-abcd", IssueType: "task", Title: "wire the relay"},
	}
	b, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{
		`"wall_ms":1700000000000`,
		`"node_id":42`,
		`"type":"create_issue"`,
		`"issue_type":"task"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded op missing %s: %s", want, s)
		}
	}
}

func TestRoundTripVariants(t *testing.T) {
	desc := "a description"
	ops := []Op{
		{ID: hlc.HLC{WallMS: 1000, Counter: 0, NodeID: 1}, Payload: CreateIssue{ID: "prj-a", IssueType: "bug", Title: "t"}},
		{ID: hlc.HLC{WallMS: 1000, Counter: 1, NodeID: 1}, Payload: SetStatus{ID: "prj-a", Status: StatusClosed, Reason: "done"}},
		{ID: hlc.HLC{WallMS: 1000, Counter: 2, NodeID: 1}, Payload: SetDescription{ID: "prj-a", Description: &desc}},
		{ID: hlc.HLC{WallMS: 1000, Counter: 3, NodeID: 1}, Payload: SetAssignee{ID: "prj-a", Assignee: nil}},
		{ID: hlc.HLC{WallMS: 1000, Counter: 4, NodeID: 1}, Payload: AddNote{ID: "prj-a", Body: "n", StatusAtTime: StatusOpen}},
		{ID: hlc.HLC{WallMS: 1000, Counter: 5, NodeID: 1}, Payload: AddDep{From: "prj-a", To: "prj-b", Relation: RelationBlocks}},
		{ID: hlc.HLC{WallMS: 1000, Counter: 6, NodeID: 1}, Payload: ConfigRename{OldPrefix: "prj", NewPrefix: "new"}},
	}
	for _, in := range ops {
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal %v: %v", in.Payload.Kind(), err)
		}
		var out Op
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal %v: %v", in.Payload.Kind(), err)
		}
		if out.ID != in.ID {
			t.Errorf("%v: id %v, want %v", in.Payload.Kind(), out.ID, in.ID)
		}
		if out.Payload.Kind() != in.Payload.Kind() {
			t.Errorf("kind %v, want %v", out.Payload.Kind(), in.Payload.Kind())
		}
	}
}

func TestRoundTripNullableFields(t *testing.T) {
	line := `{"id":{"wall_ms":1,"counter":0,"node_id":2},"payload":{"type":"set_assignee","id":"prj-a","assignee":"dana"}}`
	var o Op
	if err := json.Unmarshal([]byte(line), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, ok := o.Payload.(SetAssignee)
	if !ok {
		t.Fatalf("payload is %T, want SetAssignee", o.Payload)
	}
	if p.Assignee == nil || *p.Assignee != "dana" {
		t.Fatalf("assignee = %v, want dana", p.Assignee)
	}

	cleared := `{"id":{"wall_ms":1,"counter":1,"node_id":2},"payload":{"type":"set_assignee","id":"prj-a","assignee":null}}`
	if err := json.Unmarshal([]byte(cleared), &o); err != nil {
		t.Fatalf("unmarshal cleared: %v", err)
	}
	if o.Payload.(SetAssignee).Assignee != nil {
		t.Fatal("null assignee should decode to nil")
	}
}

func TestUnmarshalUnknownPayload(t *testing.T) {
	line := `{"id":{"wall_ms":1,"counter":0,"node_id":2},"payload":{"type":"set_priority","id":"prj-a"}}`
	var o Op
	err := json.Unmarshal([]byte(line), &o)
	if !errors.Is(err, ErrUnknownPayload) {
		t.Fatalf("got %v, want ErrUnknownPayload", err)
	}
}

func TestIssueID(t *testing.T) {
	if got := (AddDep{From: "prj-x", To: "prj-y", Relation: RelationBlocks}).IssueID(); got != "prj-x" {
		t.Fatalf("AddDep.IssueID = %q, want prj-x", got)
	}
	if got := (ConfigRename{OldPrefix: "a", NewPrefix: "b"}).IssueID(); got != "" {
		t.Fatalf("ConfigRename.IssueID = %q, want empty", got)
	}
}

func TestSortByID(t *testing.T) {
	ops := []Op{
		{ID: hlc.HLC{WallMS: 2000, Counter: 0, NodeID: 2}, Payload: SetTitle{ID: "prj-a", Title: "c"}},
		{ID: hlc.HLC{WallMS: 1000, Counter: 0, NodeID: 2}, Payload: SetTitle{ID: "prj-a", Title: "b"}},
		{ID: hlc.HLC{WallMS: 1000, Counter: 0, NodeID: 1}, Payload: SetTitle{ID: "prj-a", Title: "a"}},
	}
	SortByID(ops)
	for i := 1; i < len(ops); i++ {
		if !ops[i-1].ID.Less(ops[i].ID) {
			t.Fatalf("not sorted at %d: %v then %v", i, ops[i-1].ID, ops[i].ID)
		}
	}
}
