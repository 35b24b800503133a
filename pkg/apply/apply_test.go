package apply

import (
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/daviddao/drift/pkg/hlc"
	"github.com/daviddao/drift/pkg/op"
	"github.com/daviddao/drift/pkg/oplog"
	"github.com/daviddao/drift/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *oplog.Log) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "issues.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	l, err := oplog.Open(filepath.Join(dir, "oplog.jsonl"))
	if err != nil {
		t.Fatalf("oplog.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return New(s, l), s, l
}

func at(wall uint64, counter, node uint32) hlc.HLC {
	return hlc.HLC{WallMS: wall, Counter: counter, NodeID: node}
}

func mustApply(t *testing.T, e *Engine, o op.Op) {
	t.Helper()
	if _, err := e.Apply(o); err != nil {
		t.Fatalf("Apply(%v %v): %v", o.ID, o.Payload.Kind(), err)
	}
}

func create(t *testing.T, e *Engine, id hlc.HLC, issueID string) {
	t.Helper()
	mustApply(t, e, op.Op{ID: id, Payload: op.CreateIssue{ID: issueID, IssueType: "task", Title: issueID}})
}

// Scenario: two nodes write the same field concurrently; the higher
// node id wins the equal-wall tie on both replicas.
func TestFieldLWWTiebreak(t *testing.T) {
	op1 := op.Op{ID: at(1000, 0, 1), Payload: op.SetTitle{ID: "prj-aaaa", Title: "A"}}
	op2 := op.Op{ID: at(1000, 0, 2), Payload: op.SetTitle{ID: "prj-aaaa", Title: "B"}}

	for name, order := range map[string][]op.Op{
		"forward": {op1, op2},
		"reverse": {op2, op1},
	} {
		e, s, _ := newTestEngine(t)
		create(t, e, at(900, 0, 1), "prj-aaaa")
		for _, o := range order {
			mustApply(t, e, o)
		}
		iss, err := s.GetIssue("prj-aaaa")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if iss.Title != "B" {
			t.Fatalf("%s: title %q, want B", name, iss.Title)
		}
		if iss.Clocks.Title != at(1000, 0, 2) {
			t.Fatalf("%s: title clock %v, want (1000,0,2)", name, iss.Clocks.Title)
		}
	}
}

func TestLWWClockNeverRegresses(t *testing.T) {
	e, s, _ := newTestEngine(t)
	create(t, e, at(100, 0, 1), "prj-a")

	prev := hlc.Zero
	writes := []op.Op{
		{ID: at(300, 0, 1), Payload: op.SetStatus{ID: "prj-a", Status: op.StatusInProgress}},
		{ID: at(200, 0, 1), Payload: op.SetStatus{ID: "prj-a", Status: op.StatusBlocked}}, // stale
		{ID: at(400, 0, 1), Payload: op.SetStatus{ID: "prj-a", Status: op.StatusClosed}},
	}
	for _, o := range writes {
		mustApply(t, e, o)
		iss, err := s.GetIssue("prj-a")
		if err != nil {
			t.Fatal(err)
		}
		if iss.Clocks.Status.Less(prev) {
			t.Fatalf("status clock regressed: %v < %v", iss.Clocks.Status, prev)
		}
		prev = iss.Clocks.Status
	}
	iss, _ := s.GetIssue("prj-a")
	if iss.Status != op.StatusClosed {
		t.Fatalf("status %q, want closed", iss.Status)
	}
	if iss.ClosedAtMS == nil || *iss.ClosedAtMS != 400 {
		t.Fatalf("closed_at %v, want 400", iss.ClosedAtMS)
	}
}

func TestStaleWriteDropsFieldEffectOnly(t *testing.T) {
	e, s, l := newTestEngine(t)
	create(t, e, at(100, 0, 1), "prj-a")
	mustApply(t, e, op.Op{ID: at(300, 0, 1), Payload: op.SetTitle{ID: "prj-a", Title: "newer"}})
	mustApply(t, e, op.Op{ID: at(200, 0, 1), Payload: op.SetTitle{ID: "prj-a", Title: "older"}})

	iss, _ := s.GetIssue("prj-a")
	if iss.Title != "newer" {
		t.Fatalf("title %q, want newer", iss.Title)
	}
	// The stale op still landed in the log.
	if !l.Contains(at(200, 0, 1)) {
		t.Fatal("stale op missing from oplog")
	}
}

func TestDuplicateOpShortCircuits(t *testing.T) {
	e, s, _ := newTestEngine(t)
	create(t, e, at(100, 0, 1), "prj-a")
	o := op.Op{ID: at(6000, 0, 2), Payload: op.SetTitle{ID: "prj-a", Title: "once"}}

	fresh, err := e.Apply(o)
	if err != nil || !fresh {
		t.Fatalf("first Apply: fresh=%v err=%v", fresh, err)
	}
	// Replay with a different payload body: must be ignored entirely.
	replay := op.Op{ID: at(6000, 0, 2), Payload: op.SetTitle{ID: "prj-a", Title: "twice"}}
	fresh, err = e.Apply(replay)
	if err != nil {
		t.Fatalf("replay Apply: %v", err)
	}
	if fresh {
		t.Fatal("replay reported fresh")
	}
	iss, _ := s.GetIssue("prj-a")
	if iss.Title != "once" {
		t.Fatalf("replay mutated projection: %q", iss.Title)
	}
}

func TestCreateIssueIdempotent(t *testing.T) {
	e, s, _ := newTestEngine(t)
	create(t, e, at(100, 0, 1), "prj-a")
	mustApply(t, e, op.Op{ID: at(200, 0, 2), Payload: op.CreateIssue{ID: "prj-a", IssueType: "bug", Title: "other"}})

	iss, _ := s.GetIssue("prj-a")
	if iss.Type != "task" || iss.Title != "prj-a" {
		t.Fatalf("re-create overwrote issue: %+v", iss)
	}
	counts, _ := s.PrefixCounts()
	if counts["prj"] != 1 {
		t.Fatalf("prefix count %d, want 1", counts["prj"])
	}
}

func TestLabelsAreASet(t *testing.T) {
	e, s, _ := newTestEngine(t)
	create(t, e, at(100, 0, 1), "prj-a")
	mustApply(t, e, op.Op{ID: at(200, 0, 1), Payload: op.AddLabel{ID: "prj-a", Label: "urgent"}})
	mustApply(t, e, op.Op{ID: at(201, 0, 1), Payload: op.AddLabel{ID: "prj-a", Label: "urgent"}})
	mustApply(t, e, op.Op{ID: at(202, 0, 1), Payload: op.AddLabel{ID: "prj-a", Label: "backend"}})
	mustApply(t, e, op.Op{ID: at(203, 0, 1), Payload: op.RemoveLabel{ID: "prj-a", Label: "backend"}})

	labels, err := s.Labels("prj-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 1 || labels[0] != "urgent" {
		t.Fatalf("labels = %v, want [urgent]", labels)
	}
}

func TestNotesAppendOnly(t *testing.T) {
	e, s, _ := newTestEngine(t)
	create(t, e, at(100, 0, 1), "prj-a")
	mustApply(t, e, op.Op{ID: at(200, 0, 1), Payload: op.AddNote{ID: "prj-a", Body: "first", StatusAtTime: op.StatusOpen}})
	mustApply(t, e, op.Op{ID: at(150, 0, 2), Payload: op.AddNote{ID: "prj-a", Body: "earlier", StatusAtTime: op.StatusOpen}})

	notes, err := s.Notes("prj-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(notes))
	}
	// Ordered by HLC, and each carries its op's wall time.
	if notes[0].Body != "earlier" || notes[0].CreatedAtMS != 150 {
		t.Fatalf("note[0] = %+v", notes[0])
	}
}

// Scenario: a blocks b, b blocks c; c->a must be rejected identically
// everywhere, leaving an apply_skipped event and the graph unchanged.
func TestBlocksCycleRejected(t *testing.T) {
	e, s, l := newTestEngine(t)
	for i, id := range []string{"prj-a", "prj-b", "prj-c"} {
		create(t, e, at(100+uint64(i), 0, 1), id)
	}
	mustApply(t, e, op.Op{ID: at(200, 0, 1), Payload: op.AddDep{From: "prj-a", To: "prj-b", Relation: op.RelationBlocks}})
	mustApply(t, e, op.Op{ID: at(201, 0, 1), Payload: op.AddDep{From: "prj-b", To: "prj-c", Relation: op.RelationBlocks}})

	bad := op.Op{ID: at(4000, 0, 5), Payload: op.AddDep{From: "prj-c", To: "prj-a", Relation: op.RelationBlocks}}
	mustApply(t, e, bad)

	deps, _ := s.AllDeps()
	if len(deps) != 2 {
		t.Fatalf("deps = %v, want the original two edges", deps)
	}
	if !l.Contains(bad.ID) {
		t.Fatal("rejected op must stay in the log")
	}
	events, _ := s.Events("prj-c")
	found := false
	for _, ev := range events {
		if ev.Kind == store.EventApplySkipped && ev.HLC == bad.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("no apply_skipped event for the cycle, events: %+v", events)
	}
}

func TestDepOnUnknownIssueSkipped(t *testing.T) {
	e, s, _ := newTestEngine(t)
	create(t, e, at(100, 0, 1), "prj-a")
	mustApply(t, e, op.Op{ID: at(200, 0, 1), Payload: op.AddDep{From: "prj-a", To: "prj-ghost", Relation: op.RelationBlocks}})

	deps, _ := s.AllDeps()
	if len(deps) != 0 {
		t.Fatalf("deps = %v, want none", deps)
	}
}

// Scenario: rename old-* to new-*, cascading labels, notes, deps, and
// events, and moving the prefix counts.
func TestConfigRenameCascades(t *testing.T) {
	e, s, _ := newTestEngine(t)
	create(t, e, at(100, 0, 1), "old-1111")
	create(t, e, at(101, 0, 1), "old-2222")
	mustApply(t, e, op.Op{ID: at(200, 0, 1), Payload: op.AddLabel{ID: "old-1111", Label: "urgent"}})
	mustApply(t, e, op.Op{ID: at(201, 0, 1), Payload: op.AddLabel{ID: "old-2222", Label: "urgent"}})
	mustApply(t, e, op.Op{ID: at(202, 0, 1), Payload: op.AddNote{ID: "old-1111", Body: "n", StatusAtTime: op.StatusOpen}})
	mustApply(t, e, op.Op{ID: at(203, 0, 1), Payload: op.AddDep{From: "old-1111", To: "old-2222", Relation: op.RelationBlocks}})

	mustApply(t, e, op.Op{ID: at(3000, 0, 3), Payload: op.ConfigRename{OldPrefix: "old", NewPrefix: "new"}})

	if _, err := s.GetIssue("old-1111"); err == nil {
		t.Fatal("old id still addressable")
	}
	iss, err := s.GetIssue("new-1111")
	if err != nil {
		t.Fatalf("renamed issue: %v", err)
	}
	if iss.ID != "new-1111" {
		t.Fatalf("id = %q", iss.ID)
	}
	labels, _ := s.Labels("new-1111")
	if len(labels) != 1 || labels[0] != "urgent" {
		t.Fatalf("labels after rename = %v", labels)
	}
	notes, _ := s.Notes("new-1111")
	if len(notes) != 1 {
		t.Fatalf("notes after rename = %v", notes)
	}
	deps, _ := s.AllDeps()
	if len(deps) != 1 || deps[0].From != "new-1111" || deps[0].To != "new-2222" {
		t.Fatalf("deps after rename = %v", deps)
	}
	events, _ := s.Events("new-1111")
	if len(events) == 0 {
		t.Fatal("events not retargeted")
	}
	counts, _ := s.PrefixCounts()
	if counts["new"] != 2 || counts["old"] != 0 {
		t.Fatalf("prefix counts = %v, want new:2 old:0", counts)
	}
}

// projection captures everything replicas must agree on.
type projection struct {
	Issues []store.Issue
	Labels map[string][]string
	Deps   []store.Dep
	Notes  map[string][]string
}

func snapshotProjection(t *testing.T, s *store.Store) projection {
	t.Helper()
	issues, err := s.ListIssues("")
	if err != nil {
		t.Fatal(err)
	}
	labels, err := s.AllLabels()
	if err != nil {
		t.Fatal(err)
	}
	deps, err := s.AllDeps()
	if err != nil {
		t.Fatal(err)
	}
	notes := make(map[string][]string)
	for _, iss := range issues {
		ns, err := s.Notes(iss.ID)
		if err != nil {
			t.Fatal(err)
		}
		for _, n := range ns {
			notes[iss.ID] = append(notes[iss.ID], n.Body)
		}
	}
	return projection{Issues: issues, Labels: labels, Deps: deps, Notes: notes}
}

// Convergence: the same multiset of ops, delivered in different orders,
// produces identical projections.
func TestConvergenceUnderShuffledDelivery(t *testing.T) {
	desc := "described"
	dana := "dana"
	ops := []op.Op{
		{ID: at(1000, 0, 1), Payload: op.CreateIssue{ID: "prj-a", IssueType: "task", Title: "a"}},
		{ID: at(1001, 0, 2), Payload: op.CreateIssue{ID: "prj-b", IssueType: "bug", Title: "b"}},
		{ID: at(1002, 0, 1), Payload: op.SetTitle{ID: "prj-a", Title: "A1"}},
		{ID: at(1002, 0, 2), Payload: op.SetTitle{ID: "prj-a", Title: "A2"}},
		{ID: at(1003, 0, 1), Payload: op.SetStatus{ID: "prj-b", Status: op.StatusInProgress}},
		{ID: at(1004, 0, 2), Payload: op.SetDescription{ID: "prj-a", Description: &desc}},
		{ID: at(1005, 0, 1), Payload: op.SetAssignee{ID: "prj-b", Assignee: &dana}},
		{ID: at(1006, 0, 2), Payload: op.AddLabel{ID: "prj-a", Label: "urgent"}},
		{ID: at(1007, 0, 1), Payload: op.RemoveLabel{ID: "prj-a", Label: "urgent"}},
		{ID: at(1008, 0, 2), Payload: op.AddLabel{ID: "prj-b", Label: "backend"}},
		{ID: at(1009, 0, 1), Payload: op.AddNote{ID: "prj-a", Body: "note-1", StatusAtTime: op.StatusOpen}},
		{ID: at(1010, 0, 2), Payload: op.AddDep{From: "prj-a", To: "prj-b", Relation: op.RelationBlocks}},
		{ID: at(1011, 0, 1), Payload: op.AddDep{From: "prj-b", To: "prj-a", Relation: op.RelationBlocks}}, // cycle, skipped
		{ID: at(1012, 0, 2), Payload: op.SetStatus{ID: "prj-a", Status: op.StatusClosed, Reason: "done"}},
	}

	e1, s1, _ := newTestEngine(t)
	if _, err := e1.ApplyAll(ops); err != nil {
		t.Fatalf("replica 1: %v", err)
	}
	want := snapshotProjection(t, s1)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 3; trial++ {
		shuffled := make([]op.Op, len(ops))
		copy(shuffled, ops)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		e2, s2, _ := newTestEngine(t)
		// ApplyAll re-sorts by id, so arrival order cannot matter.
		if _, err := e2.ApplyAll(shuffled); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		got := snapshotProjection(t, s2)
		if !reflect.DeepEqual(got.Labels, want.Labels) {
			t.Fatalf("trial %d: labels diverged: %v vs %v", trial, got.Labels, want.Labels)
		}
		if !reflect.DeepEqual(got.Deps, want.Deps) {
			t.Fatalf("trial %d: deps diverged: %v vs %v", trial, got.Deps, want.Deps)
		}
		if !reflect.DeepEqual(got.Notes, want.Notes) {
			t.Fatalf("trial %d: notes diverged: %v vs %v", trial, got.Notes, want.Notes)
		}
		if len(got.Issues) != len(want.Issues) {
			t.Fatalf("trial %d: issue counts diverged", trial)
		}
		for i := range want.Issues {
			w, g := want.Issues[i], got.Issues[i]
			// updated_at tracks delivery order; everything else must match.
			g.UpdatedAtMS = w.UpdatedAtMS
			if !reflect.DeepEqual(w, g) {
				t.Fatalf("trial %d: issue %s diverged:\n got %+v\nwant %+v", trial, w.ID, g, w)
			}
		}
	}
}
