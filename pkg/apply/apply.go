// Package apply implements the deterministic merge function that folds
// operations into the relational projection.
//
// The engine owns the one rule everything else leans on: given the same
// multiset of ops, every replica produces an identical projection. That
// falls out of three properties: the oplog accepts each id exactly
// once, per-field conflicts resolve by last-writer-wins on the HLC id,
// and every data-dependent rejection (cycle, unknown issue) is a pure
// function of state that all replicas share at that HLC.
package apply

import (
	"fmt"

	"github.com/daviddao/drift/pkg/depgraph"
	"github.com/daviddao/drift/pkg/op"
	"github.com/daviddao/drift/pkg/oplog"
	"github.com/daviddao/drift/pkg/store"
)

// Engine folds ops into one store, gated by one oplog.
type Engine struct {
	store *store.Store
	log   *oplog.Log
}

// New returns an engine writing through the given store and oplog.
func New(s *store.Store, l *oplog.Log) *Engine {
	return &Engine{store: s, log: l}
}

// Apply persists o to the oplog and folds it into the projection.
// Returns false if the id was already present (dedup short-circuit:
// the projection is untouched). The oplog append is the single point
// of truth; a projection error leaves the op in the log and rolls the
// projection transaction back.
func (e *Engine) Apply(o op.Op) (bool, error) {
	appended, err := e.log.Append(o)
	if err != nil {
		return false, err
	}
	if !appended {
		return false, nil
	}
	if err := e.project(o); err != nil {
		return true, fmt.Errorf("apply %v: %w", o.ID, err)
	}
	return true, nil
}

// ApplyAll folds a batch in ascending id order, as determinism
// requires. Returns the number of newly-appended ops.
func (e *Engine) ApplyAll(ops []op.Op) (int, error) {
	sorted := make([]op.Op, len(ops))
	copy(sorted, ops)
	op.SortByID(sorted)
	applied := 0
	for _, o := range sorted {
		fresh, err := e.Apply(o)
		if err != nil {
			return applied, err
		}
		if fresh {
			applied++
		}
	}
	return applied, nil
}

// project runs one op's effect in a single transaction, retried on
// transient SQLite contention so the CLI and the sync client can fold
// concurrently.
func (e *Engine) project(o op.Op) error {
	return e.store.WithTx(func(tx *store.Tx) error {
		return fold(tx, o)
	})
}

// fold dispatches one payload onto the transaction. Data-dependent
// rejections (unknown issue, cycle) are recorded as apply_skipped
// events and succeed: the op stays in the log so every replica skips
// identically.
func fold(tx *store.Tx, o op.Op) error {
	switch p := o.Payload.(type) {
	case op.CreateIssue:
		exists, err := tx.IssueExists(p.ID)
		if err != nil {
			return err
		}
		if exists {
			return nil // idempotent re-create
		}
		if err := tx.InsertIssue(p.ID, p.IssueType, p.Title, o.ID); err != nil {
			return err
		}
		return tx.InsertEvent(p.ID, string(op.KindCreateIssue), p.Title, o.ID)

	case op.SetStatus:
		return foldLWW(tx, o, p.ID, func(fc store.FieldClocks) bool { return o.ID.After(fc.Status) },
			func() error {
				if err := tx.SetStatus(p.ID, p.Status, o.ID); err != nil {
					return err
				}
				detail := p.Status
				if p.Reason != "" {
					detail += ": " + p.Reason
				}
				return tx.InsertEvent(p.ID, string(op.KindSetStatus), detail, o.ID)
			})

	case op.SetTitle:
		return foldLWW(tx, o, p.ID, func(fc store.FieldClocks) bool { return o.ID.After(fc.Title) },
			func() error {
				if err := tx.SetTitle(p.ID, p.Title, o.ID); err != nil {
					return err
				}
				return tx.InsertEvent(p.ID, string(op.KindSetTitle), p.Title, o.ID)
			})

	case op.SetType:
		return foldLWW(tx, o, p.ID, func(fc store.FieldClocks) bool { return o.ID.After(fc.Type) },
			func() error {
				if err := tx.SetType(p.ID, p.IssueType, o.ID); err != nil {
					return err
				}
				return tx.InsertEvent(p.ID, string(op.KindSetType), p.IssueType, o.ID)
			})

	case op.SetDescription:
		return foldLWW(tx, o, p.ID, func(fc store.FieldClocks) bool { return o.ID.After(fc.Description) },
			func() error {
				if err := tx.SetDescription(p.ID, p.Description, o.ID); err != nil {
					return err
				}
				return tx.InsertEvent(p.ID, string(op.KindSetDescription), "", o.ID)
			})

	case op.SetAssignee:
		return foldLWW(tx, o, p.ID, func(fc store.FieldClocks) bool { return o.ID.After(fc.Assignee) },
			func() error {
				if err := tx.SetAssignee(p.ID, p.Assignee, o.ID); err != nil {
					return err
				}
				detail := ""
				if p.Assignee != nil {
					detail = *p.Assignee
				}
				return tx.InsertEvent(p.ID, string(op.KindSetAssignee), detail, o.ID)
			})

	case op.AddLabel:
		return foldOnExisting(tx, o, p.ID, func() error {
			if err := tx.AddLabel(p.ID, p.Label); err != nil {
				return err
			}
			return tx.InsertEvent(p.ID, string(op.KindAddLabel), p.Label, o.ID)
		})

	case op.RemoveLabel:
		return foldOnExisting(tx, o, p.ID, func() error {
			if err := tx.RemoveLabel(p.ID, p.Label); err != nil {
				return err
			}
			return tx.InsertEvent(p.ID, string(op.KindRemoveLabel), p.Label, o.ID)
		})

	case op.AddNote:
		return foldOnExisting(tx, o, p.ID, func() error {
			if err := tx.InsertNote(p.ID, p.Body, p.StatusAtTime, o.ID); err != nil {
				return err
			}
			return tx.InsertEvent(p.ID, string(op.KindAddNote), "", o.ID)
		})

	case op.AddDep:
		fromOK, err := tx.IssueExists(p.From)
		if err != nil {
			return err
		}
		toOK, err := tx.IssueExists(p.To)
		if err != nil {
			return err
		}
		if !fromOK || !toOK {
			return skip(tx, o, p.From, "unknown issue in dep "+p.From+" -> "+p.To)
		}
		if p.Relation == op.RelationBlocks {
			edges, err := tx.BlocksEdges()
			if err != nil {
				return err
			}
			if depgraph.WouldCycle(edges, p.From, p.To) {
				return skip(tx, o, p.From, "blocks cycle "+p.From+" -> "+p.To)
			}
		}
		if err := tx.AddDep(p.From, p.To, p.Relation); err != nil {
			return err
		}
		return tx.InsertEvent(p.From, string(op.KindAddDep), p.Relation+" "+p.To, o.ID)

	case op.RemoveDep:
		if err := tx.RemoveDep(p.From, p.To, p.Relation); err != nil {
			return err
		}
		return tx.InsertEvent(p.From, string(op.KindRemoveDep), p.Relation+" "+p.To, o.ID)

	case op.ConfigRename:
		moved, err := tx.RenamePrefix(p.OldPrefix, p.NewPrefix)
		if err != nil {
			return err
		}
		detail := fmt.Sprintf("%s -> %s (%d issues)", p.OldPrefix, p.NewPrefix, moved)
		return tx.InsertEvent("", string(op.KindConfigRename), detail, o.ID)

	default:
		// Unknown payloads cannot get here: decoding rejects them.
		return fmt.Errorf("fold: unhandled payload %T", o.Payload)
	}
}

// foldLWW applies set when the op's id beats the field's last-writer
// clock; stale writes drop silently (the op itself stays in the log).
func foldLWW(tx *store.Tx, o op.Op, issueID string, wins func(store.FieldClocks) bool, set func() error) error {
	exists, err := tx.IssueExists(issueID)
	if err != nil {
		return err
	}
	if !exists {
		return skip(tx, o, issueID, "unknown issue "+issueID)
	}
	fc, err := tx.FieldClocks(issueID)
	if err != nil {
		return err
	}
	if !wins(fc) {
		return nil
	}
	return set()
}

// foldOnExisting applies set iff the issue exists, else records a skip.
func foldOnExisting(tx *store.Tx, o op.Op, issueID string, set func() error) error {
	exists, err := tx.IssueExists(issueID)
	if err != nil {
		return err
	}
	if !exists {
		return skip(tx, o, issueID, "unknown issue "+issueID)
	}
	return set()
}

// skip records an apply_skipped audit event in place of the effect.
func skip(tx *store.Tx, o op.Op, issueID, detail string) error {
	return tx.InsertEvent(issueID, store.EventApplySkipped, detail, o.ID)
}
