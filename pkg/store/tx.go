package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/daviddao/drift/pkg/hlc"
)

// Tx is the short-lived transaction handle the apply engine holds while
// folding one operation. Every mutation of the projection goes through
// a Tx so that each op applies atomically: either the whole effect
// (field write, event row, prefix bookkeeping) lands, or none of it.
type Tx struct {
	tx *sql.Tx
}

// Begin opens a projection transaction.
func (s *Store) Begin() (*Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// WithTx runs fn inside one transaction and commits it, retrying the
// whole attempt on transient SQLite contention. The CLI and the sync
// client share one database file, so any of begin, fn's statements, or
// the commit can hit a transient lock.
func (s *Store) WithTx(fn func(*Tx) error) error {
	return retryOnContention(func() error {
		tx, err := s.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. Safe to defer after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// IssueExists reports whether an issue row exists.
func (t *Tx) IssueExists(id string) (bool, error) {
	var one int
	err := t.tx.QueryRow(`SELECT 1 FROM issues WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// InsertIssue creates a fresh issue row and bumps its prefix count.
// The caller guarantees the id does not exist yet.
func (t *Tx) InsertIssue(id, issueType, title string, h hlc.HLC) error {
	_, err := t.tx.Exec(
		`INSERT INTO issues (id, type, status, title, created_at_ms, updated_at_ms,
		                     type_hlc, title_hlc)
		 VALUES (?, ?, 'open', ?, ?, ?, ?, ?)`,
		id, issueType, title, int64(h.WallMS), int64(h.WallMS),
		clockString(h), clockString(h),
	)
	if err != nil {
		return fmt.Errorf("insert issue %s: %w", id, err)
	}
	_, err = t.tx.Exec(
		`INSERT INTO prefixes (prefix, issue_count) VALUES (?, 1)
		 ON CONFLICT(prefix) DO UPDATE SET issue_count = issue_count + 1`,
		idPrefix(id),
	)
	return err
}

// FieldClocks reads the per-field last-writer HLCs for an issue.
// Returns sql.ErrNoRows when the issue is unknown.
func (t *Tx) FieldClocks(id string) (FieldClocks, error) {
	var raw [5]string
	err := t.tx.QueryRow(
		`SELECT status_hlc, title_hlc, type_hlc, description_hlc, assignee_hlc
		 FROM issues WHERE id = ?`, id,
	).Scan(&raw[0], &raw[1], &raw[2], &raw[3], &raw[4])
	if err != nil {
		return FieldClocks{}, err
	}
	var fc FieldClocks
	for i, dst := range []*hlc.HLC{&fc.Status, &fc.Title, &fc.Type, &fc.Description, &fc.Assignee} {
		if *dst, err = parseClock(raw[i]); err != nil {
			return FieldClocks{}, fmt.Errorf("issue %s clocks: %w", id, err)
		}
	}
	return fc, nil
}

// lwwColumns whitelists the LWW field-to-column mapping. setField
// builds SQL with these names, never with caller input.
var lwwColumns = map[string]string{
	"status":      "status_hlc",
	"title":       "title_hlc",
	"type":        "type_hlc",
	"description": "description_hlc",
	"assignee":    "assignee_hlc",
}

// setField overwrites one LWW column and its clock, touching updated_at.
func (t *Tx) setField(id, field string, value any, h hlc.HLC) error {
	clockCol, ok := lwwColumns[field]
	if !ok {
		return fmt.Errorf("setField: unknown field %q", field)
	}
	_, err := t.tx.Exec(
		`UPDATE issues SET `+field+` = ?, `+clockCol+` = ?, updated_at_ms = ? WHERE id = ?`,
		value, clockString(h), int64(h.WallMS), id,
	)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", field, id, err)
	}
	return nil
}

// SetStatus writes the status field and maintains closed_at: set when
// the issue transitions to closed, cleared when it reopens.
func (t *Tx) SetStatus(id, status string, h hlc.HLC) error {
	if err := t.setField(id, "status", status, h); err != nil {
		return err
	}
	var err error
	if status == "closed" {
		_, err = t.tx.Exec(`UPDATE issues SET closed_at_ms = ? WHERE id = ?`, int64(h.WallMS), id)
	} else {
		_, err = t.tx.Exec(`UPDATE issues SET closed_at_ms = NULL WHERE id = ?`, id)
	}
	return err
}

// SetTitle writes the title field.
func (t *Tx) SetTitle(id, title string, h hlc.HLC) error {
	return t.setField(id, "title", title, h)
}

// SetType writes the type field.
func (t *Tx) SetType(id, issueType string, h hlc.HLC) error {
	return t.setField(id, "type", issueType, h)
}

// SetDescription writes the description field; nil clears it.
func (t *Tx) SetDescription(id string, desc *string, h hlc.HLC) error {
	return t.setField(id, "description", desc, h)
}

// SetAssignee writes the assignee field; nil clears it.
func (t *Tx) SetAssignee(id string, assignee *string, h hlc.HLC) error {
	return t.setField(id, "assignee", assignee, h)
}

// AddLabel adds to the label set. Idempotent.
func (t *Tx) AddLabel(id, label string) error {
	_, err := t.tx.Exec(`INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, id, label)
	return err
}

// RemoveLabel removes from the label set. Idempotent.
func (t *Tx) RemoveLabel(id, label string) error {
	_, err := t.tx.Exec(`DELETE FROM labels WHERE issue_id = ? AND label = ?`, id, label)
	return err
}

// InsertNote appends a note row.
func (t *Tx) InsertNote(id, body, statusAtTime string, h hlc.HLC) error {
	_, err := t.tx.Exec(
		`INSERT INTO notes (issue_id, body, status_at_time, created_at_ms, hlc)
		 VALUES (?, ?, ?, ?, ?)`,
		id, body, statusAtTime, int64(h.WallMS), clockString(h),
	)
	return err
}

// AddDep adds a dependency edge. Idempotent.
func (t *Tx) AddDep(from, to, relation string) error {
	_, err := t.tx.Exec(
		`INSERT OR IGNORE INTO deps (from_id, to_id, relation) VALUES (?, ?, ?)`,
		from, to, relation,
	)
	return err
}

// RemoveDep removes a dependency edge. Idempotent.
func (t *Tx) RemoveDep(from, to, relation string) error {
	_, err := t.tx.Exec(
		`DELETE FROM deps WHERE from_id = ? AND to_id = ? AND relation = ?`,
		from, to, relation,
	)
	return err
}

// BlocksEdges returns every edge of the blocks subgraph, for the cycle
// probe. Edge direction: from blocks to.
func (t *Tx) BlocksEdges() ([]Dep, error) {
	rows, err := t.tx.Query(
		`SELECT from_id, to_id, relation FROM deps WHERE relation = 'blocks'
		 ORDER BY from_id, to_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeps(rows)
}

// InsertEvent appends to the audit trail.
func (t *Tx) InsertEvent(issueID, kind, detail string, h hlc.HLC) error {
	_, err := t.tx.Exec(
		`INSERT INTO events (issue_id, kind, detail, hlc, created_at_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		issueID, kind, detail, clockString(h), int64(h.WallMS),
	)
	return err
}

// RenamePrefix rewrites every id under oldPrefix to newPrefix,
// cascading through labels, notes, deps, and events, and moves the
// prefix-count row. Returns the number of issues renamed.
func (t *Tx) RenamePrefix(oldPrefix, newPrefix string) (int64, error) {
	oldLike := oldPrefix + "-%"
	cut := len(oldPrefix) + 1 // strip "old-"; substr is 1-based

	res, err := t.tx.Exec(
		`UPDATE issues SET id = ? || '-' || substr(id, ?) WHERE id LIKE ?`,
		newPrefix, cut+1, oldLike,
	)
	if err != nil {
		return 0, fmt.Errorf("rename issues %s->%s: %w", oldPrefix, newPrefix, err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	cascade := []struct{ table, col string }{
		{"labels", "issue_id"},
		{"notes", "issue_id"},
		{"events", "issue_id"},
		{"deps", "from_id"},
		{"deps", "to_id"},
	}
	for _, c := range cascade {
		if _, err := t.tx.Exec(
			`UPDATE `+c.table+` SET `+c.col+` = ? || '-' || substr(`+c.col+`, ?) WHERE `+c.col+` LIKE ?`,
			newPrefix, cut+1, oldLike,
		); err != nil {
			return 0, fmt.Errorf("rename %s.%s: %w", c.table, c.col, err)
		}
	}

	if _, err := t.tx.Exec(
		`INSERT INTO prefixes (prefix, issue_count) VALUES (?, ?)
		 ON CONFLICT(prefix) DO UPDATE SET issue_count = issue_count + excluded.issue_count`,
		newPrefix, moved,
	); err != nil {
		return 0, err
	}
	if _, err := t.tx.Exec(
		`UPDATE prefixes SET issue_count = 0 WHERE prefix = ?`, oldPrefix,
	); err != nil {
		return 0, err
	}
	return moved, nil
}
