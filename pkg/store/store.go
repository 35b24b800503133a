// Package store manages the SQLite projection of the oplog.
//
// The store is the queryable face of the system: issues, labels, notes,
// dependencies, and the audit trail, all derived by folding operations.
// It never decides conflicts itself: the apply engine reads the
// per-field HLC columns, picks winners, and writes through a Tx. SQLite
// in WAL mode gives us cheap single-writer transactions and tolerates
// the CLI and the sync client sharing one database file.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/daviddao/drift/pkg/hlc"

	_ "modernc.org/sqlite"
)

// Issue is the projected state of one issue, including the per-field
// last-writer HLCs the merge function needs.
type Issue struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	CreatedAtMS int64   `json:"created_at_ms"`
	UpdatedAtMS int64   `json:"updated_at_ms"`
	ClosedAtMS  *int64  `json:"closed_at_ms,omitempty"`

	Clocks FieldClocks `json:"field_clocks"`
}

// FieldClocks carries the last-writer HLC for every LWW field.
type FieldClocks struct {
	Status      hlc.HLC `json:"status"`
	Title       hlc.HLC `json:"title"`
	Type        hlc.HLC `json:"type"`
	Description hlc.HLC `json:"description"`
	Assignee    hlc.HLC `json:"assignee"`
}

// Note is one append-only note on an issue.
type Note struct {
	ID           int64   `json:"id"`
	IssueID      string  `json:"issue_id"`
	Body         string  `json:"body"`
	StatusAtTime string  `json:"status_at_time"`
	CreatedAtMS  int64   `json:"created_at_ms"`
	HLC          hlc.HLC `json:"hlc"`
}

// Dep is one (from, to, relation) dependency edge.
type Dep struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Event is one entry in the append-only audit trail: one row per
// payload folded into the projection, including apply-skipped records.
type Event struct {
	ID          int64   `json:"id"`
	IssueID     string  `json:"issue_id"`
	Kind        string  `json:"kind"`
	Detail      string  `json:"detail,omitempty"`
	HLC         hlc.HLC `json:"hlc"`
	CreatedAtMS int64   `json:"created_at_ms"`
}

// EventApplySkipped is the event kind recorded when an op is persisted
// but its projection effect is rejected (cycle, unknown issue).
const EventApplySkipped = "apply_skipped"

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations should use this to handle transient SQLite
// errors (BUSY, LOCKED, IOERR_SHORT_READ) when the CLI and the sync
// client touch the database concurrently.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS issues (
		id              TEXT PRIMARY KEY,
		type            TEXT NOT NULL DEFAULT 'task',
		status          TEXT NOT NULL DEFAULT 'open',
		title           TEXT NOT NULL,
		description     TEXT,
		assignee        TEXT,
		created_at_ms   INTEGER NOT NULL,
		updated_at_ms   INTEGER NOT NULL,
		closed_at_ms    INTEGER,
		status_hlc      TEXT NOT NULL DEFAULT '',
		title_hlc       TEXT NOT NULL DEFAULT '',
		type_hlc        TEXT NOT NULL DEFAULT '',
		description_hlc TEXT NOT NULL DEFAULT '',
		assignee_hlc    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);

	CREATE TABLE IF NOT EXISTS labels (
		issue_id TEXT NOT NULL,
		label    TEXT NOT NULL,
		PRIMARY KEY (issue_id, label)
	);

	CREATE TABLE IF NOT EXISTS notes (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id       TEXT NOT NULL,
		body           TEXT NOT NULL,
		status_at_time TEXT NOT NULL DEFAULT '',
		created_at_ms  INTEGER NOT NULL,
		hlc            TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_issue ON notes(issue_id, id);

	CREATE TABLE IF NOT EXISTS deps (
		from_id  TEXT NOT NULL,
		to_id    TEXT NOT NULL,
		relation TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, relation)
	);
	CREATE INDEX IF NOT EXISTS idx_deps_to ON deps(to_id, relation);

	CREATE TABLE IF NOT EXISTS events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id      TEXT NOT NULL,
		kind          TEXT NOT NULL,
		detail        TEXT,
		hlc           TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_issue ON events(issue_id, id);

	CREATE TABLE IF NOT EXISTS prefixes (
		prefix      TEXT PRIMARY KEY,
		issue_count INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Issues (read side)
// ---------------------------------------------------------------------------

const issueColumns = `id, type, status, title, description, assignee,
	created_at_ms, updated_at_ms, closed_at_ms,
	status_hlc, title_hlc, type_hlc, description_hlc, assignee_hlc`

// GetIssue retrieves one issue by id. Returns sql.ErrNoRows (wrapped)
// when the id is unknown.
func (s *Store) GetIssue(id string) (*Issue, error) {
	row := s.db.QueryRow(`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	iss, err := scanIssue(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", id, err)
	}
	return iss, nil
}

// ListIssues returns issues ordered by id, optionally filtered by status.
func (s *Store) ListIssues(status string) ([]Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		iss, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *iss)
	}
	return issues, rows.Err()
}

// CountIssues returns the total number of issues.
func (s *Store) CountIssues() int64 {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM issues`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func scanIssue(scan func(dest ...any) error) (*Issue, error) {
	var (
		iss                                      Issue
		statusH, titleH, typeH, descH, assigneeH string
	)
	if err := scan(&iss.ID, &iss.Type, &iss.Status, &iss.Title,
		&iss.Description, &iss.Assignee,
		&iss.CreatedAtMS, &iss.UpdatedAtMS, &iss.ClosedAtMS,
		&statusH, &titleH, &typeH, &descH, &assigneeH); err != nil {
		return nil, err
	}
	var err error
	if iss.Clocks.Status, err = parseClock(statusH); err != nil {
		return nil, fmt.Errorf("issue %s status_hlc: %w", iss.ID, err)
	}
	if iss.Clocks.Title, err = parseClock(titleH); err != nil {
		return nil, fmt.Errorf("issue %s title_hlc: %w", iss.ID, err)
	}
	if iss.Clocks.Type, err = parseClock(typeH); err != nil {
		return nil, fmt.Errorf("issue %s type_hlc: %w", iss.ID, err)
	}
	if iss.Clocks.Description, err = parseClock(descH); err != nil {
		return nil, fmt.Errorf("issue %s description_hlc: %w", iss.ID, err)
	}
	if iss.Clocks.Assignee, err = parseClock(assigneeH); err != nil {
		return nil, fmt.Errorf("issue %s assignee_hlc: %w", iss.ID, err)
	}
	return &iss, nil
}

// parseClock decodes a stored HLC column; the empty string is the zero
// clock (field never written by an LWW op).
func parseClock(s string) (hlc.HLC, error) {
	if s == "" {
		return hlc.Zero, nil
	}
	return hlc.Parse(s)
}

// ---------------------------------------------------------------------------
// Labels, notes, deps, events (read side)
// ---------------------------------------------------------------------------

// Labels returns the label set of one issue, sorted.
func (s *Store) Labels(issueID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT label FROM labels WHERE issue_id = ? ORDER BY label`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// AllLabels returns every issue's label set, keyed by issue id. Used by
// the relay's snapshot response.
func (s *Store) AllLabels() (map[string][]string, error) {
	rows, err := s.db.Query(`SELECT issue_id, label FROM labels ORDER BY issue_id, label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tags := make(map[string][]string)
	for rows.Next() {
		var id, l string
		if err := rows.Scan(&id, &l); err != nil {
			return nil, err
		}
		tags[id] = append(tags[id], l)
	}
	return tags, rows.Err()
}

// Notes returns an issue's notes in HLC order.
func (s *Store) Notes(issueID string) ([]Note, error) {
	rows, err := s.db.Query(
		`SELECT id, issue_id, body, status_at_time, created_at_ms, hlc
		 FROM notes WHERE issue_id = ? ORDER BY hlc, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []Note
	for rows.Next() {
		var n Note
		var h string
		if err := rows.Scan(&n.ID, &n.IssueID, &n.Body, &n.StatusAtTime, &n.CreatedAtMS, &h); err != nil {
			return nil, err
		}
		var perr error
		if n.HLC, perr = parseClock(h); perr != nil {
			return nil, fmt.Errorf("note %d hlc: %w", n.ID, perr)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Deps returns the dependency edges touching an issue (either side).
func (s *Store) Deps(issueID string) ([]Dep, error) {
	rows, err := s.db.Query(
		`SELECT from_id, to_id, relation FROM deps
		 WHERE from_id = ? OR to_id = ? ORDER BY from_id, to_id, relation`,
		issueID, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeps(rows)
}

// AllDeps returns every dependency edge, ordered deterministically.
func (s *Store) AllDeps() ([]Dep, error) {
	rows, err := s.db.Query(`SELECT from_id, to_id, relation FROM deps ORDER BY from_id, to_id, relation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeps(rows)
}

func scanDeps(rows *sql.Rows) ([]Dep, error) {
	var deps []Dep
	for rows.Next() {
		var d Dep
		if err := rows.Scan(&d.From, &d.To, &d.Relation); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// Events returns an issue's audit trail in HLC order.
func (s *Store) Events(issueID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, issue_id, kind, COALESCE(detail,''), hlc, created_at_ms
		 FROM events WHERE issue_id = ? ORDER BY hlc, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// AllEvents returns the full audit trail in HLC order.
func (s *Store) AllEvents() ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, issue_id, kind, COALESCE(detail,''), hlc, created_at_ms
		 FROM events ORDER BY hlc, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var h string
		if err := rows.Scan(&e.ID, &e.IssueID, &e.Kind, &e.Detail, &h, &e.CreatedAtMS); err != nil {
			return nil, err
		}
		var perr error
		if e.HLC, perr = parseClock(h); perr != nil {
			return nil, fmt.Errorf("event %d hlc: %w", e.ID, perr)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ---------------------------------------------------------------------------
// Prefixes
// ---------------------------------------------------------------------------

// PrefixCounts returns the id-prefix table: how many issues live under
// each prefix. Maintained by CreateIssue and rewritten by ConfigRename.
func (s *Store) PrefixCounts() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT prefix, issue_count FROM prefixes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var p string
		var n int64
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		counts[p] = n
	}
	return counts, rows.Err()
}

// ---------------------------------------------------------------------------
// Snapshot import (sync bootstrap)
// ---------------------------------------------------------------------------

// ImportSnapshot replaces the issue and label projections with the
// relay's snapshot. Fresh clients call this once before subscribing;
// subsequent ops arrive through the apply engine.
func (s *Store) ImportSnapshot(issues []Issue, tags map[string][]string) error {
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		for _, table := range []string{"issues", "labels", "prefixes"} {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return err
			}
		}
		for _, iss := range issues {
			if _, err := tx.Exec(
				`INSERT INTO issues (`+issueColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				iss.ID, iss.Type, iss.Status, iss.Title, iss.Description, iss.Assignee,
				iss.CreatedAtMS, iss.UpdatedAtMS, iss.ClosedAtMS,
				clockString(iss.Clocks.Status), clockString(iss.Clocks.Title),
				clockString(iss.Clocks.Type), clockString(iss.Clocks.Description),
				clockString(iss.Clocks.Assignee),
			); err != nil {
				return fmt.Errorf("import issue %s: %w", iss.ID, err)
			}
			if _, err := tx.Exec(
				`INSERT INTO prefixes (prefix, issue_count) VALUES (?, 1)
				 ON CONFLICT(prefix) DO UPDATE SET issue_count = issue_count + 1`,
				idPrefix(iss.ID),
			); err != nil {
				return err
			}
		}
		for id, labels := range tags {
			for _, l := range labels {
				if _, err := tx.Exec(
					`INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, id, l,
				); err != nil {
					return fmt.Errorf("import label %s/%s: %w", id, l, err)
				}
			}
		}
		return tx.Commit()
	})
}

// clockString encodes an HLC column in the zero-padded sortable form,
// so ORDER BY on the column matches HLC order. The zero clock stores
// as "" (sorts before everything).
func clockString(h hlc.HLC) string {
	if h.IsZero() {
		return ""
	}
	return h.SortKey()
}

// idPrefix returns the portion of an issue id before the last dash,
// e.g. "prj" for "prj-abcd". Ids without a dash are their own prefix.
func idPrefix(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '-' {
			return id[:i]
		}
	}
	return id
}
