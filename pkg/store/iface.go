package store

// Reader is the read-only view of the projection.
type Reader interface {
	// GetIssue retrieves one issue by id.
	GetIssue(id string) (*Issue, error)

	// ListIssues returns issues ordered by id, optionally filtered by status.
	ListIssues(status string) ([]Issue, error)

	// CountIssues returns the total number of issues.
	CountIssues() int64

	// Labels returns the label set of one issue, sorted.
	Labels(issueID string) ([]string, error)

	// AllLabels returns every issue's label set, keyed by issue id.
	AllLabels() (map[string][]string, error)

	// Notes returns an issue's notes in HLC order.
	Notes(issueID string) ([]Note, error)

	// Deps returns dependency edges touching an issue.
	Deps(issueID string) ([]Dep, error)

	// AllDeps returns every dependency edge.
	AllDeps() ([]Dep, error)

	// Events returns an issue's audit trail in HLC order.
	Events(issueID string) ([]Event, error)

	// AllEvents returns the full audit trail in HLC order.
	AllEvents() ([]Event, error)

	// PrefixCounts returns the id-prefix table.
	PrefixCounts() (map[string]int64, error)
}

// Compile-time check that *Store implements Reader.
var _ Reader = (*Store)(nil)
