package store

// Entity is one extracted code symbol as persisted in the index.
// Optional text columns (summary, summary_backend, summary_error,
// parent_fqname) read back as "" when unset.
type Entity struct {
	ID             int64
	FQName         string
	Kind           string
	Signature      string
	Docstring      string
	Summary        string
	SummaryBackend string
	SummaryError   string
	SourcePath     string
	StartLine      int
	StartCol       int
	EndLine        int
	EndCol         int
	ContentHash    string
	ParentFQName   string
	UpdatedAt      string
}

// FileRecord tracks one indexed source file for change detection and
// orphan pruning.
type FileRecord struct {
	Path        string
	Hash        string
	EntityCount int
	IndexedAt   string
}

// NameRef is a lightweight (fqname, kind) pair used by fuzzy lookup scans.
type NameRef struct {
	FQName string `json:"fqname"`
	Kind   string `json:"kind"`
}

// SearchResult is an entity with its relevance score, higher is better.
type SearchResult struct {
	Entity Entity
	Score  float64
}

// Counts summarizes index contents.
type Counts struct {
	Files    int
	Entities int
	ByKind   map[string]int
}
