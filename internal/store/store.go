package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrSchemaVersionMismatch is returned by Open when the store was written
// with a different schema version. The core never migrates.
var ErrSchemaVersionMismatch = errors.New("store schema version mismatch")

// Store provides persistence for indexed entities and file records.
type Store interface {
	// FileHash returns the stored whole-file hash for a path, or "" if not indexed.
	FileHash(path string) (string, error)
	// ReplaceFile atomically replaces all entities for a source path with the
	// given batch, carrying over summaries of entities whose content hash is
	// unchanged. It returns the fqnames skipped because another file already
	// claims them.
	ReplaceFile(path, fileHash string, entities []Entity) (skipped []string, err error)
	// PruneFilesExcept deletes file records and their entities for every path
	// not present in seen. Returns the number of files pruned.
	PruneFilesExcept(seen map[string]bool) (int, error)
	// EntityByFQName returns the entity with the exact fqname, or nil.
	EntityByFQName(fqname string) (*Entity, error)
	// EntitiesByShortName returns entities whose final name segment matches
	// name case-insensitively, ordered by fqname. Callers filter for exact case.
	EntitiesByShortName(name string) ([]Entity, error)
	// ListNames returns (fqname, kind) for every entity, ordered by fqname.
	ListNames() ([]NameRef, error)
	// KindsByFQName returns the kind for each of the given fqnames that
	// exists in the index.
	KindsByFQName(fqnames []string) (map[string]string, error)
	// SearchFTS runs a full-text query over fqname/signature/docstring/summary
	// and returns results best-first. A query that trips FTS5 syntax is retried
	// as a quoted phrase.
	SearchFTS(query string, kinds []string, limit int) ([]SearchResult, error)
	// EntitiesMissingSummary returns up to limit entities with no summary,
	// ordered by kind then fqname. Variables are excluded; they are never
	// summarized.
	EntitiesMissingSummary(limit int) ([]Entity, error)
	// SetSummary stores a generated summary and its backend, clearing any
	// recorded summarizer error.
	SetSummary(id int64, summary, backend string) error
	// SetSummaryError records a per-entity summarizer failure.
	SetSummaryError(id int64, msg string) error
	// Counts reports index contents.
	Counts() (*Counts, error)
	// GetMeta returns a metadata value by key, or "" if not set.
	GetMeta(key string) (string, error)
	// SetMeta sets a metadata key-value pair.
	SetMeta(key, value string) error
	// Close closes the underlying database.
	Close() error
}

// SQLiteStore implements Store backed by SQLite with an FTS5 mirror.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path, initializes the
// schema, and verifies the schema version.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Writes are serialized through a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := checkVersion(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func checkVersion(db *sql.DB) error {
	var v string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		_, err = db.Exec(
			`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(SchemaVersion),
		)
		return err
	}
	if err != nil {
		return err
	}
	if v != strconv.Itoa(SchemaVersion) {
		return fmt.Errorf("%w: store has v%s, this build expects v%d", ErrSchemaVersionMismatch, v, SchemaVersion)
	}
	return nil
}

// DB exposes the underlying handle for read-only diagnostics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) FileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func (s *SQLiteStore) ReplaceFile(path, fileHash string, entities []Entity) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Snapshot prior summary state so unchanged entities keep theirs.
	type prior struct {
		hash    string
		summary string
		backend string
		errMsg  string
	}
	old := make(map[string]prior)
	rows, err := tx.Query(`
		SELECT fqname, content_hash, COALESCE(summary, ''), COALESCE(summary_backend, ''), COALESCE(summary_error, '')
		FROM entities WHERE source_path = ?`, path)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var fq string
		var p prior
		if err := rows.Scan(&fq, &p.hash, &p.summary, &p.backend, &p.errMsg); err != nil {
			rows.Close()
			return nil, err
		}
		old[fq] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM entities WHERE source_path = ?`, path); err != nil {
		return nil, err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO entities (
			fqname, kind, signature, docstring,
			summary, summary_backend, summary_error,
			source_path, start_line, start_col, end_line, end_col,
			content_hash, parent_fqname, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(fqname) DO NOTHING`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var skipped []string
	for _, e := range entities {
		if p, ok := old[e.FQName]; ok && p.hash == e.ContentHash {
			e.Summary = p.summary
			e.SummaryBackend = p.backend
			e.SummaryError = p.errMsg
		}
		res, err := stmt.Exec(
			e.FQName, e.Kind, e.Signature, e.Docstring,
			nullable(e.Summary), nullable(e.SummaryBackend), nullable(e.SummaryError),
			path, e.StartLine, e.StartCol, e.EndLine, e.EndCol,
			e.ContentHash, nullable(e.ParentFQName),
		)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", e.FQName, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// fqname already claimed by another file; first writer wins.
			skipped = append(skipped, e.FQName)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO files (path, hash, entity_count, indexed_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			entity_count = excluded.entity_count,
			indexed_at = excluded.indexed_at`,
		path, fileHash, len(entities)-len(skipped))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return skipped, nil
}

func (s *SQLiteStore) PruneFilesExcept(seen map[string]bool) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT path FROM files`)
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		if !seen[p] {
			stale = append(stale, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range stale {
		if _, err := tx.Exec(`DELETE FROM entities WHERE source_path = ?`, p); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`DELETE FROM files WHERE path = ?`, p); err != nil {
			return 0, err
		}
	}
	// Sweep entities whose file record is gone entirely.
	if _, err := tx.Exec(`DELETE FROM entities WHERE source_path NOT IN (SELECT path FROM files)`); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

const entityCols = `e.id, e.fqname, e.kind, e.signature, e.docstring,
	COALESCE(e.summary, ''), COALESCE(e.summary_backend, ''), COALESCE(e.summary_error, ''),
	e.source_path, e.start_line, e.start_col, e.end_line, e.end_col,
	e.content_hash, COALESCE(e.parent_fqname, ''), e.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(r rowScanner) (*Entity, error) {
	var e Entity
	err := r.Scan(
		&e.ID, &e.FQName, &e.Kind, &e.Signature, &e.Docstring,
		&e.Summary, &e.SummaryBackend, &e.SummaryError,
		&e.SourcePath, &e.StartLine, &e.StartCol, &e.EndLine, &e.EndCol,
		&e.ContentHash, &e.ParentFQName, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) EntityByFQName(fqname string) (*Entity, error) {
	row := s.db.QueryRow(`SELECT `+entityCols+` FROM entities e WHERE e.fqname = ?`, fqname)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) EntitiesByShortName(name string) ([]Entity, error) {
	rows, err := s.db.Query(`
		SELECT `+entityCols+` FROM entities e
		WHERE lower(e.fqname) = lower(?1) OR lower(e.fqname) LIKE '%.' || lower(?1)
		ORDER BY e.fqname`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (s *SQLiteStore) ListNames() ([]NameRef, error) {
	rows, err := s.db.Query(`SELECT fqname, kind FROM entities ORDER BY fqname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []NameRef
	for rows.Next() {
		var r NameRef
		if err := rows.Scan(&r.FQName, &r.Kind); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *SQLiteStore) KindsByFQName(fqnames []string) (map[string]string, error) {
	out := make(map[string]string, len(fqnames))
	if len(fqnames) == 0 {
		return out, nil
	}
	args := make([]any, len(fqnames))
	for i, fq := range fqnames {
		args[i] = fq
	}
	rows, err := s.db.Query(
		`SELECT fqname, kind FROM entities WHERE fqname IN (?`+strings.Repeat(", ?", len(fqnames)-1)+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var fq, kind string
		if err := rows.Scan(&fq, &kind); err != nil {
			return nil, err
		}
		out[fq] = kind
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SearchFTS(query string, kinds []string, limit int) ([]SearchResult, error) {
	res, err := s.searchFTS(query, query, kinds, limit)
	if err != nil && isFTSSyntaxErr(err) {
		// Stray FTS5 operators in the query; retry as a literal phrase.
		return s.searchFTS(ftsPhrase(query), query, kinds, limit)
	}
	return res, err
}

func (s *SQLiteStore) searchFTS(match, raw string, kinds []string, limit int) ([]SearchResult, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT ` + entityCols + `,
		       (CASE
		            WHEN e.fqname = ? THEN 1000.0
		            WHEN e.fqname LIKE '%.' || ? THEN 600.0
		            WHEN instr(lower(e.fqname), lower(?)) > 0 THEN 250.0
		            ELSE 0.0
		        END) - bm25(entities_fts, 4.0, 2.0, 1.0, 1.0) AS score
		FROM entities_fts
		JOIN entities e ON e.id = entities_fts.rowid
		WHERE entities_fts MATCH ?`)
	args := []any{raw, raw, raw, match}

	if len(kinds) > 0 {
		sb.WriteString(` AND e.kind IN (?` + strings.Repeat(", ?", len(kinds)-1) + `)`)
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	sb.WriteString(`
		ORDER BY score DESC, e.fqname ASC
		LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		err := rows.Scan(
			&r.Entity.ID, &r.Entity.FQName, &r.Entity.Kind, &r.Entity.Signature, &r.Entity.Docstring,
			&r.Entity.Summary, &r.Entity.SummaryBackend, &r.Entity.SummaryError,
			&r.Entity.SourcePath, &r.Entity.StartLine, &r.Entity.StartCol, &r.Entity.EndLine, &r.Entity.EndCol,
			&r.Entity.ContentHash, &r.Entity.ParentFQName, &r.Entity.UpdatedAt,
			&r.Score,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) EntitiesMissingSummary(limit int) ([]Entity, error) {
	rows, err := s.db.Query(`
		SELECT `+entityCols+` FROM entities e
		WHERE (e.summary IS NULL OR e.summary = '')
		  AND e.kind IN ('module', 'class', 'function', 'method')
		ORDER BY e.kind, e.fqname
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (s *SQLiteStore) SetSummary(id int64, summary, backend string) error {
	_, err := s.db.Exec(`
		UPDATE entities
		SET summary = ?, summary_backend = ?, summary_error = NULL, updated_at = datetime('now')
		WHERE id = ?`, summary, backend, id)
	return err
}

func (s *SQLiteStore) SetSummaryError(id int64, msg string) error {
	_, err := s.db.Exec(`
		UPDATE entities
		SET summary_error = ?, updated_at = datetime('now')
		WHERE id = ?`, msg, id)
	return err
}

func (s *SQLiteStore) Counts() (*Counts, error) {
	c := &Counts{ByKind: make(map[string]int)}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&c.Files); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM entities GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		c.ByKind[kind] = n
		c.Entities += n
	}
	return c, rows.Err()
}

func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func collectEntities(rows *sql.Rows) ([]Entity, error) {
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ftsPhrase wraps a query as a single FTS5 phrase, doubling inner quotes.
func ftsPhrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

func isFTSSyntaxErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "malformed MATCH") ||
		strings.Contains(msg, "unterminated string") ||
		strings.Contains(msg, "no such column")
}
