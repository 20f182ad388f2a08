package store

import "database/sql"

// SchemaVersion identifies the on-disk layout. Open refuses stores written
// with a different version; there is no migration path.
const SchemaVersion = 1

const ddl = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    path         TEXT PRIMARY KEY,
    hash         TEXT NOT NULL,
    entity_count INTEGER NOT NULL DEFAULT 0,
    indexed_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entities (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    fqname          TEXT NOT NULL UNIQUE,
    kind            TEXT NOT NULL CHECK (kind IN ('module','class','function','method','variable')),
    signature       TEXT NOT NULL DEFAULT '',
    docstring       TEXT NOT NULL DEFAULT '',
    summary         TEXT,
    summary_backend TEXT,
    summary_error   TEXT,
    source_path     TEXT NOT NULL,
    start_line      INTEGER NOT NULL,
    start_col       INTEGER NOT NULL DEFAULT 0,
    end_line        INTEGER NOT NULL,
    end_col         INTEGER NOT NULL DEFAULT 0,
    content_hash    TEXT NOT NULL,
    parent_fqname   TEXT,
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_source_path ON entities(source_path);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);

CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
    fqname, signature, docstring, summary,
    content='entities',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS entities_ai AFTER INSERT ON entities BEGIN
    INSERT INTO entities_fts(rowid, fqname, signature, docstring, summary)
    VALUES (new.id, new.fqname, new.signature, new.docstring, new.summary);
END;

CREATE TRIGGER IF NOT EXISTS entities_ad AFTER DELETE ON entities BEGIN
    INSERT INTO entities_fts(entities_fts, rowid, fqname, signature, docstring, summary)
    VALUES ('delete', old.id, old.fqname, old.signature, old.docstring, old.summary);
END;

CREATE TRIGGER IF NOT EXISTS entities_au AFTER UPDATE ON entities BEGIN
    INSERT INTO entities_fts(entities_fts, rowid, fqname, signature, docstring, summary)
    VALUES ('delete', old.id, old.fqname, old.signature, old.docstring, old.summary);
    INSERT INTO entities_fts(rowid, fqname, signature, docstring, summary)
    VALUES (new.id, new.fqname, new.signature, new.docstring, new.summary);
END;
`

// Init creates the schema tables, the FTS5 mirror, and its sync triggers
// if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(ddl)
	return err
}
