package index

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists name indexes in a single SQLite database, one row per
// record. It suits replicas with very large directory counts where rewriting
// a single JSON document on every pass would dominate the sync time.
//
// Writes go straight to the database; SQLite batches them in transactions,
// so the StoreConfig throttle is not consulted.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS name_index (
	dir      TEXT    NOT NULL,
	name     TEXT    NOT NULL,
	path     TEXT    NOT NULL,
	size     INTEGER,
	mod_time INTEGER NOT NULL,
	modified INTEGER NOT NULL,
	deleted  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (dir, name)
);
CREATE INDEX IF NOT EXISTS idx_name_index_dir ON name_index (dir);
`

// NewSQLiteStore opens (or creates) a SQLite-backed index store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not open index database %s: %w", dbPath, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize index schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns the persisted index for a directory, or nil when unindexed.
func (s *SQLiteStore) Load(dirPath string) (NameIndex, error) {
	rows, err := s.db.Query(
		`SELECT name, path, size, mod_time, modified, deleted FROM name_index WHERE dir = ?`,
		dirPath,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query index for %s: %w", dirPath, err)
	}
	defer rows.Close()

	var ni NameIndex
	for rows.Next() {
		var name, path string
		var size sql.NullInt64
		var modTime, modified, deleted int64
		if err := rows.Scan(&name, &path, &size, &modTime, &modified, &deleted); err != nil {
			return nil, fmt.Errorf("could not scan index row for %s: %w", dirPath, err)
		}
		obj := &FileObject{Path: path, Name: name, ModTime: modTime}
		if size.Valid {
			v := size.Int64
			obj.Size = &v
		}
		if ni == nil {
			ni = make(NameIndex)
		}
		ni[name] = &Record{Object: obj, Modified: modified, Deleted: deleted}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not read index rows for %s: %w", dirPath, err)
	}
	return ni, nil
}

// Save replaces the stored index for a directory inside one transaction.
func (s *SQLiteStore) Save(dirPath string, ni NameIndex) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin index transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM name_index WHERE dir = ?`, dirPath); err != nil {
		return fmt.Errorf("could not clear index for %s: %w", dirPath, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO name_index (dir, name, path, size, mod_time, modified, deleted) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("could not prepare index insert: %w", err)
	}
	defer stmt.Close()

	for name, rec := range ni {
		if rec == nil || rec.Object == nil {
			continue
		}
		var size any
		if rec.Object.Size != nil {
			size = *rec.Object.Size
		}
		if _, err := stmt.Exec(dirPath, name, rec.Object.Path, size, rec.Object.ModTime, rec.Modified, rec.Deleted); err != nil {
			return fmt.Errorf("could not insert index record %s/%s: %w", dirPath, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit index for %s: %w", dirPath, err)
	}
	return nil
}

// DeleteTree drops the index of dirPath and of every descendant directory.
func (s *SQLiteStore) DeleteTree(dirPath string) error {
	prefix := strings.TrimSuffix(dirPath, "/") + "/%"
	if _, err := s.db.Exec(
		`DELETE FROM name_index WHERE dir = ? OR dir LIKE ?`, dirPath, prefix,
	); err != nil {
		return fmt.Errorf("could not delete index tree %s: %w", dirPath, err)
	}
	return nil
}

// Flush is a no-op; every Save is already durable.
func (s *SQLiteStore) Flush() error { return nil }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
