package refindex

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/agentic-research/formgraph/internal/refsvtab"
	_ "modernc.org/sqlite"
)

// Sidecar is an on-disk SQLite copy of an index: node_refs holds one roaring
// bitmap per token, locations maps bitmap ids to location labels, and the
// formgraph_refs virtual table expands them into (token, location) rows.
type Sidecar struct {
	db   *sql.DB
	path string
	dbID string
}

var sidecarSeq atomic.Uint64

// OpenSidecar creates or opens the sidecar database at path.
func OpenSidecar(path string) (*Sidecar, error) {
	mod, err := refsvtab.Register()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sidecar dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sidecar %s: %w", path, err)
	}
	// One connection for queries, one for the virtual table's lookups.
	db.SetMaxOpenConns(2)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close() // ignore close error
		return nil, fmt.Errorf("set WAL mode on sidecar: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS node_refs (
			token TEXT PRIMARY KEY,
			bitmap BLOB
		);
		CREATE TABLE IF NOT EXISTS locations (
			id INTEGER PRIMARY KEY,
			label TEXT NOT NULL
		);
	`); err != nil {
		_ = db.Close() // ignore close error
		return nil, fmt.Errorf("create sidecar tables: %w", err)
	}

	dbID := fmt.Sprintf("fg_%d_%d", time.Now().UnixNano(), sidecarSeq.Add(1))
	mod.RegisterDB(dbID, db)
	if _, err := db.Exec("DROP TABLE IF EXISTS formgraph_refs"); err != nil {
		mod.UnregisterDB(dbID)
		_ = db.Close() // ignore close error
		return nil, fmt.Errorf("drop stale formgraph_refs: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE VIRTUAL TABLE formgraph_refs USING formgraph_refs(%s)", dbID)); err != nil {
		mod.UnregisterDB(dbID)
		_ = db.Close() // ignore close error
		return nil, fmt.Errorf("create formgraph_refs vtab: %w", err)
	}
	return &Sidecar{db: db, path: path, dbID: dbID}, nil
}

// Flush replaces the sidecar contents with the current state of x in one
// transaction.
func (s *Sidecar) Flush(x *Index) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sidecar flush: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	if _, err := tx.Exec("DELETE FROM node_refs; DELETE FROM locations;"); err != nil {
		return fmt.Errorf("clear sidecar: %w", err)
	}

	locStmt, err := tx.Prepare("INSERT INTO locations (id, label) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare locations insert: %w", err)
	}
	defer func() { _ = locStmt.Close() }() // safe to ignore

	for id, loc := range x.locs {
		if _, err := locStmt.Exec(id, loc.String()); err != nil {
			return fmt.Errorf("insert location %s: %w", loc, err)
		}
	}

	refStmt, err := tx.Prepare("INSERT INTO node_refs (token, bitmap) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare node_refs insert: %w", err)
	}
	defer func() { _ = refStmt.Close() }() // safe to ignore

	var buf bytes.Buffer
	for token, bm := range x.tokens {
		buf.Reset()
		if _, err := bm.WriteTo(&buf); err != nil {
			return fmt.Errorf("serialize bitmap for %s: %w", token, err)
		}
		if _, err := refStmt.Exec(token, buf.Bytes()); err != nil {
			return fmt.Errorf("insert ref %s: %w", token, err)
		}
	}
	return tx.Commit()
}

// Query runs SQL against the sidecar, including formgraph_refs.
func (s *Sidecar) Query(query string, args ...any) (*sql.Rows, error) {
	return s.db.Query(query, args...)
}

// Path is the database file.
func (s *Sidecar) Path() string { return s.path }

// Close unregisters the virtual table source and closes the database.
func (s *Sidecar) Close() error {
	if mod, err := refsvtab.Register(); err == nil && mod != nil {
		mod.UnregisterDB(s.dbID)
	}
	return s.db.Close()
}
