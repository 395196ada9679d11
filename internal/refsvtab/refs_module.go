// Package refsvtab exposes an expression index sidecar to SQL as the
// formgraph_refs virtual table with columns (token, location).
package refsvtab

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"modernc.org/sqlite/vtab"
)

// ModuleName is the name used in CREATE VIRTUAL TABLE ... USING.
const ModuleName = "formgraph_refs"

var (
	once      sync.Once
	singleton *Module
	initErr   error
)

// Module implements vtab.Module. modernc.org/sqlite registers modules per
// driver rather than per database, so there is one Module per process and
// each sidecar database is registered with it under an id.
type Module struct {
	mu  sync.RWMutex
	dbs map[string]*sql.DB
}

// Register installs the module with the SQLite driver on first use and
// returns the process-wide instance.
func Register() (*Module, error) {
	once.Do(func() {
		singleton = &Module{dbs: make(map[string]*sql.DB)}
		if err := vtab.RegisterModule(nil, ModuleName, singleton); err != nil {
			initErr = fmt.Errorf("refsvtab: register module: %w", err)
			singleton = nil
		}
	})
	return singleton, initErr
}

// RegisterDB makes db available to tables declared with USING formgraph_refs(id).
func (m *Module) RegisterDB(id string, db *sql.DB) {
	m.mu.Lock()
	m.dbs[id] = db
	m.mu.Unlock()
}

// UnregisterDB forgets a database registered with RegisterDB.
func (m *Module) UnregisterDB(id string) {
	m.mu.Lock()
	delete(m.dbs, id)
	m.mu.Unlock()
}

func (m *Module) lookup(args []string) (*sql.DB, string, error) {
	// args: module name, database name, table name, then the USING arguments.
	if len(args) < 4 {
		return nil, "", fmt.Errorf("%s: expected USING %s(id)", ModuleName, ModuleName)
	}
	id := strings.TrimSpace(args[3])
	m.mu.RLock()
	db, ok := m.dbs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, id, fmt.Errorf("%s: unknown database id %q", ModuleName, id)
	}
	return db, id, nil
}

func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	db, _, err := m.lookup(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Declare("CREATE TABLE x(token TEXT, location TEXT)"); err != nil {
		return nil, err
	}
	return &table{db: db}, nil
}

// Connect attaches to an existing declaration. A declaration left by an
// earlier process has no registered database and yields an empty table, so
// it can still be dropped.
func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	db, _, _ := m.lookup(args)
	if err := ctx.Declare("CREATE TABLE x(token TEXT, location TEXT)"); err != nil {
		return nil, err
	}
	return &table{db: db}, nil
}

// ---------------------------------------------------------------------------
// vtab.Table
// ---------------------------------------------------------------------------

type table struct {
	db *sql.DB
}

const (
	scanAll = iota
	scanEqual
	scanLike
	scanGlob
)

func (t *table) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable || c.Column != 0 {
			continue
		}
		var mode int64
		switch c.Op {
		case vtab.OpEQ:
			mode = scanEqual
		case vtab.OpLIKE:
			mode = scanLike
		case vtab.OpGLOB:
			mode = scanGlob
		default:
			continue
		}
		c.ArgIndex = 0
		c.Omit = true
		info.IdxNum = mode
		if mode == scanEqual {
			info.EstimatedCost = 1
			info.EstimatedRows = 10
		} else {
			info.EstimatedCost = 100
			info.EstimatedRows = 100
		}
		return nil
	}
	info.IdxNum = scanAll
	info.EstimatedCost = 1e6
	info.EstimatedRows = 1e6
	return nil
}

func (t *table) Open() (vtab.Cursor, error) { return &cursor{table: t}, nil }
func (t *table) Disconnect() error          { return nil }
func (t *table) Destroy() error             { return nil }

// ---------------------------------------------------------------------------
// vtab.Cursor
// ---------------------------------------------------------------------------

type row struct {
	token    string
	location string
}

type cursor struct {
	table *table
	rows  []row
	pos   int
}

func (c *cursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	c.rows = c.rows[:0]
	c.pos = 0
	if c.table.db == nil {
		return nil
	}

	query := "SELECT token, bitmap FROM node_refs"
	var args []any
	if idxNum != scanAll {
		arg, ok := vals[0].(string)
		if !ok {
			return nil
		}
		switch idxNum {
		case scanEqual:
			query += " WHERE token = ?"
		case scanLike:
			query += " WHERE token LIKE ?"
		case scanGlob:
			query += " WHERE token GLOB ?"
		}
		args = append(args, arg)
	}
	return c.load(query, args...)
}

// load collects the matching (token, bitmap) pairs and closes that result
// set before expanding, since expansion needs the same spare connection.
func (c *cursor) load(query string, args ...any) error {
	type entry struct {
		token string
		blob  []byte
	}
	rows, err := c.table.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("refsvtab: scan node_refs: %w", err)
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.token, &e.blob); err != nil {
			_ = rows.Close() // safe to ignore
			return fmt.Errorf("refsvtab: scan node_refs row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close() // safe to ignore
		return fmt.Errorf("refsvtab: scan node_refs rows: %w", err)
	}
	_ = rows.Close() // safe to ignore

	for _, e := range entries {
		if err := c.expand(e.token, e.blob); err != nil {
			return err
		}
	}
	return nil
}

// expand resolves the location ids in a bitmap to their labels.
func (c *cursor) expand(token string, blob []byte) error {
	rb := roaring.New()
	if err := rb.UnmarshalBinary(blob); err != nil {
		return fmt.Errorf("refsvtab: unmarshal bitmap for %q: %w", token, err)
	}
	ids := rb.ToArray()
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := c.table.db.Query("SELECT label FROM locations WHERE id IN ("+placeholders+") ORDER BY id", args...)
	if err != nil {
		return fmt.Errorf("refsvtab: resolve locations: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return fmt.Errorf("refsvtab: scan location: %w", err)
		}
		c.rows = append(c.rows, row{token: token, location: label})
	}
	return rows.Err()
}

func (c *cursor) Next() error {
	c.pos++
	return nil
}

func (c *cursor) Eof() bool { return c.pos >= len(c.rows) }

func (c *cursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	switch col {
	case 0:
		return c.rows[c.pos].token, nil
	case 1:
		return c.rows[c.pos].location, nil
	}
	return nil, nil
}

func (c *cursor) Rowid() (int64, error) { return int64(c.pos), nil }

func (c *cursor) Close() error {
	c.rows = nil
	return nil
}
