package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryDB implements DB in memory. It understands exactly the statement
// shapes the pipeline emits, which keeps stage tests hermetic while still
// exercising real state transitions (tables moving between schemas, upserts
// merging rows).
type MemoryDB struct {
	mu      sync.Mutex
	schemas map[string]map[string]*memTable

	// Statements records every executed statement in order.
	Statements []string

	// Fail, when set, is consulted before executing a statement; a non-nil
	// return aborts that statement with the returned error. Tests use it to
	// simulate crashes mid-protocol and engine races.
	Fail func(sql string) error
}

type memTable struct {
	columns  []string
	colTypes map[string]string
	pk       string
	comments map[string]string
	indexes  []string

	rowsByID map[string]map[string]any
	rowOrder []string
	appended []map[string]any
}

// NewMemoryDB creates an empty in-memory warehouse.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{schemas: make(map[string]map[string]*memTable)}
}

var (
	reCreateSchema = regexp.MustCompile(`^CREATE SCHEMA IF NOT EXISTS "([^"]+)"$`)
	reDropSchema   = regexp.MustCompile(`^DROP SCHEMA IF EXISTS "([^"]+)" CASCADE$`)
	reCreateTable  = regexp.MustCompile(`^CREATE TABLE (IF NOT EXISTS )?"([^"]+)"\."([^"]+)" \((.+)\)$`)
	reDropTable    = regexp.MustCompile(`^DROP TABLE IF EXISTS "([^"]+)"\."([^"]+)" CASCADE$`)
	reMoveTable    = regexp.MustCompile(`^ALTER TABLE "([^"]+)"\."([^"]+)" SET SCHEMA "([^"]+)"$`)
	reComment      = regexp.MustCompile(`^COMMENT ON COLUMN "([^"]+)"\."([^"]+)"\."([^"]+)" IS '(.*)'$`)
	reCreateIndex  = regexp.MustCompile(`^CREATE INDEX IF NOT EXISTS "([^"]+)" ON "([^"]+)"\."([^"]+)" \("([^"]+)"\)$`)
	reInsert       = regexp.MustCompile(`^INSERT INTO "([^"]+)"\."([^"]+)" \(([^)]+)\) VALUES (.+?)(?: ON CONFLICT \("([^"]+)"\) DO (NOTHING|UPDATE SET .+))?$`)
	reSelectCount  = regexp.MustCompile(`^SELECT count\(\*\) FROM "([^"]+)"\."([^"]+)"$`)
)

// Exec applies one statement to the in-memory state.
func (m *MemoryDB) Exec(ctx context.Context, sql string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		if err := m.Fail(sql); err != nil {
			return err
		}
	}
	m.Statements = append(m.Statements, sql)

	switch {
	case reCreateSchema.MatchString(sql):
		name := reCreateSchema.FindStringSubmatch(sql)[1]
		if _, ok := m.schemas[name]; !ok {
			m.schemas[name] = make(map[string]*memTable)
		}
		return nil

	case reDropSchema.MatchString(sql):
		delete(m.schemas, reDropSchema.FindStringSubmatch(sql)[1])
		return nil

	case reCreateTable.MatchString(sql):
		sub := reCreateTable.FindStringSubmatch(sql)
		ifNotExists, schema, table, body := sub[1] != "", sub[2], sub[3], sub[4]
		tables, ok := m.schemas[schema]
		if !ok {
			return fmt.Errorf("schema %q does not exist", schema)
		}
		if _, exists := tables[table]; exists {
			if ifNotExists {
				return nil
			}
			return fmt.Errorf("table %q already exists in schema %q", table, schema)
		}
		tables[table] = parseColumns(body)
		return nil

	case reDropTable.MatchString(sql):
		sub := reDropTable.FindStringSubmatch(sql)
		if tables, ok := m.schemas[sub[1]]; ok {
			delete(tables, sub[2])
		}
		return nil

	case reMoveTable.MatchString(sql):
		sub := reMoveTable.FindStringSubmatch(sql)
		from, table, to := sub[1], sub[2], sub[3]
		src, ok := m.schemas[from]
		if !ok {
			return fmt.Errorf("schema %q does not exist", from)
		}
		t, ok := src[table]
		if !ok {
			return fmt.Errorf("table %q does not exist in schema %q", table, from)
		}
		dst, ok := m.schemas[to]
		if !ok {
			return fmt.Errorf("schema %q does not exist", to)
		}
		if _, exists := dst[table]; exists {
			return fmt.Errorf("table %q already exists in schema %q", table, to)
		}
		dst[table] = t
		delete(src, table)
		return nil

	case reComment.MatchString(sql):
		sub := reComment.FindStringSubmatch(sql)
		t := m.lookup(sub[1], sub[2])
		if t == nil {
			return fmt.Errorf("table %q.%q does not exist", sub[1], sub[2])
		}
		t.comments[sub[3]] = strings.ReplaceAll(sub[4], "''", "'")
		return nil

	case reCreateIndex.MatchString(sql):
		sub := reCreateIndex.FindStringSubmatch(sql)
		t := m.lookup(sub[2], sub[3])
		if t == nil {
			return fmt.Errorf("table %q.%q does not exist", sub[2], sub[3])
		}
		t.indexes = append(t.indexes, sub[1])
		return nil

	case reInsert.MatchString(sql):
		return m.applyInsert(sql, args)

	default:
		return fmt.Errorf("memory warehouse cannot parse statement: %s", sql)
	}
}

func (m *MemoryDB) applyInsert(sql string, args []any) error {
	sub := reInsert.FindStringSubmatch(sql)
	schema, table, colList, valuesPart, conflictCol, action := sub[1], sub[2], sub[3], sub[4], sub[5], sub[6]

	t := m.lookup(schema, table)
	if t == nil {
		return fmt.Errorf("table %q.%q does not exist", schema, table)
	}

	var cols []string
	for _, c := range strings.Split(colList, ", ") {
		cols = append(cols, strings.Trim(c, `"`))
	}
	for _, c := range cols {
		if _, ok := t.colTypes[c]; !ok {
			return fmt.Errorf("column %q does not exist in %s.%s", c, schema, table)
		}
	}

	rowCount := strings.Count(valuesPart, "(")
	if rowCount*len(cols) != len(args) {
		return fmt.Errorf("argument count %d does not match %d rows x %d columns",
			len(args), rowCount, len(cols))
	}

	for r := 0; r < rowCount; r++ {
		row := make(map[string]any, len(cols))
		for c, col := range cols {
			row[col] = args[r*len(cols)+c]
		}

		if conflictCol == "" {
			t.appended = append(t.appended, row)
			continue
		}

		key := fmt.Sprint(row[conflictCol])
		existing, ok := t.rowsByID[key]
		if !ok {
			t.rowsByID[key] = row
			t.rowOrder = append(t.rowOrder, key)
			continue
		}
		if action == "NOTHING" {
			continue
		}
		for col, v := range row {
			existing[col] = v
		}
	}
	return nil
}

// QueryRow answers the single-row introspection queries the stages issue.
func (m *MemoryDB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		if err := m.Fail(sql); err != nil {
			return memRow{err: err}
		}
	}

	switch {
	case sql == tableExistsQuery:
		schema, table := fmt.Sprint(args[0]), fmt.Sprint(args[1])
		return memRow{vals: []any{m.lookup(schema, table) != nil}}

	case sql == columnCountQuery:
		t := m.lookup(fmt.Sprint(args[0]), fmt.Sprint(args[1]))
		if t == nil {
			return memRow{vals: []any{int64(0)}}
		}
		return memRow{vals: []any{int64(len(t.columns))}}

	case reSelectCount.MatchString(sql):
		sub := reSelectCount.FindStringSubmatch(sql)
		t := m.lookup(sub[1], sub[2])
		if t == nil {
			return memRow{err: fmt.Errorf("table %q.%q does not exist", sub[1], sub[2])}
		}
		return memRow{vals: []any{int64(len(t.rowsByID) + len(t.appended))}}

	default:
		return memRow{err: fmt.Errorf("memory warehouse cannot parse query: %s", sql)}
	}
}

// Query answers the multi-row introspection queries the stages issue.
func (m *MemoryDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		if err := m.Fail(sql); err != nil {
			return nil, err
		}
	}

	if sql != listTablesQuery {
		return nil, fmt.Errorf("memory warehouse cannot parse query: %s", sql)
	}

	tables, ok := m.schemas[fmt.Sprint(args[0])]
	if !ok {
		return &memRows{}, nil
	}
	var names []string
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := &memRows{}
	for _, name := range names {
		rows.rows = append(rows.rows, []any{name})
	}
	return rows, nil
}

// SchemaExists reports whether a warehouse schema exists.
func (m *MemoryDB) SchemaExists(schema string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.schemas[schema]
	return ok
}

// TableColumns returns a table's column names in DDL order, or nil if the
// table does not exist.
func (m *MemoryDB) TableColumns(schema, table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(schema, table)
	if t == nil {
		return nil
	}
	return append([]string(nil), t.columns...)
}

// TableRows returns a table's keyed rows in insertion order, or nil if the
// table does not exist.
func (m *MemoryDB) TableRows(schema, table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(schema, table)
	if t == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(t.rowOrder)+len(t.appended))
	for _, id := range t.rowOrder {
		row := make(map[string]any, len(t.rowsByID[id]))
		for k, v := range t.rowsByID[id] {
			row[k] = v
		}
		out = append(out, row)
	}
	for _, row := range t.appended {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// ColumnComment returns the comment attached to a column, if any.
func (m *MemoryDB) ColumnComment(schema, table, column string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(schema, table)
	if t == nil {
		return ""
	}
	return t.comments[column]
}

// Indexes returns the index names created on a table.
func (m *MemoryDB) Indexes(schema, table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(schema, table)
	if t == nil {
		return nil
	}
	return append([]string(nil), t.indexes...)
}

// FailOnce arms Fail to reject the first statement containing pattern with
// err, then disarm itself.
func (m *MemoryDB) FailOnce(pattern string, err error) {
	fired := false
	m.Fail = func(sql string) error {
		if fired || !strings.Contains(sql, pattern) {
			return nil
		}
		fired = true
		return err
	}
}

// ErrDuplicateKey mimics the engine's duplicate-key constraint violation
// raised by the CREATE SCHEMA IF NOT EXISTS race.
var ErrDuplicateKey = errors.New(`duplicate key value violates unique constraint "pg_namespace_nspname_index"`)

func (m *MemoryDB) lookup(schema, table string) *memTable {
	tables, ok := m.schemas[schema]
	if !ok {
		return nil
	}
	return tables[table]
}

func parseColumns(body string) *memTable {
	t := &memTable{
		colTypes: make(map[string]string),
		comments: make(map[string]string),
		rowsByID: make(map[string]map[string]any),
	}
	for _, def := range strings.Split(body, ", ") {
		def = strings.TrimSpace(def)
		if !strings.HasPrefix(def, `"`) {
			continue
		}
		end := strings.Index(def[1:], `"`)
		if end < 0 {
			continue
		}
		name := def[1 : 1+end]
		rest := strings.TrimSpace(def[2+end:])
		if strings.HasSuffix(rest, " primary key") {
			rest = strings.TrimSuffix(rest, " primary key")
			t.pk = name
		}
		t.columns = append(t.columns, name)
		t.colTypes[name] = rest
	}
	return t
}

type memRow struct {
	vals []any
	err  error
}

func (r memRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.vals, dest)
}

type memRows struct {
	rows [][]any
	pos  int
}

func (r *memRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *memRows) Scan(dest ...any) error {
	return scanInto(r.rows[r.pos-1], dest)
}

func (r *memRows) Err() error { return nil }
func (r *memRows) Close()     {}

func scanInto(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan expects %d destinations, got %d", len(vals), len(dest))
	}
	for i, v := range vals {
		switch d := dest[i].(type) {
		case *bool:
			*d = v.(bool)
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *float64:
			*d = v.(float64)
		case *time.Time:
			*d = v.(time.Time)
		case *any:
			*d = v
		default:
			return fmt.Errorf("unsupported scan destination %T", dest[i])
		}
	}
	return nil
}
