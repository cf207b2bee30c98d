package warehouse

import (
	"context"
	"fmt"
	"sort"

	"github.com/crmlake/crmlake/internal/ddl"
	"github.com/crmlake/crmlake/pkg/types"
)

const tableExistsQuery = "SELECT EXISTS (SELECT 1 FROM information_schema.tables " +
	"WHERE table_schema = $1 AND table_name = $2)"

const listTablesQuery = "SELECT table_name FROM information_schema.tables " +
	"WHERE table_schema = $1 AND table_type = 'BASE TABLE'"

const columnCountQuery = "SELECT count(*) FROM information_schema.columns " +
	"WHERE table_schema = $1 AND table_name = $2"

// Locate rebuilds the table location triple for one object from the
// database's table catalog. The result is never cached: after a crash or a
// retried invocation it is the only trustworthy record of how far a swap
// progressed.
func Locate(ctx context.Context, db DB, schemas Schemas, table string) (types.TableLocation, error) {
	var loc types.TableLocation
	for _, probe := range []struct {
		schema string
		dest   *bool
	}{
		{schemas.Staging, &loc.Staging},
		{schemas.Transitional, &loc.Transitional},
		{schemas.Published, &loc.Published},
	} {
		if err := db.QueryRow(ctx, tableExistsQuery, probe.schema, table).Scan(probe.dest); err != nil {
			return types.TableLocation{}, fmt.Errorf("locating %s.%s: %w", probe.schema, table, err)
		}
	}
	return loc, nil
}

// ListTables returns the names of all base tables in one warehouse schema,
// sorted, with the reserved import-log table excluded.
func ListTables(ctx context.Context, db DB, schema string) ([]string, error) {
	rows, err := db.Query(ctx, listTablesQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name == ImportLogTable {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(tables)
	return tables, nil
}

// RowCount returns the number of rows in schema.table.
func RowCount(ctx context.Context, db DB, schema, table string) (int64, error) {
	var count int64
	stmt := fmt.Sprintf("SELECT count(*) FROM %s.%s", ddl.QuoteIdent(schema), ddl.QuoteIdent(table))
	if err := db.QueryRow(ctx, stmt).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s.%s: %w", schema, table, err)
	}
	return count, nil
}

// ColumnCount returns the number of columns of schema.table.
func ColumnCount(ctx context.Context, db DB, schema, table string) (int64, error) {
	var count int64
	if err := db.QueryRow(ctx, columnCountQuery, schema, table).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting columns of %s.%s: %w", schema, table, err)
	}
	return count, nil
}
