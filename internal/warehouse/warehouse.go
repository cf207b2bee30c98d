// Package warehouse provides access to the relational warehouse: connection
// pooling, catalog introspection, and the schema-level DDL helpers shared by
// the pipeline stages.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crmlake/crmlake/internal/ddl"
	apperrors "github.com/crmlake/crmlake/internal/errors"
)

// ImportLogTable is the reserved table name for the long-term import log.
// It is excluded from live-object introspection and retirement.
const ImportLogTable = "import_log"

// SchemaRaceRetryDelay is how long to wait before the single retry of a
// schema creation that hit the engine's duplicate-key race.
const SchemaRaceRetryDelay = 500 * time.Millisecond

// Row is a single-row query result.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a multi-row query result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// DB is the subset of a pgx connection pool the pipeline stages use.
// Substituting an in-memory implementation keeps stage tests hermetic.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Schemas names the three fixed warehouse schemas.
type Schemas struct {
	Staging      string `json:"staging" yaml:"staging"`
	Transitional string `json:"transitional" yaml:"transitional"`
	Published    string `json:"published" yaml:"published"`
}

// DefaultSchemas returns the default schema names. Published defaults to
// public because that is what reporting tools query out of the box.
func DefaultSchemas() Schemas {
	return Schemas{
		Staging:      "staging",
		Transitional: "transitional",
		Published:    "public",
	}
}

// Validate checks that all three schema names are set and distinct.
func (s Schemas) Validate() error {
	if s.Staging == "" || s.Transitional == "" || s.Published == "" {
		return fmt.Errorf("all three warehouse schema names must be set")
	}
	if s.Staging == s.Transitional || s.Staging == s.Published || s.Transitional == s.Published {
		return fmt.Errorf("warehouse schema names must be distinct: %s, %s, %s",
			s.Staging, s.Transitional, s.Published)
	}
	return nil
}

// EnsureSchema creates a warehouse schema if it does not exist.
//
// CREATE SCHEMA IF NOT EXISTS run concurrently by two invocations can still
// raise a duplicate-key constraint violation from the engine. On that
// specific signature the creation is retried exactly once after a fixed
// delay; any other failure, or a second race, is returned.
func EnsureSchema(ctx context.Context, db DB, name string) error {
	stmt := "CREATE SCHEMA IF NOT EXISTS " + ddl.QuoteIdent(name)

	err := db.Exec(ctx, stmt)
	if err == nil {
		return nil
	}
	if !IsDuplicateKey(err) {
		return fmt.Errorf("creating schema %s: %w", name, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(SchemaRaceRetryDelay):
	}

	if err := db.Exec(ctx, stmt); err != nil {
		return apperrors.Wrap(apperrors.ErrCategoryState, apperrors.CodeSchemaRace,
			fmt.Sprintf("schema %s creation raced twice", name), err)
	}
	return nil
}

// DropSchema drops a warehouse schema and everything in it.
func DropSchema(ctx context.Context, db DB, name string) error {
	return db.Exec(ctx, "DROP SCHEMA IF EXISTS "+ddl.QuoteIdent(name)+" CASCADE")
}

// DropTable drops one table, removing dependent indexes.
func DropTable(ctx context.Context, db DB, schema, table string) error {
	return db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s CASCADE",
		ddl.QuoteIdent(schema), ddl.QuoteIdent(table)))
}

// MoveTable relocates a table between schemas. The move is a single
// statement, so the engine applies it atomically.
func MoveTable(ctx context.Context, db DB, fromSchema, table, toSchema string) error {
	return db.Exec(ctx, fmt.Sprintf("ALTER TABLE %s.%s SET SCHEMA %s",
		ddl.QuoteIdent(fromSchema), ddl.QuoteIdent(table), ddl.QuoteIdent(toSchema)))
}

// EnsureImportLog creates the reserved import-log table if it does not
// exist.
func EnsureImportLog(ctx context.Context, db DB, publishedSchema string) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s.%s ("+
			`"object_name" text, `+
			`"imported_at" timestamptz, `+
			`"row_count" bigint, `+
			`"column_count" bigint, `+
			`"import_seconds" double precision, `+
			`"import_size_bytes" bigint)`,
		ddl.QuoteIdent(publishedSchema), ddl.QuoteIdent(ImportLogTable))
	return db.Exec(ctx, stmt)
}

// IsDuplicateKey reports whether err carries the engine's duplicate-key
// constraint violation signature (SQLSTATE 23505).
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}
