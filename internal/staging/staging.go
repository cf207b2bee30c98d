// Package staging prepares the staging table for one object ahead of a
// load: the staging schema is created if missing, any stale table from an
// abandoned prior attempt is dropped, and a fresh table is created from the
// object's schema definition.
package staging

import (
	"context"
	"fmt"
	"log"

	"github.com/crmlake/crmlake/internal/ddl"
	"github.com/crmlake/crmlake/internal/warehouse"
	"github.com/crmlake/crmlake/pkg/types"
)

// Builder creates staging tables.
type Builder struct {
	db      warehouse.DB
	schemas warehouse.Schemas
}

// NewBuilder creates a staging table builder.
func NewBuilder(db warehouse.DB, schemas warehouse.Schemas) *Builder {
	return &Builder{db: db, schemas: schemas}
}

// Prepare recreates the staging table for the object described by schema.
// It is safe to re-run from scratch: the staging schema creation is
// idempotent (with the engine's concurrent-create race absorbed by a single
// bounded retry) and any pre-existing staging table is dropped, dependent
// indexes included, before the new one is created.
func (b *Builder) Prepare(ctx context.Context, schema *types.SchemaDefinition) (string, error) {
	table := ddl.TableName(schema.Name)

	stmts, err := ddl.BuildCreateTable(schema, b.schemas.Staging, table)
	if err != nil {
		return "", err
	}

	if err := warehouse.EnsureSchema(ctx, b.db, b.schemas.Staging); err != nil {
		return "", err
	}

	if err := warehouse.DropTable(ctx, b.db, b.schemas.Staging, table); err != nil {
		return "", fmt.Errorf("dropping stale staging table %s: %w", table, err)
	}

	if err := b.db.Exec(ctx, stmts.Create); err != nil {
		return "", fmt.Errorf("creating staging table %s: %w", table, err)
	}

	for _, comment := range stmts.Comments {
		if err := b.db.Exec(ctx, comment); err != nil {
			return "", fmt.Errorf("commenting staging table %s: %w", table, err)
		}
	}

	for _, index := range stmts.Indexes {
		if err := b.db.Exec(ctx, index); err != nil {
			return "", fmt.Errorf("indexing staging table %s: %w", table, err)
		}
	}

	log.Printf("staging: prepared %s.%s (%d columns, %d indexes)",
		b.schemas.Staging, table, len(schema.Properties), len(stmts.Indexes))
	return table, nil
}
