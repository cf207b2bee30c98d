// Package retire cleans up after a run: the staging and transitional
// schemas are dropped wholesale, and published tables whose objects have
// disappeared from the source's entity catalog are removed.
package retire

import (
	"context"
	"log"

	"github.com/crmlake/crmlake/internal/connector"
	"github.com/crmlake/crmlake/internal/ddl"
	"github.com/crmlake/crmlake/internal/warehouse"
)

// Result summarizes one sweep.
type Result struct {
	DroppedSchemas []string `json:"droppedSchemas"`
	RetiredTables  []string `json:"retiredTables"`
}

// Sweeper performs the end-of-run retirement sweep.
type Sweeper struct {
	db      warehouse.DB
	schemas warehouse.Schemas
	source  connector.Connector
}

// NewSweeper creates a retirement sweeper.
func NewSweeper(db warehouse.DB, schemas warehouse.Schemas, source connector.Connector) *Sweeper {
	return &Sweeper{db: db, schemas: schemas, source: source}
}

// Sweep drops the transitional and staging schemas unconditionally; by the
// end of a run every object's data has either been swapped into published or
// abandoned as a failed staging attempt. It then retires published tables
// for objects no longer present in the live entity catalog. The reserved
// import-log table is never considered for retirement.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, schema := range []string{s.schemas.Transitional, s.schemas.Staging} {
		if err := warehouse.DropSchema(ctx, s.db, schema); err != nil {
			return nil, err
		}
		result.DroppedSchemas = append(result.DroppedSchemas, schema)
	}

	entities, err := s.source.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(entities))
	for _, e := range entities {
		live[ddl.TableName(e)] = true
	}

	published, err := warehouse.ListTables(ctx, s.db, s.schemas.Published)
	if err != nil {
		return nil, err
	}

	for _, table := range published {
		if live[table] {
			continue
		}
		if err := warehouse.DropTable(ctx, s.db, s.schemas.Published, table); err != nil {
			return nil, err
		}
		log.Printf("retire: dropped published table %s.%s, object gone from source catalog",
			s.schemas.Published, table)
		result.RetiredTables = append(result.RetiredTables, table)
	}

	return result, nil
}
