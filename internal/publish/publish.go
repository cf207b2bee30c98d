// Package publish rotates a fully loaded staging table into the published
// position with no reader-visible downtime.
//
// The protocol is driven entirely by where the object's table currently
// exists across the staging, transitional, and published schemas. That
// triple is rebuilt from the database catalog on every invocation, so a
// crash at any point before, during, or after the swap is recovered by
// simply re-running the stage with the same input. No statement depends on
// a prior statement having committed in the same invocation.
package publish

import (
	"context"
	"fmt"
	"log"

	"github.com/crmlake/crmlake/internal/ddl"
	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/warehouse"
	"github.com/crmlake/crmlake/pkg/types"
)

// Action names what the protocol did for one invocation.
type Action string

const (
	// ActionPublished means the staging table was moved into published.
	ActionPublished Action = "published"
	// ActionRecovered means a half-finished swap was first rolled forward.
	ActionRecovered Action = "recovered"
	// ActionNone means there was nothing to do.
	ActionNone Action = "none"
)

// Result is the orchestrator-visible outcome of one publish invocation.
type Result struct {
	Object string              `json:"object"`
	Table  string              `json:"table"`
	Action Action              `json:"action"`
	Before types.TableLocation `json:"before"`
	After  types.TableLocation `json:"after"`
}

// Protocol performs the atomic publish for one object per invocation.
type Protocol struct {
	db      warehouse.DB
	schemas warehouse.Schemas
}

// NewProtocol creates the publish protocol.
func NewProtocol(db warehouse.DB, schemas warehouse.Schemas) *Protocol {
	return &Protocol{db: db, schemas: schemas}
}

// Publish inspects the object's table location and performs the correct
// next action to reach "published with no transitional copy remaining":
//
//	staging only                      -> move staging into published
//	staging + published               -> two-step swap
//	staging + transitional            -> restore transitional to published,
//	                                     then two-step swap
//	staging + transitional + published-> prior run already succeeded; no-op
//	published only (nothing staged)   -> no-op
//	anything else                     -> fatal, requires operator attention
func (p *Protocol) Publish(ctx context.Context, object string) (*Result, error) {
	table := ddl.TableName(object)

	before, err := warehouse.Locate(ctx, p.db, p.schemas, table)
	if err != nil {
		return nil, err
	}
	result := &Result{Object: object, Table: table, Before: before}

	switch {
	case before.Staging && !before.Transitional && !before.Published:
		// First-ever import, or the previous published copy was already
		// consumed: nothing to protect, move staging straight in.
		if err := p.moveToPublished(ctx, table); err != nil {
			return nil, err
		}
		result.Action = ActionPublished

	case before.Staging && !before.Transitional && before.Published:
		if err := p.swap(ctx, table); err != nil {
			return nil, err
		}
		result.Action = ActionPublished

	case before.Staging && before.Transitional && !before.Published:
		// Crash after published moved to transitional but before staging
		// moved to published. Restore the previous copy first so readers
		// are never left without a table, then retry the full swap.
		if err := warehouse.MoveTable(ctx, p.db, p.schemas.Transitional, table, p.schemas.Published); err != nil {
			return nil, fmt.Errorf("restoring %s to published: %w", table, err)
		}
		if err := p.swap(ctx, table); err != nil {
			return nil, err
		}
		result.Action = ActionRecovered

	case before.Staging && before.Transitional && before.Published:
		// A prior run's swap completed and only the orphan cleanup was
		// lost. The published copy is the most recent good one; leave all
		// data in place and let the end-of-run sweep clear the rest.
		result.Action = ActionNone

	case !before.Staging && before.Published:
		// Nothing staged this run.
		result.Action = ActionNone

	default:
		return nil, apperrors.New(apperrors.ErrCategoryPublish, apperrors.CodeInconsistentState,
			fmt.Sprintf("object %q is in unreachable table location %s", object, before)).
			WithDetails(map[string]interface{}{
				"object":   object,
				"table":    table,
				"location": before.String(),
			})
	}

	after, err := warehouse.Locate(ctx, p.db, p.schemas, table)
	if err != nil {
		return nil, err
	}
	result.After = after
	return result, nil
}

// swap exchanges the staging and published copies with the canonical
// two-step move. If step 1 fails nothing has moved; if step 2 fails the
// next invocation finds (staging, transitional, no published) and recovers.
func (p *Protocol) swap(ctx context.Context, table string) error {
	if err := warehouse.EnsureSchema(ctx, p.db, p.schemas.Transitional); err != nil {
		return err
	}

	if err := warehouse.MoveTable(ctx, p.db, p.schemas.Published, table, p.schemas.Transitional); err != nil {
		return fmt.Errorf("moving published %s aside: %w", table, err)
	}

	if err := p.moveToPublished(ctx, table); err != nil {
		return err
	}

	// The orphaned previous copy is now redundant. Failing to drop it costs
	// disk, not correctness; the end-of-run sweep removes the whole
	// transitional schema anyway.
	if err := warehouse.DropTable(ctx, p.db, p.schemas.Transitional, table); err != nil {
		log.Printf("[WARN] publish: dropping orphaned transitional copy of %s: %v", table, err)
	}
	return nil
}

func (p *Protocol) moveToPublished(ctx context.Context, table string) error {
	if err := warehouse.EnsureSchema(ctx, p.db, p.schemas.Published); err != nil {
		return err
	}
	if err := warehouse.MoveTable(ctx, p.db, p.schemas.Staging, table, p.schemas.Published); err != nil {
		return fmt.Errorf("moving staging %s into published: %w", table, err)
	}
	return nil
}
