// Package discovery reconciles the stored schema definitions with the
// source's live entity catalog: definitions are refreshed for every current
// entity and deleted for departed ones, with a safety valve capping how
// many definitions a single invocation may remove.
package discovery

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/crmlake/crmlake/internal/connector"
	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/schemastore"
)

// DefaultRemovalCap bounds how many schema definitions one invocation may
// delete. A connector outage that reports an empty catalog must trip this
// valve, not silently delete every definition.
const DefaultRemovalCap = 10

// Result summarizes one reconciliation.
type Result struct {
	Written []string `json:"written"`
	Removed []string `json:"removed"`
}

// Discovery reconciles schema definitions against the entity catalog.
type Discovery struct {
	source     connector.Connector
	store      *schemastore.Client
	removalCap int
}

// New creates a discovery stage. A removalCap of zero or less falls back to
// DefaultRemovalCap.
func New(source connector.Connector, store *schemastore.Client, removalCap int) *Discovery {
	if removalCap <= 0 {
		removalCap = DefaultRemovalCap
	}
	return &Discovery{source: source, store: store, removalCap: removalCap}
}

// Reconcile refreshes every current entity's schema definition and removes
// definitions for departed entities. When more definitions would be removed
// than the cap allows, the whole invocation aborts before deleting anything:
// mass disappearance is more likely a connector fault than reality, and
// forcing human review is the safe failure.
func (d *Discovery) Reconcile(ctx context.Context) (*Result, error) {
	entities, err := d.source.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing source entities: %w", err)
	}
	live := make(map[string]bool, len(entities))
	for _, e := range entities {
		live[e] = true
	}

	known, err := d.store.ListObjects(ctx)
	if err != nil {
		return nil, err
	}

	var departed []string
	for _, object := range known {
		if !live[object] {
			departed = append(departed, object)
		}
	}
	sort.Strings(departed)

	if len(departed) > d.removalCap {
		return nil, apperrors.New(apperrors.ErrCategoryCleanup, apperrors.CodeRemovalCapExceeded,
			fmt.Sprintf("%d schema definitions would be removed, cap is %d", len(departed), d.removalCap)).
			WithDetails(map[string]interface{}{
				"departed": departed,
				"cap":      d.removalCap,
			})
	}

	result := &Result{}
	for _, object := range entities {
		fields, err := d.source.DescribeEntity(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("describing entity %q: %w", object, err)
		}
		schema := connector.SchemaFromDescription(object, object, fields)
		if err := d.store.Put(ctx, object, schema); err != nil {
			return nil, err
		}
		result.Written = append(result.Written, object)
	}

	for _, object := range departed {
		if err := d.store.Delete(ctx, object); err != nil {
			return nil, err
		}
		log.Printf("discovery: removed schema definition for departed object %q", object)
		result.Removed = append(result.Removed, object)
	}

	return result, nil
}
