// Package connector defines the narrow interface to the source-system
// connector: the live entity catalog, per-entity field descriptions, and
// the locations of extracted record files in the object store.
package connector

import (
	"context"

	"github.com/crmlake/crmlake/internal/ddl"
	"github.com/crmlake/crmlake/pkg/types"
)

// FieldDescription is one field of a source entity as the connector
// reports it.
type FieldDescription struct {
	Name        string          `json:"name"`
	Type        types.FieldType `json:"type"`
	Label       string          `json:"label,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ExtractionStats carries the connector-side metrics for one extraction.
// Absent metrics are reported as types.MetricUnknown.
type ExtractionStats struct {
	Seconds float64 `json:"seconds"`
	Bytes   int64   `json:"bytes"`
}

// Extraction references the newline-delimited JSON files the connector
// wrote to the object store for one (object, run).
type Extraction struct {
	ObjectPaths []string        `json:"objectPaths"`
	Stats       ExtractionStats `json:"stats"`
}

// Connector is the source-system client surface the pipeline consumes.
type Connector interface {
	// ListEntities returns the source's current entity catalog.
	ListEntities(ctx context.Context) ([]string, error)

	// DescribeEntity returns the field descriptions for one entity.
	DescribeEntity(ctx context.Context, name string) ([]FieldDescription, error)

	// Extraction returns the extracted data files for one (object, run).
	Extraction(ctx context.Context, runID, object string) (*Extraction, error)
}

// SchemaFromDescription assembles a schema definition from the connector's
// field descriptions. Compound-typed fields always land in Exclude so DDL
// generation never sees them.
func SchemaFromDescription(object, label string, fields []FieldDescription) *types.SchemaDefinition {
	schema := &types.SchemaDefinition{
		Name:       object,
		Label:      label,
		Properties: make(map[string]types.FieldSpec),
	}
	for _, f := range fields {
		spec := types.FieldSpec{
			Type:    f.Type,
			Label:   f.Label,
			Comment: f.Description,
		}
		if ddl.IsCompound(f.Type) {
			if schema.Exclude == nil {
				schema.Exclude = make(map[string]types.FieldSpec)
			}
			schema.Exclude[f.Name] = spec
			continue
		}
		schema.Properties[f.Name] = spec
	}
	return schema
}
