package connector

import (
	"context"
	"fmt"
)

// Static is an in-memory Connector used in tests and local development.
type Static struct {
	Entities    []string
	Fields      map[string][]FieldDescription
	Extractions map[string]*Extraction
}

var _ Connector = (*Static)(nil)

// ListEntities returns the configured entity catalog.
func (s *Static) ListEntities(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.Entities...), nil
}

// DescribeEntity returns the configured field descriptions.
func (s *Static) DescribeEntity(ctx context.Context, name string) ([]FieldDescription, error) {
	fields, ok := s.Fields[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", name)
	}
	return append([]FieldDescription(nil), fields...), nil
}

// Extraction returns the configured extraction, keyed by object name.
func (s *Static) Extraction(ctx context.Context, runID, object string) (*Extraction, error) {
	ex, ok := s.Extractions[object]
	if !ok {
		return nil, fmt.Errorf("no extraction for object %q", object)
	}
	return ex, nil
}
