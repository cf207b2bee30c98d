package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/storage"
)

const (
	// catalogKey is where the extractor publishes the entity catalog.
	catalogKey = "connector/catalog.json"

	// manifestKeyFormat locates the extraction manifest for one (run, object).
	manifestKeyFormat = "extractions/%s/%s.manifest.json"
)

// catalogEntry is one entity in the published catalog document.
type catalogEntry struct {
	Label  string             `json:"label,omitempty"`
	Fields []FieldDescription `json:"fields"`
}

// Store is a Connector backed by documents the extraction service writes to
// the object store: an entity catalog plus one manifest per extraction.
type Store struct {
	store storage.ObjectStorage
}

var _ Connector = (*Store)(nil)

// NewStore creates a store-backed connector.
func NewStore(store storage.ObjectStorage) *Store {
	return &Store{store: store}
}

func (s *Store) catalog(ctx context.Context) (map[string]catalogEntry, error) {
	data, err := s.store.Get(ctx, catalogKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrCategorySchema, apperrors.CodeNotFound,
				"entity catalog has not been published", err)
		}
		return nil, apperrors.NewStorageError(apperrors.CodeReadFailed, "reading entity catalog", err)
	}
	var catalog map[string]catalogEntry
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, apperrors.NewSchemaError(apperrors.CodeMalformedSchema,
			"entity catalog is not valid JSON", err)
	}
	return catalog, nil
}

// ListEntities returns the catalog's entity names, sorted.
func (s *Store) ListEntities(ctx context.Context) ([]string, error) {
	catalog, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DescribeEntity returns the catalog's field descriptions for one entity.
func (s *Store) DescribeEntity(ctx context.Context, name string) ([]FieldDescription, error) {
	catalog, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := catalog[name]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCategorySchema, apperrors.CodeNotFound,
			fmt.Sprintf("entity %q is not in the catalog", name))
	}
	return entry.Fields, nil
}

// Extraction reads the extraction manifest for one (run, object).
func (s *Store) Extraction(ctx context.Context, runID, object string) (*Extraction, error) {
	key := fmt.Sprintf(manifestKeyFormat, runID, object)
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrCategoryLoad, apperrors.CodeNotFound,
				fmt.Sprintf("no extraction manifest for %q in run %q", object, runID), err)
		}
		return nil, apperrors.NewStorageError(apperrors.CodeReadFailed,
			fmt.Sprintf("reading extraction manifest for %q", object), err)
	}
	var extraction Extraction
	if err := json.Unmarshal(data, &extraction); err != nil {
		return nil, apperrors.NewInternalError(
			fmt.Sprintf("extraction manifest for %q is not valid JSON", object), err)
	}
	return &extraction, nil
}
