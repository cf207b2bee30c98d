// Package schemastore reads and writes per-object schema definition
// documents in the durable object store.
//
// Reads go through an in-process memoizing cache keyed by object name. The
// cache is a best-effort optimization scoped to one invocation; the object
// store is always the source of truth. Writes and deletes go straight
// through and invalidate the cached entry.
package schemastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/storage"
	"github.com/crmlake/crmlake/pkg/types"
)

const keyPrefix = "schemas/"

// Client is the schema store client.
type Client struct {
	store        storage.ObjectStorage
	installation string

	mu    sync.RWMutex
	cache map[string]*types.SchemaDefinition
}

// New creates a schema store client for one installation.
func New(store storage.ObjectStorage, installation string) *Client {
	return &Client{
		store:        store,
		installation: installation,
		cache:        make(map[string]*types.SchemaDefinition),
	}
}

// Key returns the deterministic object-store path for an object's schema
// definition document.
func (c *Client) Key(object string) string {
	return fmt.Sprintf("%s%s.%s.schema.json", keyPrefix, object, c.installation)
}

// Get fetches the schema definition for object, memoizing the result for the
// life of the process.
func (c *Client) Get(ctx context.Context, object string) (*types.SchemaDefinition, error) {
	c.mu.RLock()
	cached, ok := c.cache[object]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := c.store.Get(ctx, c.Key(object))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.NewSchemaError(apperrors.CodeNotFound,
				fmt.Sprintf("schema definition for %q not found", object), err)
		}
		return nil, apperrors.NewStorageError(apperrors.CodeReadFailed,
			fmt.Sprintf("reading schema definition for %q", object), err)
	}

	var schema types.SchemaDefinition
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, apperrors.NewSchemaError(apperrors.CodeMalformedSchema,
			fmt.Sprintf("schema definition for %q is not a valid schema document", object), err)
	}
	if schema.Name == "" || schema.Properties == nil {
		return nil, apperrors.NewSchemaError(apperrors.CodeMalformedSchema,
			fmt.Sprintf("schema definition for %q is missing name or properties", object), nil)
	}

	c.mu.Lock()
	c.cache[object] = &schema
	c.mu.Unlock()

	return &schema, nil
}

// Put overwrites the schema definition document for object. The write is not
// cached: a process that just wrote should not assume it will be invoked
// again, and writers always want the latest state persisted.
func (c *Client) Put(ctx context.Context, object string, schema *types.SchemaDefinition) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return apperrors.NewSchemaError(apperrors.CodeMalformedSchema,
			fmt.Sprintf("encoding schema definition for %q", object), err)
	}
	if err := c.store.Put(ctx, c.Key(object), data); err != nil {
		return apperrors.NewStorageError(apperrors.CodeWriteFailed,
			fmt.Sprintf("writing schema definition for %q", object), err)
	}

	c.mu.Lock()
	delete(c.cache, object)
	c.mu.Unlock()

	return nil
}

// Delete removes the schema definition document for object.
func (c *Client) Delete(ctx context.Context, object string) error {
	if err := c.store.Delete(ctx, c.Key(object)); err != nil {
		return apperrors.NewStorageError(apperrors.CodeWriteFailed,
			fmt.Sprintf("deleting schema definition for %q", object), err)
	}

	c.mu.Lock()
	delete(c.cache, object)
	c.mu.Unlock()

	return nil
}

// ListObjects returns the names of all objects with a stored schema
// definition for this installation, in storage order.
func (c *Client) ListObjects(ctx context.Context) ([]string, error) {
	paths, err := c.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeReadFailed,
			"listing schema definitions", err)
	}

	suffix := fmt.Sprintf(".%s.schema.json", c.installation)
	var objects []string
	for _, p := range paths {
		name := strings.TrimPrefix(p, keyPrefix)
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		objects = append(objects, strings.TrimSuffix(name, suffix))
	}
	return objects, nil
}
