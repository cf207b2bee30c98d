// Package storage provides object storage abstractions for the durable
// document store backing the pipeline: schema definitions, run status
// documents, and extracted data files.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrReadFailed     = errors.New("read failed")
	ErrWriteFailed    = errors.New("write failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts durable object storage.
// Implementations include S3 and a local filesystem twin for testing and
// development. All writes are whole-document overwrites.
type ObjectStorage interface {
	// Get returns the full contents of the object at objectPath.
	// Returns ErrObjectNotFound if the object does not exist.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Put overwrites the object at objectPath with data.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Delete removes the object at objectPath. Deleting a missing object
	// is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks whether an object exists at objectPath.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
