// Package runstatus durably records per-object stage transitions and final
// import metrics: a per-run status document in the object store for the UI,
// and one row per import in the reserved import-log table for long-term
// trend reporting.
package runstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/crmlake/crmlake/internal/connector"
	"github.com/crmlake/crmlake/internal/ddl"
	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/storage"
	"github.com/crmlake/crmlake/internal/warehouse"
	"github.com/crmlake/crmlake/pkg/types"
)

// Recorder writes run status documents and import-log rows.
type Recorder struct {
	store   storage.ObjectStorage
	db      warehouse.DB
	schemas warehouse.Schemas
	now     func() time.Time
}

// NewRecorder creates a run status recorder.
func NewRecorder(store storage.ObjectStorage, db warehouse.DB, schemas warehouse.Schemas) *Recorder {
	return &Recorder{store: store, db: db, schemas: schemas, now: time.Now}
}

// StatusKey returns the object-store path of the status document for one
// (run, object).
func StatusKey(runID, object string) string {
	return fmt.Sprintf("state/runs/%s/%s.status.json", runID, object)
}

// Record overwrites the status document for (object, runID) with the given
// stage. Each transition replaces the whole document.
func (r *Recorder) Record(ctx context.Context, object, runID string, stage types.RunStage, meta *types.ImportMetadata) error {
	status := types.RunStatus{
		Object:    object,
		RunID:     runID,
		Stage:     stage,
		UpdatedAt: r.now().UTC(),
		Metadata:  meta,
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return apperrors.NewInternalError("encoding run status", err)
	}
	if err := r.store.Put(ctx, StatusKey(runID, object), data); err != nil {
		return apperrors.NewStorageError(apperrors.CodeWriteFailed,
			fmt.Sprintf("writing run status for %q", object), err)
	}
	return nil
}

// RecordCleanup computes the final import metadata for the object, persists
// the SUCCESSFUL status document, and appends one row to the import log.
//
// Row and column counts are re-queried from the published table; extraction
// timing and size come from the connector. Unavailable metrics default to
// the unknown marker with a logged warning rather than failing the stage:
// missing observability must not undo a completed import.
func (r *Recorder) RecordCleanup(ctx context.Context, object, runID string, stats *connector.ExtractionStats) (*types.ImportMetadata, error) {
	meta := types.UnknownImportMetadata()
	table := ddl.TableName(object)

	if rows, err := warehouse.RowCount(ctx, r.db, r.schemas.Published, table); err != nil {
		log.Printf("[WARN] runstatus: row count for %s unavailable, recording %d: %v",
			table, types.MetricUnknown, err)
	} else {
		meta.RowCount = rows
	}

	if cols, err := warehouse.ColumnCount(ctx, r.db, r.schemas.Published, table); err != nil {
		log.Printf("[WARN] runstatus: column count for %s unavailable, recording %d: %v",
			table, types.MetricUnknown, err)
	} else {
		meta.ColumnCount = cols
	}

	if stats == nil {
		log.Printf("[WARN] runstatus: extraction stats for %s unavailable, recording %d",
			object, types.MetricUnknown)
	} else {
		meta.ImportSeconds = stats.Seconds
		meta.BytesWritten = stats.Bytes
	}

	if err := r.Record(ctx, object, runID, types.StageSuccessful, &meta); err != nil {
		return nil, err
	}

	if err := r.appendImportLog(ctx, object, meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Status reads back the status document for (object, runID).
func (r *Recorder) Status(ctx context.Context, object, runID string) (*types.RunStatus, error) {
	data, err := r.store.Get(ctx, StatusKey(runID, object))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrCategoryState, apperrors.CodeNotFound,
				fmt.Sprintf("no status recorded for %q in run %q", object, runID), err)
		}
		return nil, apperrors.NewStorageError(apperrors.CodeReadFailed,
			fmt.Sprintf("reading run status for %q", object), err)
	}
	var status types.RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, apperrors.NewInternalError("decoding run status", err)
	}
	return &status, nil
}

func (r *Recorder) appendImportLog(ctx context.Context, object string, meta types.ImportMetadata) error {
	stmt := fmt.Sprintf(
		`INSERT INTO %s.%s ("object_name", "imported_at", "row_count", "column_count", "import_seconds", "import_size_bytes") VALUES ($1, $2, $3, $4, $5, $6)`,
		ddl.QuoteIdent(r.schemas.Published), ddl.QuoteIdent(warehouse.ImportLogTable))
	err := r.db.Exec(ctx, stmt,
		object, r.now().UTC(), meta.RowCount, meta.ColumnCount, meta.ImportSeconds, meta.BytesWritten)
	if err != nil {
		return fmt.Errorf("appending import log for %q: %w", object, err)
	}
	return nil
}
