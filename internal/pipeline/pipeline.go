// Package pipeline orchestrates the replication stages for a single object:
// prepare, import, publish, and cleanup, plus installation-wide discovery.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/crmlake/crmlake/internal/connector"
	"github.com/crmlake/crmlake/internal/discovery"
	"github.com/crmlake/crmlake/internal/loader"
	"github.com/crmlake/crmlake/internal/publish"
	"github.com/crmlake/crmlake/internal/retire"
	"github.com/crmlake/crmlake/internal/runstatus"
	"github.com/crmlake/crmlake/internal/schemastore"
	"github.com/crmlake/crmlake/internal/staging"
	"github.com/crmlake/crmlake/internal/storage"
	"github.com/crmlake/crmlake/pkg/types"
)

// Pipeline wires the stage components together. Each stage is independently
// invocable so a scheduler can drive objects through the stages and re-run a
// stage after a crash.
type Pipeline struct {
	schemas   *schemastore.Client
	builder   *staging.Builder
	engine    *loader.Engine
	publisher *publish.Protocol
	sweeper   *retire.Sweeper
	discovery *discovery.Discovery
	recorder  *runstatus.Recorder
	source    connector.Connector
	fetcher   *storage.BatchFetcher
}

// Options collects the components a Pipeline is built from.
type Options struct {
	Schemas   *schemastore.Client
	Builder   *staging.Builder
	Engine    *loader.Engine
	Publisher *publish.Protocol
	Sweeper   *retire.Sweeper
	Discovery *discovery.Discovery
	Recorder  *runstatus.Recorder
	Source    connector.Connector
	Fetcher   *storage.BatchFetcher
}

// New creates a Pipeline from its components.
func New(opts Options) *Pipeline {
	return &Pipeline{
		schemas:   opts.Schemas,
		builder:   opts.Builder,
		engine:    opts.Engine,
		publisher: opts.Publisher,
		sweeper:   opts.Sweeper,
		discovery: opts.Discovery,
		recorder:  opts.Recorder,
		source:    opts.Source,
		fetcher:   opts.Fetcher,
	}
}

// PrepareResult reports the outcome of the prepare stage.
type PrepareResult struct {
	Object string `json:"object"`
	Table  string `json:"table"`
}

// Prepare creates a fresh staging table for the object from its stored
// schema definition and records the run as PREPARING.
func (p *Pipeline) Prepare(ctx context.Context, runID, object string) (*PrepareResult, error) {
	schema, err := p.schemas.Get(ctx, object)
	if err != nil {
		return nil, err
	}

	table, err := p.builder.Prepare(ctx, schema)
	if err != nil {
		return nil, err
	}

	if err := p.recorder.Record(ctx, object, runID, types.StagePreparing, nil); err != nil {
		return nil, err
	}

	return &PrepareResult{Object: object, Table: table}, nil
}

// ImportResult reports the outcome of the import stage.
type ImportResult struct {
	Object     string  `json:"object"`
	Rows       int     `json:"rows"`
	Statements int     `json:"statements"`
	Seconds    float64 `json:"seconds"`
	Bytes      int64   `json:"bytes"`
}

// Import pulls the extracted records for the object from the source
// connector and loads them into the staging table. The run is marked
// IN_PROGRESS while loading and IMPORTING once the load completes.
func (p *Pipeline) Import(ctx context.Context, runID, object string) (*ImportResult, error) {
	schema, err := p.schemas.Get(ctx, object)
	if err != nil {
		return nil, err
	}

	if err := p.recorder.Record(ctx, object, runID, types.StageInProgress, nil); err != nil {
		return nil, err
	}

	extraction, err := p.source.Extraction(ctx, runID, object)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	records, err := connector.FetchRecords(ctx, p.fetcher, extraction)
	if err != nil {
		return nil, err
	}

	result, err := p.engine.Load(ctx, schema, records)
	if err != nil {
		return nil, err
	}

	seconds := extraction.Stats.Seconds + time.Since(start).Seconds()

	if err := p.recorder.Record(ctx, object, runID, types.StageImporting, nil); err != nil {
		return nil, err
	}

	log.Printf("imported %d rows into staging for %s in %d statements", result.Rows, object, result.Statements)

	return &ImportResult{
		Object:     object,
		Rows:       result.Rows,
		Statements: result.Statements,
		Seconds:    seconds,
		Bytes:      extraction.Stats.Bytes,
	}, nil
}

// Publish swaps the staged table into the published schema.
func (p *Pipeline) Publish(ctx context.Context, object string) (*publish.Result, error) {
	return p.publisher.Publish(ctx, object)
}

// CleanupResult reports the outcome of the cleanup stage.
type CleanupResult struct {
	Object   string                `json:"object"`
	Dropped  []string              `json:"dropped_schemas"`
	Retired  []string              `json:"retired_tables"`
	Metadata *types.ImportMetadata `json:"metadata"`
}

// Cleanup retires the working schemas and orphaned published tables, then
// records the run as SUCCESSFUL together with the final table metrics.
func (p *Pipeline) Cleanup(ctx context.Context, runID, object string, stats *connector.ExtractionStats) (*CleanupResult, error) {
	result, err := p.sweeper.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	meta, err := p.recorder.RecordCleanup(ctx, object, runID, stats)
	if err != nil {
		return nil, err
	}

	return &CleanupResult{
		Object:   object,
		Dropped:  result.DroppedSchemas,
		Retired:  result.RetiredTables,
		Metadata: meta,
	}, nil
}

// Discover reconciles the stored schema definitions with the entities the
// source connector currently exposes.
func (p *Pipeline) Discover(ctx context.Context) (*discovery.Result, error) {
	return p.discovery.Reconcile(ctx)
}

// Status returns the recorded status document for a run and object.
func (p *Pipeline) Status(ctx context.Context, runID, object string) (*types.RunStatus, error) {
	return p.recorder.Status(ctx, object, runID)
}
