package pipeline

import (
	"context"
	"testing"

	"github.com/crmlake/crmlake/internal/connector"
	"github.com/crmlake/crmlake/internal/discovery"
	"github.com/crmlake/crmlake/internal/loader"
	"github.com/crmlake/crmlake/internal/publish"
	"github.com/crmlake/crmlake/internal/retire"
	"github.com/crmlake/crmlake/internal/runstatus"
	"github.com/crmlake/crmlake/internal/schemastore"
	"github.com/crmlake/crmlake/internal/staging"
	"github.com/crmlake/crmlake/internal/storage"
	"github.com/crmlake/crmlake/internal/warehouse"
	"github.com/crmlake/crmlake/pkg/types"
)

type fixture struct {
	pipeline *Pipeline
	store    storage.ObjectStorage
	db       *warehouse.MemoryDB
	schemas  warehouse.Schemas
	source   *connector.Static
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("creating local storage: %v", err)
	}
	db := warehouse.NewMemoryDB()
	schemas := warehouse.DefaultSchemas()

	if err := warehouse.EnsureSchema(ctx, db, schemas.Published); err != nil {
		t.Fatalf("ensuring published schema: %v", err)
	}
	if err := warehouse.EnsureImportLog(ctx, db, schemas.Published); err != nil {
		t.Fatalf("ensuring import log: %v", err)
	}

	source := &connector.Static{
		Entities: []string{"Account"},
		Fields: map[string][]connector.FieldDescription{
			"Account": {
				{Name: "Id", Type: types.FieldTypeID},
				{Name: "Name", Type: types.FieldTypeString},
				{Name: "AnnualRevenue", Type: types.FieldTypeCurrency},
			},
		},
		Extractions: map[string]*connector.Extraction{},
	}

	schemaStore := schemastore.New(store, "inst-a")
	p := New(Options{
		Schemas:   schemaStore,
		Builder:   staging.NewBuilder(db, schemas),
		Engine:    loader.NewEngine(db, schemas),
		Publisher: publish.NewProtocol(db, schemas),
		Sweeper:   retire.NewSweeper(db, schemas, source),
		Discovery: discovery.New(source, schemaStore, 10),
		Recorder:  runstatus.NewRecorder(store, db, schemas),
		Source:    source,
		Fetcher:   storage.NewBatchFetcher(store, 2),
	})
	return &fixture{pipeline: p, store: store, db: db, schemas: schemas, source: source}
}

func (f *fixture) seedExtraction(t *testing.T, runID string, lines string) {
	t.Helper()
	path := "extractions/" + runID + "/account-0.jsonl"
	if err := f.store.Put(context.Background(), path, []byte(lines)); err != nil {
		t.Fatalf("seeding extraction: %v", err)
	}
	f.source.Extractions["Account"] = &connector.Extraction{
		ObjectPaths: []string{path},
		Stats:       connector.ExtractionStats{Seconds: 2.5, Bytes: int64(len(lines))},
	}
}

func TestFullRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Discovery writes the Account schema definition from the connector.
	disc, err := f.pipeline.Discover(ctx)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(disc.Written) != 1 || disc.Written[0] != "Account" {
		t.Fatalf("written = %v", disc.Written)
	}

	prep, err := f.pipeline.Prepare(ctx, "run-1", "Account")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if prep.Table != "account" {
		t.Errorf("table = %q", prep.Table)
	}
	if !f.db.SchemaExists(f.schemas.Staging) {
		t.Error("staging schema missing after prepare")
	}

	f.seedExtraction(t, "run-1", `{"Id":"001xx000003DGb1AAG","Name":"Acme","AnnualRevenue":"12.5"}
{"Id":"001xx000003DGb2AAG","Name":"Globex","AnnualRevenue":250000}
`)

	imp, err := f.pipeline.Import(ctx, "run-1", "Account")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imp.Rows != 2 {
		t.Errorf("rows = %d", imp.Rows)
	}
	if imp.Seconds < 2.5 {
		t.Errorf("seconds = %f, want connector time included", imp.Seconds)
	}

	pub, err := f.pipeline.Publish(ctx, "Account")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.Action != publish.ActionPublished {
		t.Errorf("action = %q", pub.Action)
	}
	rows := f.db.TableRows(f.schemas.Published, "account")
	if len(rows) != 2 {
		t.Fatalf("published rows = %d", len(rows))
	}

	clean, err := f.pipeline.Cleanup(ctx, "run-1", "Account",
		&connector.ExtractionStats{Seconds: 2.5, Bytes: 4096})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if clean.Metadata == nil || clean.Metadata.RowCount != 2 {
		t.Fatalf("metadata = %+v", clean.Metadata)
	}
	if f.db.SchemaExists(f.schemas.Staging) || f.db.SchemaExists(f.schemas.Transitional) {
		t.Error("working schemas survived cleanup")
	}

	status, err := f.pipeline.Status(ctx, "run-1", "Account")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Stage != types.StageSuccessful {
		t.Errorf("stage = %q", status.Stage)
	}
	if status.Metadata == nil || status.Metadata.BytesWritten != 4096 {
		t.Errorf("status metadata = %+v", status.Metadata)
	}
}

func TestRepublishAfterSecondImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.pipeline.Discover(ctx); err != nil {
		t.Fatalf("discover: %v", err)
	}

	runRound := func(runID, lines string) {
		t.Helper()
		if _, err := f.pipeline.Prepare(ctx, runID, "Account"); err != nil {
			t.Fatalf("prepare %s: %v", runID, err)
		}
		f.seedExtraction(t, runID, lines)
		if _, err := f.pipeline.Import(ctx, runID, "Account"); err != nil {
			t.Fatalf("import %s: %v", runID, err)
		}
		if _, err := f.pipeline.Publish(ctx, "Account"); err != nil {
			t.Fatalf("publish %s: %v", runID, err)
		}
	}

	runRound("run-1", `{"Id":"001xx000003DGb1AAG","Name":"Acme"}`+"\n")
	runRound("run-2", `{"Id":"001xx000003DGb1AAG","Name":"Acme Renamed"}
{"Id":"001xx000003DGb3AAG","Name":"Initech"}
`)

	rows := f.db.TableRows(f.schemas.Published, "account")
	if len(rows) != 2 {
		t.Fatalf("published rows = %d, want second import only", len(rows))
	}
	names := map[string]bool{}
	for _, r := range rows {
		names[r["name"].(string)] = true
	}
	if !names["Acme Renamed"] || !names["Initech"] {
		t.Errorf("published names = %v", names)
	}
}

func TestImportWithoutExtractionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.pipeline.Discover(ctx); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if _, err := f.pipeline.Prepare(ctx, "run-1", "Account"); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := f.pipeline.Import(ctx, "run-1", "Account"); err == nil {
		t.Error("expected error when the connector has no extraction")
	}
}
