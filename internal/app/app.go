// Package app wires the pipeline components into a running service.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	httpapi "github.com/crmlake/crmlake/internal/api/http"
	"github.com/crmlake/crmlake/internal/config"
	"github.com/crmlake/crmlake/internal/connector"
	"github.com/crmlake/crmlake/internal/discovery"
	"github.com/crmlake/crmlake/internal/loader"
	"github.com/crmlake/crmlake/internal/pipeline"
	"github.com/crmlake/crmlake/internal/publish"
	"github.com/crmlake/crmlake/internal/retire"
	"github.com/crmlake/crmlake/internal/runstatus"
	"github.com/crmlake/crmlake/internal/schemastore"
	"github.com/crmlake/crmlake/internal/server"
	"github.com/crmlake/crmlake/internal/staging"
	"github.com/crmlake/crmlake/internal/storage"
	"github.com/crmlake/crmlake/internal/warehouse"
)

// App manages the stage service lifecycle.
type App struct {
	cfg *config.Config

	storage  storage.ObjectStorage
	pool     *warehouse.Pool
	pipeline *pipeline.Pipeline
	shutdown *server.ShutdownManager

	httpServer *http.Server

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start initializes shared resources and starts the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	store, err := BuildStorage(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.storage = store
	log.Printf("storage initialized: type=%s", a.cfg.Storage.Type)

	a.pool, err = warehouse.NewPool(ctx, warehouse.PoolConfig{
		DSN:            a.cfg.Warehouse.DSN,
		MaxConns:       a.cfg.Warehouse.MaxConns,
		ConnectTimeout: a.cfg.Warehouse.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	log.Printf("warehouse pool initialized: max_conns=%d", a.cfg.Warehouse.MaxConns)

	if err := Bootstrap(ctx, a.pool, a.cfg.Warehouse.Schemas); err != nil {
		a.pool.Close()
		return err
	}

	source := connector.NewStore(store)
	a.pipeline = BuildPipeline(a.cfg, store, a.pool, source)

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{})
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.pool.Close()
		return nil
	}))

	mux := http.NewServeMux()
	handler := httpapi.NewStageHandler(a.pipeline)
	handler.Register(mux)

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      server.ShutdownMiddleware(a.shutdown)(mux),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("stage service listening on %s", a.cfg.HTTP.Addr)
		if err := a.shutdown.Serve(a.httpServer); err != nil {
			log.Printf("stage service error: %v", err)
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received, then drains
// and closes all resources.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()
	log.Printf("stage service stopped")
	return err
}

// Stop shuts the service down without waiting for a signal.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	return err
}

// BuildStorage creates the object store selected by the configuration.
func BuildStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		s3Cfg.ServerSideEncryption = cfg.Storage.S3.ServerSideEncryption
		s3Cfg.KMSKeyID = cfg.Storage.S3.KMSKeyID
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// Bootstrap ensures the published schema and the reserved import-log table
// exist before any stage runs.
func Bootstrap(ctx context.Context, db warehouse.DB, schemas warehouse.Schemas) error {
	if err := warehouse.EnsureSchema(ctx, db, schemas.Published); err != nil {
		return fmt.Errorf("ensuring published schema: %w", err)
	}
	if err := warehouse.EnsureImportLog(ctx, db, schemas.Published); err != nil {
		return fmt.Errorf("ensuring import log: %w", err)
	}
	return nil
}

// BuildPipeline assembles the stage components around shared handles. The
// database and object store are injected so tests can substitute fakes.
func BuildPipeline(cfg *config.Config, store storage.ObjectStorage, db warehouse.DB, source connector.Connector) *pipeline.Pipeline {
	schemas := cfg.Warehouse.Schemas
	schemaStore := schemastore.New(store, cfg.InstallationID)
	concurrency := cfg.Storage.FetchConcurrency

	return pipeline.New(pipeline.Options{
		Schemas:   schemaStore,
		Builder:   staging.NewBuilder(db, schemas),
		Engine:    loader.NewEngine(db, schemas),
		Publisher: publish.NewProtocol(db, schemas),
		Sweeper:   retire.NewSweeper(db, schemas, source),
		Discovery: discovery.New(source, schemaStore, cfg.Pipeline.RemovalCap),
		Recorder:  runstatus.NewRecorder(store, db, schemas),
		Source:    source,
		Fetcher:   storage.NewBatchFetcher(store, concurrency),
	})
}
