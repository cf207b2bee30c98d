// Package main implements crmlake-stage, a one-shot runner that executes a
// single replication stage and prints the result as JSON. It exists for
// schedulers that exec a process per stage instead of calling the service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/crmlake/crmlake/internal/app"
	"github.com/crmlake/crmlake/internal/config"
	"github.com/crmlake/crmlake/internal/connector"
	"github.com/crmlake/crmlake/internal/warehouse"
)

func main() {
	var (
		configFile string
		stage      string
		runID      string
		object     string
		seconds    float64
		bytes      int64
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&stage, "stage", "", "Stage to run: prepare, import, publish, cleanup, discover, status")
	flag.StringVar(&runID, "run-id", "", "Run identifier")
	flag.StringVar(&object, "object", "", "Source object name")
	flag.Float64Var(&seconds, "import-seconds", 0, "Extraction duration to record during cleanup")
	flag.Int64Var(&bytes, "import-bytes", 0, "Extraction size to record during cleanup")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "crmlake-stage - run one replication stage and exit\n\n")
		fmt.Fprintf(os.Stderr, "Usage: crmlake-stage --stage <stage> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  crmlake-stage --stage discover\n")
		fmt.Fprintf(os.Stderr, "  crmlake-stage --stage prepare --run-id r-42 --object Account\n")
		fmt.Fprintf(os.Stderr, "  crmlake-stage --stage cleanup --run-id r-42 --object Account --import-seconds 12.5\n")
	}

	flag.Parse()

	if stage == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	result, err := runStage(ctx, cfg, stage, runID, object, seconds, bytes)
	if err != nil {
		log.Fatalf("Stage %s failed: %v", stage, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
}

func loadConfig(configFile string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStage(ctx context.Context, cfg *config.Config, stage, runID, object string, seconds float64, bytes int64) (any, error) {
	store, err := app.BuildStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	pool, err := warehouse.NewPool(ctx, warehouse.PoolConfig{
		DSN:            cfg.Warehouse.DSN,
		MaxConns:       cfg.Warehouse.MaxConns,
		ConnectTimeout: cfg.Warehouse.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to warehouse: %w", err)
	}
	defer pool.Close()

	if err := app.Bootstrap(ctx, pool, cfg.Warehouse.Schemas); err != nil {
		return nil, err
	}

	source := connector.NewStore(store)
	p := app.BuildPipeline(cfg, store, pool, source)

	switch stage {
	case "discover":
		return p.Discover(ctx)
	case "prepare":
		if err := requireRun(runID, object); err != nil {
			return nil, err
		}
		return p.Prepare(ctx, runID, object)
	case "import":
		if err := requireRun(runID, object); err != nil {
			return nil, err
		}
		return p.Import(ctx, runID, object)
	case "publish":
		if object == "" {
			return nil, fmt.Errorf("--object is required")
		}
		return p.Publish(ctx, object)
	case "cleanup":
		if err := requireRun(runID, object); err != nil {
			return nil, err
		}
		var stats *connector.ExtractionStats
		if seconds > 0 || bytes > 0 {
			stats = &connector.ExtractionStats{Seconds: seconds, Bytes: bytes}
		}
		return p.Cleanup(ctx, runID, object, stats)
	case "status":
		if err := requireRun(runID, object); err != nil {
			return nil, err
		}
		return p.Status(ctx, runID, object)
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

func requireRun(runID, object string) error {
	if runID == "" || object == "" {
		return fmt.Errorf("--run-id and --object are required")
	}
	return nil
}
