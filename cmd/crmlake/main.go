// Package main implements the crmlake stage service. The service exposes
// the replication stages over HTTP so an external scheduler can drive
// objects through prepare, import, publish, and cleanup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/crmlake/crmlake/internal/app"
	"github.com/crmlake/crmlake/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		httpAddr    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address for the stage service")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "crmlake - CRM warehouse replication service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: crmlake [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  crmlake --config /etc/crmlake/config.yaml\n")
		fmt.Fprintf(os.Stderr, "  CRMLAKE_WAREHOUSE_DSN=postgres://... crmlake\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CRMLAKE_INSTALLATION_ID  Installation the schema documents belong to\n")
		fmt.Fprintf(os.Stderr, "  CRMLAKE_WAREHOUSE_DSN    Postgres connection string\n")
		fmt.Fprintf(os.Stderr, "  CRMLAKE_STORAGE_TYPE     Object storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  CRMLAKE_S3_BUCKET        S3 bucket for schemas and run state\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("crmlake version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A .env file is optional; environment variables win over it.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, httpAddr)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("crmlake %s starting: installation=%s storage=%s schemas=%s/%s/%s",
		version, cfg.InstallationID, cfg.Storage.Type,
		cfg.Warehouse.Schemas.Staging, cfg.Warehouse.Schemas.Transitional, cfg.Warehouse.Schemas.Published)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and flags, in that
// order of increasing priority.
func loadConfig(configFile, httpAddr string) (*config.Config, error) {
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

	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	return cfg, nil
}
