// Package config provides unified configuration for the crmlake pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crmlake/crmlake/internal/warehouse"
)

// Config holds the unified configuration for the pipeline service.
type Config struct {
	// InstallationID distinguishes this installation's documents in the
	// shared object store
	InstallationID string `json:"installation_id" yaml:"installation_id"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Warehouse configuration
	Warehouse WarehouseConfig `json:"warehouse" yaml:"warehouse"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Pipeline configuration
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address for the stage endpoints
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// WarehouseConfig holds relational warehouse configuration.
type WarehouseConfig struct {
	// DSN is the Postgres connection string
	DSN string `json:"dsn" yaml:"dsn"`

	// MaxConns caps the connection pool size
	MaxConns int32 `json:"max_conns" yaml:"max_conns"`

	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	// Schemas names the staging, transitional, and published schemas
	Schemas warehouse.Schemas `json:"schemas" yaml:"schemas"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// FetchConcurrency is the number of parallel data-file reads
	FetchConcurrency int `json:"fetch_concurrency" yaml:"fetch_concurrency"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// ServerSideEncryption is the SSE algorithm applied on writes
	ServerSideEncryption string `json:"server_side_encryption" yaml:"server_side_encryption"`

	// KMSKeyID is the KMS key used with aws:kms encryption
	KMSKeyID string `json:"kms_key_id" yaml:"kms_key_id"`
}

// PipelineConfig holds replication pipeline tunables.
type PipelineConfig struct {
	// RemovalCap bounds schema-definition deletions per discovery run
	RemovalCap int `json:"removal_cap" yaml:"removal_cap"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		InstallationID: "default",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Warehouse: WarehouseConfig{
			DSN:            "postgres://localhost:5432/crmlake",
			MaxConns:       8,
			ConnectTimeout: 10 * time.Second,
			Schemas:        warehouse.DefaultSchemas(),
		},
		Storage: StorageConfig{
			Type:             "local",
			Path:             "./data/crmlake",
			FetchConcurrency: 4,
		},
		Pipeline: PipelineConfig{
			RemovalCap: 10,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.InstallationID == "" {
		return fmt.Errorf("installation_id is required")
	}

	if c.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse.dsn is required")
	}

	if err := c.Warehouse.Schemas.Validate(); err != nil {
		return err
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Storage.Type == "local" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage type is local")
	}

	if c.Pipeline.RemovalCap < 1 {
		return fmt.Errorf("pipeline.removal_cap must be at least 1, got %d", c.Pipeline.RemovalCap)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CRMLAKE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CRMLAKE_INSTALLATION_ID"); v != "" {
		cfg.InstallationID = v
	}

	// HTTP configuration
	if v := os.Getenv("CRMLAKE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Warehouse configuration
	if v := os.Getenv("CRMLAKE_WAREHOUSE_DSN"); v != "" {
		cfg.Warehouse.DSN = v
	}
	if v := os.Getenv("CRMLAKE_WAREHOUSE_MAX_CONNS"); v != "" {
		var n int32
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			cfg.Warehouse.MaxConns = n
		}
	}
	if v := os.Getenv("CRMLAKE_SCHEMA_STAGING"); v != "" {
		cfg.Warehouse.Schemas.Staging = v
	}
	if v := os.Getenv("CRMLAKE_SCHEMA_TRANSITIONAL"); v != "" {
		cfg.Warehouse.Schemas.Transitional = v
	}
	if v := os.Getenv("CRMLAKE_SCHEMA_PUBLISHED"); v != "" {
		cfg.Warehouse.Schemas.Published = v
	}

	// Storage configuration
	if v := os.Getenv("CRMLAKE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CRMLAKE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("CRMLAKE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("CRMLAKE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("CRMLAKE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Pipeline configuration
	if v := os.Getenv("CRMLAKE_REMOVAL_CAP"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			cfg.Pipeline.RemovalCap = n
		}
	}
}
