// Package loader handles configuration file loading and validation.
//
// Configuration is YAML with environment variable expansion; every field
// falls back to the documented default when absent.
package loader

import (
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/fathom/config"
	"github.com/xtxerr/fathom/internal/crs"
	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/store"
)

// Config is the top-level configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Convert  ConvertConfig  `yaml:"convert"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Executor ExecutorConfig `yaml:"executor"`
	Export   ExportConfig   `yaml:"export"`
}

// StoreConfig configures the array store.
type StoreConfig struct {
	// Root directory holding one store per system serial.
	Root string `yaml:"root"`

	ChunkSize        int    `yaml:"chunk_size"`
	MaxBeams         int    `yaml:"max_beams"`
	Compression      string `yaml:"compression"`
	CompressionLevel int    `yaml:"compression_level"`
}

// ConvertConfig configures the conversion adapter.
type ConvertConfig struct {
	ReorderWindow time.Duration `yaml:"reorder_window"`
	FlushBatch    int           `yaml:"flush_batch"`
}

// PipelineConfig configures the correction pipeline.
type PipelineConfig struct {
	MaxAttitudeGap    time.Duration `yaml:"max_attitude_gap"`
	VerticalReference string        `yaml:"vertical_reference"`
	Datum             string        `yaml:"datum"`

	// EPSG pins the target projected CRS. Zero selects a UTM zone
	// automatically from the first navigation fix.
	EPSG int `yaml:"epsg"`
}

// ExecutorConfig configures the parallel executor.
type ExecutorConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// ExportConfig configures the export boundary.
type ExportConfig struct {
	// Partition groups exported soundings: sector, frequency or system.
	Partition string `yaml:"partition"`

	// Dest directory for exported files.
	Dest string `yaml:"dest"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Root:             "./survey",
			ChunkSize:        config.DefaultChunkSize,
			MaxBeams:         config.DefaultMaxBeams,
			Compression:      config.DefaultCompression,
			CompressionLevel: config.DefaultCompressionLevel,
		},
		Convert: ConvertConfig{
			ReorderWindow: config.DefaultReorderWindow,
			FlushBatch:    config.DefaultFlushBatch,
		},
		Pipeline: PipelineConfig{
			MaxAttitudeGap:    config.DefaultMaxAttitudeGap,
			VerticalReference: config.DefaultVerticalReference,
			Datum:             config.DefaultDatum,
		},
		Executor: ExecutorConfig{
			Workers:      config.DefaultWorkers(),
			QueueSize:    config.DefaultQueueSize,
			StageTimeout: config.DefaultStageTimeout,
		},
		Export: ExportConfig{
			Partition: "sector",
			Dest:      "./export",
		},
	}
}

// Load loads configuration from a YAML file, expanding environment
// variables. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config at path, or returns defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if cfg.Store.Root == "" {
		errs.AddField("store.root", "cannot be empty")
	}
	if cfg.Store.ChunkSize <= 0 {
		errs.AddField("store.chunk_size", "must be positive")
	}
	if cfg.Store.MaxBeams <= 0 {
		errs.AddField("store.max_beams", "must be positive")
	}
	switch cfg.Store.Compression {
	case "zstd", "snappy", "lz4", "gzip", "none", "":
	default:
		errs.AddField("store.compression", fmt.Sprintf("unknown algorithm %q", cfg.Store.Compression))
	}

	if cfg.Convert.ReorderWindow <= 0 {
		errs.AddField("convert.reorder_window", "must be positive")
	}
	if cfg.Convert.FlushBatch <= 0 {
		errs.AddField("convert.flush_batch", "must be positive")
	}

	if cfg.Pipeline.MaxAttitudeGap <= 0 {
		errs.AddField("pipeline.max_attitude_gap", "must be positive")
	}
	if !crs.ValidVerticalReference(cfg.Pipeline.VerticalReference) {
		errs.AddField("pipeline.vertical_reference",
			fmt.Sprintf("%q is not supported", cfg.Pipeline.VerticalReference))
	}
	if cfg.Pipeline.EPSG == 0 {
		if _, err := crs.GeographicEPSG(cfg.Pipeline.Datum); err != nil {
			errs.AddField("pipeline.datum", err.Error())
		}
	}

	if cfg.Executor.Workers <= 0 {
		errs.AddField("executor.workers", "must be positive")
	}
	if cfg.Executor.QueueSize <= 0 {
		errs.AddField("executor.queue_size", "must be positive")
	}

	switch cfg.Export.Partition {
	case "sector", "frequency", "system":
	default:
		errs.AddField("export.partition", "want sector, frequency or system")
	}

	return errs.Err()
}

// StoreOptions converts the store section into store options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Compression:      store.ParseCompressionType(c.Store.Compression),
		CompressionLevel: c.Store.CompressionLevel,
	}
}
