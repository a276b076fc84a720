package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/fathom/config"
	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.Store.ChunkSize != config.DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", cfg.Store.ChunkSize, config.DefaultChunkSize)
	}
	if cfg.Pipeline.MaxAttitudeGap != config.DefaultMaxAttitudeGap {
		t.Errorf("MaxAttitudeGap = %v, want %v", cfg.Pipeline.MaxAttitudeGap, config.DefaultMaxAttitudeGap)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  root: /data/survey
  chunk_size: 500
  compression: snappy
pipeline:
  max_attitude_gap: 2s
  vertical_reference: ellipse
  epsg: 32619
executor:
  workers: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Root != "/data/survey" {
		t.Errorf("Root = %q", cfg.Store.Root)
	}
	if cfg.Store.ChunkSize != 500 {
		t.Errorf("ChunkSize = %d, want 500", cfg.Store.ChunkSize)
	}
	if cfg.Pipeline.MaxAttitudeGap != 2*time.Second {
		t.Errorf("MaxAttitudeGap = %v, want 2s", cfg.Pipeline.MaxAttitudeGap)
	}
	if cfg.Pipeline.EPSG != 32619 {
		t.Errorf("EPSG = %d, want 32619", cfg.Pipeline.EPSG)
	}

	// Untouched sections keep their defaults.
	if cfg.Convert.FlushBatch != config.DefaultFlushBatch {
		t.Errorf("FlushBatch = %d, want default %d", cfg.Convert.FlushBatch, config.DefaultFlushBatch)
	}
	if cfg.Export.Partition != "sector" {
		t.Errorf("Partition = %q, want sector", cfg.Export.Partition)
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("SURVEY_ROOT", "/mnt/surveys/h13999")
	path := writeConfig(t, `
store:
  root: ${SURVEY_ROOT}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Root != "/mnt/surveys/h13999" {
		t.Errorf("Root = %q, want expanded env value", cfg.Store.Root)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of missing file succeeded")
	}

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Store.ChunkSize != config.DefaultChunkSize {
		t.Errorf("defaults not applied, ChunkSize = %d", cfg.Store.ChunkSize)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "store: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() of malformed YAML succeeded")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.ChunkSize = 0
	cfg.Store.Compression = "brotli"
	cfg.Pipeline.VerticalReference = "geoid"
	cfg.Pipeline.Datum = "tokyo"
	cfg.Executor.Workers = -1
	cfg.Export.Partition = "beam"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() accepted invalid config")
	}
	if !errors.IsValidation(err) {
		t.Errorf("error is not a validation error: %v", err)
	}

	var verrs *errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error is not *ValidationErrors: %T", err)
	}
	if got := len(verrs.Errors); got != 6 {
		t.Errorf("got %d validation errors, want 6: %v", got, err)
	}
}

func TestValidatePinnedEPSGSkipsDatum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.EPSG = 32619
	cfg.Pipeline.Datum = "tokyo" // ignored when EPSG is pinned
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestStoreOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Compression = "snappy"
	cfg.Store.CompressionLevel = 0

	opts := cfg.StoreOptions()
	if opts.Compression != store.CompressionSnappy {
		t.Errorf("Compression = %v, want snappy", opts.Compression)
	}
}
