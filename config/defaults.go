// Package config provides configuration defaults and utilities
// for the fathom application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import (
	"runtime"
	"time"
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultChunkSize is the number of pings per storage chunk along the
	// time axis. Chunk boundaries never split a single ping's beams.
	// Override via config: store.chunk_size
	DefaultChunkSize = 1000

	// DefaultMaxBeams caps the beam axis width. Pings reporting more beams
	// are rejected during conversion as malformed.
	// Override via config: store.max_beams
	DefaultMaxBeams = 400

	// DefaultCompression is the Parquet compression algorithm for chunk files.
	// One of: zstd, snappy, lz4, gzip, none.
	// Override via config: store.compression
	DefaultCompression = "zstd"

	// DefaultCompressionLevel is the compression level (zstd: 1-22).
	// Override via config: store.compression_level
	DefaultCompressionLevel = 3
)

// =============================================================================
// Conversion Defaults
// =============================================================================

const (
	// DefaultReorderWindow bounds out-of-order arrival during conversion.
	// Records older than the newest buffered timestamp by more than this
	// window are counted as late and dropped.
	// Override via config: convert.reorder_window
	DefaultReorderWindow = 2 * time.Second

	// DefaultFlushBatch is the number of buffered pings that triggers a
	// flush to the store during conversion.
	// Override via config: convert.flush_batch
	DefaultFlushBatch = 256
)

// =============================================================================
// Pipeline Defaults
// =============================================================================

const (
	// DefaultMaxAttitudeGap is the largest tolerated gap between a ping time
	// and the nearest attitude sample. Pings inside a larger gap fail the
	// angle correction stage.
	// Override via config: pipeline.max_attitude_gap
	DefaultMaxAttitudeGap = time.Second

	// DefaultVerticalReference is the vertical datum for output depths.
	// One of: waterline, ellipse.
	// Override via config: pipeline.vertical_reference
	DefaultVerticalReference = "waterline"

	// DefaultDatum is the horizontal datum used when no explicit EPSG code
	// is configured. UTM zone is auto-detected from navigation.
	// Override via config: pipeline.datum
	DefaultDatum = "nad83"
)

// =============================================================================
// Executor Defaults
// =============================================================================

const (
	// DefaultQueueSize is the chunk job queue capacity.
	// Override via config: executor.queue_size
	DefaultQueueSize = 1024

	// DefaultStageTimeout bounds external capability calls (projection
	// service) per chunk. A timeout is a stage failure for that chunk, not
	// a run-wide abort.
	// Override via config: executor.stage_timeout
	DefaultStageTimeout = 30 * time.Second
)

// DefaultWorkers is the number of concurrent chunk workers.
// Override via config: executor.workers
func DefaultWorkers() int {
	return runtime.NumCPU()
}
