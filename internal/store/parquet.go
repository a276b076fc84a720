package store

import (
	"bytes"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/xtxerr/fathom/internal/errors"
)

// Options configures chunk file encoding.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default chunk encoding options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// PingRow is one beam of one raw ping in Parquet format. Per-ping scalars
// (sector, frequency) are denormalized onto the beam rows; dictionary
// encoding keeps the repetition cheap.
type PingRow struct {
	TimestampUs   int64   `parquet:"timestamp_us"`
	Beam          int32   `parquet:"beam"`
	Sector        int32   `parquet:"sector"`
	Frequency     float64 `parquet:"frequency"`
	TravelTime    float64 `parquet:"travel_time"`
	PointingAngle float64 `parquet:"pointing_angle"`
	Quality       int32   `parquet:"quality"`
}

// AttitudeRow is one attitude sample in Parquet format.
type AttitudeRow struct {
	TimestampUs int64   `parquet:"timestamp_us"`
	Heading     float64 `parquet:"heading"`
	Pitch       float64 `parquet:"pitch"`
	Roll        float64 `parquet:"roll"`
	Heave       float64 `parquet:"heave"`
}

// NavigationRow is one navigation sample in Parquet format.
type NavigationRow struct {
	TimestampUs int64   `parquet:"timestamp_us"`
	Latitude    float64 `parquet:"latitude"`
	Longitude   float64 `parquet:"longitude"`
	Altitude    float64 `parquet:"altitude"`
}

// timestamped is implemented by the axis row types so generic append code
// can trim rows by time.
type timestamped interface {
	timestamp() int64
}

func (r PingRow) timestamp() int64       { return r.TimestampUs }
func (r AttitudeRow) timestamp() int64   { return r.TimestampUs }
func (r NavigationRow) timestamp() int64 { return r.TimestampUs }

// BeamValueRow is one (time, beam) element of a derived variable.
type BeamValueRow struct {
	TimestampUs int64   `parquet:"timestamp_us"`
	Beam        int32   `parquet:"beam"`
	Value       float64 `parquet:"value"`
}

// writeChunkFile encodes rows and writes the chunk file atomically: the
// parquet payload is built in memory, then swapped into place with a
// temp-file rename. Rewriting the same rows yields an identical file.
func writeChunkFile[T any](path string, rows []T, opts Options) error {
	var buf bytes.Buffer

	writer := parquet.NewGenericWriter[T](&buf,
		parquet.Compression(getCompression(opts.Compression)),
	)

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

// readChunkFile reads all rows from a chunk file. A file that cannot be
// parsed is reported as a corrupt chunk, which is fatal for the dataset.
func readChunkFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	numRows := int(reader.NumRows())
	if numRows == 0 {
		return nil, nil
	}

	rows := make([]T, numRows)
	n, err := reader.Read(rows)
	if err != nil && n != numRows {
		return nil, errors.Wrapf(errors.ErrCorruptChunk, "%s: %v", path, err)
	}

	return rows[:n], nil
}
