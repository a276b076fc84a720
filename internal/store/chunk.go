package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimeRange is a half-open interval [StartUs, EndUs) in Unix microseconds.
type TimeRange struct {
	StartUs int64 `yaml:"start_us"`
	EndUs   int64 `yaml:"end_us"`
}

// Contains reports whether ts falls inside the range.
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.StartUs && ts < r.EndUs
}

// Overlaps reports whether the two ranges intersect.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.StartUs < other.EndUs && other.StartUs < r.EndUs
}

// Duration returns the span of the range.
func (r TimeRange) Duration() time.Duration {
	return time.Duration(r.EndUs-r.StartUs) * time.Microsecond
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.StartUs, r.EndUs)
}

// Chunk describes one stored chunk of an axis.
type Chunk struct {
	// Seq is the chunk sequence number within its axis, zero-based.
	Seq int `yaml:"seq"`

	// Range covers the entry timestamps in this chunk. EndUs is the last
	// timestamp plus one, so adjacent chunks tile without gaps.
	Range TimeRange `yaml:"range"`

	// Rows is the number of axis entries (pings or samples, not beams).
	Rows int `yaml:"rows"`
}

// Stage identifies one correction stage. Stages are strictly ordered.
type Stage int

const (
	StageAngle Stage = iota
	StageSV
	StageGeoref
	stageCount
)

// Stages lists all stages in execution order.
func Stages() []Stage {
	return []Stage{StageAngle, StageSV, StageGeoref}
}

// String returns a human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageAngle:
		return "angle"
	case StageSV:
		return "svcorrect"
	case StageGeoref:
		return "georef"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ProcessingState tracks a chunk's progress through one stage.
type ProcessingState int

const (
	StateUnprocessed ProcessingState = iota
	StateInProgress
	StateDone
	StateFailed
)

// String returns a human-readable state name.
func (s ProcessingState) String() string {
	switch s {
	case StateUnprocessed:
		return "unprocessed"
	case StateInProgress:
		return "in-progress"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// chunkFileName returns the file name for a chunk sequence number.
func chunkFileName(seq int) string {
	return fmt.Sprintf("chunk_%06d.parquet", seq)
}

// atomicWriteFile writes data to path via a temp file in the same directory
// followed by rename, fsyncing before the swap. A crash mid-write leaves any
// previous file contents intact.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
