// Package export is the read boundary over corrected soundings. DuckDB
// queries the corrected parquet chunks directly; only chunks whose pipeline
// state is done are exposed, so a partially processed survey never leaks
// half-corrected rows.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/dustin/go-humanize"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/logging"
	"github.com/xtxerr/fathom/internal/record"
	"github.com/xtxerr/fathom/internal/store"
)

var log = logging.Component("export")

// Partition keys accepted by Export and Soundings.
const (
	PartitionSector    = "sector"
	PartitionFrequency = "frequency"
	PartitionSystem    = "system"
)

// Sounding is one corrected sounding.
type Sounding struct {
	TimestampUs int64
	Beam        int32
	Sector      int32
	Frequency   float64
	X, Y, Z     float64
}

// DepthSummary describes the depth distribution of one partition.
type DepthSummary struct {
	Count              int64
	Min, Max, Mean     float64
	P50, P90, P95, P99 float64
}

// Result summarizes one export.
type Result struct {
	// Files maps partition value to the written file path.
	Files map[string]string

	// Soundings counts exported rows per partition value.
	Soundings map[string]int64

	// Depths summarizes the depth distribution per partition value.
	Depths map[string]DepthSummary
}

// Service queries corrected chunks for one system dataset.
type Service struct {
	st *store.Store
	db *sql.DB
}

// New creates an export service with an in-memory DuckDB instance.
func New(st *store.Store) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Service{st: st, db: db}, nil
}

// Close releases the query engine.
func (s *Service) Close() error {
	return s.db.Close()
}

// doneChunks returns the chunks fully processed through every stage.
func (s *Service) doneChunks() []store.Chunk {
	var done []store.Chunk
	for _, chunk := range s.st.ListChunks() {
		if s.st.Status(chunk.Seq).Overall() == store.StateDone {
			done = append(done, chunk)
		}
	}
	return done
}

// Soundings reads every corrected sounding from done chunks, time ordered.
// Beams flagged rejected are excluded.
func (s *Service) Soundings(ctx context.Context) ([]Sounding, error) {
	done := s.doneChunks()
	if len(done) == 0 {
		return nil, nil
	}

	pingFiles := make([]string, 0, len(done))
	xFiles := make([]string, 0, len(done))
	yFiles := make([]string, 0, len(done))
	zFiles := make([]string, 0, len(done))
	for _, c := range done {
		pingFiles = append(pingFiles, s.st.AxisChunkPath(store.AxisPing, c.Seq))
		xFiles = append(xFiles, s.st.ChunkPath(store.VarX, c.Seq))
		yFiles = append(yFiles, s.st.ChunkPath(store.VarY, c.Seq))
		zFiles = append(zFiles, s.st.ChunkPath(store.VarZ, c.Seq))
	}

	query := fmt.Sprintf(`
		SELECT
			p.timestamp_us, p.beam, p.sector, p.frequency,
			x.value, y.value, z.value
		FROM read_parquet(%s) p
		JOIN read_parquet(%s) x ON x.timestamp_us = p.timestamp_us AND x.beam = p.beam
		JOIN read_parquet(%s) y ON y.timestamp_us = p.timestamp_us AND y.beam = p.beam
		JOIN read_parquet(%s) z ON z.timestamp_us = p.timestamp_us AND z.beam = p.beam
		WHERE p.quality < %d
		ORDER BY p.timestamp_us, p.beam
	`, fileList(pingFiles), fileList(xFiles), fileList(yFiles), fileList(zFiles),
		record.QualityRejected)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query soundings: %w", err)
	}
	defer rows.Close()

	var out []Sounding
	for rows.Next() {
		var snd Sounding
		if err := rows.Scan(&snd.TimestampUs, &snd.Beam, &snd.Sector, &snd.Frequency,
			&snd.X, &snd.Y, &snd.Z); err != nil {
			return nil, fmt.Errorf("scan sounding: %w", err)
		}
		out = append(out, snd)
	}
	return out, rows.Err()
}

// Export writes done soundings grouped by partitionKey, one delimited file
// per partition value under destDir, and returns the per-partition summary.
func (s *Service) Export(ctx context.Context, partitionKey, destDir string) (*Result, error) {
	partition, err := partitionFunc(partitionKey, s.st.Dataset().Serial)
	if err != nil {
		return nil, err
	}

	soundings, err := s.Soundings(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	groups := make(map[string][]Sounding)
	for _, snd := range soundings {
		k := partition(snd)
		groups[k] = append(groups[k], snd)
	}

	result := &Result{
		Files:     make(map[string]string, len(groups)),
		Soundings: make(map[string]int64, len(groups)),
		Depths:    make(map[string]DepthSummary, len(groups)),
	}
	for value, group := range groups {
		path := filepath.Join(destDir, fmt.Sprintf("survey_%s.csv", value))
		if err := writeSoundingsFile(path, group); err != nil {
			return nil, err
		}
		summary, err := summarizeDepths(group)
		if err != nil {
			return nil, err
		}
		result.Files[value] = path
		result.Soundings[value] = int64(len(group))
		result.Depths[value] = summary

		log.Info("partition exported",
			"partition", value,
			"soundings", humanize.Comma(int64(len(group))),
			"file", path,
			"depth_p50", fmt.Sprintf("%.2f", summary.P50))
	}
	return result, nil
}

func partitionFunc(key, serial string) (func(Sounding) string, error) {
	switch key {
	case PartitionSector:
		return func(s Sounding) string { return strconv.Itoa(int(s.Sector)) }, nil
	case PartitionFrequency:
		return func(s Sounding) string { return strconv.FormatFloat(s.Frequency, 'f', 0, 64) }, nil
	case PartitionSystem:
		return func(Sounding) string { return serial }, nil
	default:
		return nil, errors.NewInvalidValue("partition", key, "want sector, frequency or system")
	}
}

func writeSoundingsFile(path string, soundings []Sounding) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp_us", "beam", "sector", "frequency_hz", "x", "y", "z"}); err != nil {
		return err
	}
	for _, s := range soundings {
		rec := []string{
			strconv.FormatInt(s.TimestampUs, 10),
			strconv.Itoa(int(s.Beam)),
			strconv.Itoa(int(s.Sector)),
			strconv.FormatFloat(s.Frequency, 'f', 0, 64),
			strconv.FormatFloat(s.X, 'f', 3, 64),
			strconv.FormatFloat(s.Y, 'f', 3, 64),
			strconv.FormatFloat(s.Z, 'f', 3, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// summarizeDepths sketches the z distribution of one partition.
func summarizeDepths(soundings []Sounding) (DepthSummary, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return DepthSummary{}, fmt.Errorf("create sketch: %w", err)
	}

	var sum float64
	for _, s := range soundings {
		if err := sketch.Add(s.Z); err != nil {
			return DepthSummary{}, fmt.Errorf("sketch depth: %w", err)
		}
		sum += s.Z
	}

	n := len(soundings)
	if n == 0 {
		return DepthSummary{}, nil
	}

	min, err := sketch.GetMinValue()
	if err != nil {
		return DepthSummary{}, err
	}
	max, err := sketch.GetMaxValue()
	if err != nil {
		return DepthSummary{}, err
	}
	qs, err := sketch.GetValuesAtQuantiles([]float64{0.5, 0.9, 0.95, 0.99})
	if err != nil {
		return DepthSummary{}, err
	}

	return DepthSummary{
		Count: int64(n),
		Min:   min,
		Max:   max,
		Mean:  sum / float64(n),
		P50:   qs[0],
		P90:   qs[1],
		P95:   qs[2],
		P99:   qs[3],
	}, nil
}

// fileList renders paths as a DuckDB list literal. Paths come from the
// store's own layout, never from user input; quotes are escaped anyway.
func fileList(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = "'" + strings.ReplaceAll(p, "'", "''") + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
