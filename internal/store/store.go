package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/logging"
	"github.com/xtxerr/fathom/internal/record"
)

var log = logging.Component("store")

// Store is the on-disk container for one system dataset. It exclusively owns
// the chunk layout and metadata; the correction pipeline only reads and
// writes variable values within chunks it is assigned.
//
// Store is safe for concurrent use. Workers operate on disjoint chunks, so
// the only contention is on the manifest, which is guarded by a single lock.
type Store struct {
	mu     sync.Mutex
	root   string
	schema Schema
	opts   Options
	m      *manifest
	closed bool

	// Statistics
	stats Stats
}

// Stats holds store statistics.
type Stats struct {
	RowsAppended  int64
	ChunksWritten int64
}

// OpenOrCreate opens the store at path, creating it with the given schema if
// it does not exist. Opening an existing store with a conflicting schema
// fails with ErrSchemaMismatch.
func OpenOrCreate(path string, schema Schema, opts Options) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	existing, err := loadSchema(path)
	switch {
	case err == nil:
		if !existing.Equal(&schema) {
			return nil, errors.Wrapf(errors.ErrSchemaMismatch, "store %s", path)
		}
		// Installation parameters may have been revised; the requested
		// schema wins and the stamp comparison will invalidate chunks.
		if err := saveSchema(path, &schema); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		if err := saveSchema(path, &schema); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load schema: %w", err)
	}

	m, err := loadManifest(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	log.Debug("store opened", "path", path, "serial", schema.Dataset.Serial,
		"ping_chunks", len(m.Axes[AxisPing]))

	return &Store{
		root:   path,
		schema: schema,
		opts:   opts,
		m:      m,
	}, nil
}

// Open opens an existing store at path using its persisted schema.
func Open(path string, opts Options) (*Store, error) {
	schema, err := loadSchema(path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	m, err := loadManifest(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	log.Debug("store opened", "path", path, "serial", schema.Dataset.Serial,
		"ping_chunks", len(m.Axes[AxisPing]))

	return &Store{
		root:   path,
		schema: *schema,
		opts:   opts,
		m:      m,
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Schema returns the store's schema.
func (s *Store) Schema() Schema { return s.schema }

// Dataset returns the owning system dataset.
func (s *Store) Dataset() record.SystemDataset { return s.schema.Dataset }

// Close marks the store closed. All data is already durable; Close only
// prevents further use.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// StoreStats returns a snapshot of store statistics.
func (s *Store) StoreStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// axisDir returns the directory holding an axis' raw chunk files.
func (s *Store) axisDir(axis Axis) string {
	switch axis {
	case AxisPing:
		return filepath.Join(s.root, "pings")
	case AxisAttitude:
		return filepath.Join(s.root, "attitude")
	case AxisNavigation:
		return filepath.Join(s.root, "navigation")
	default:
		return filepath.Join(s.root, string(axis))
	}
}

// VariableDir returns the directory holding a derived variable's chunk files.
func (s *Store) VariableDir(variable string) string {
	return filepath.Join(s.root, variable)
}

// ChunkPath returns the file path of one derived-variable chunk.
func (s *Store) ChunkPath(variable string, seq int) string {
	return filepath.Join(s.VariableDir(variable), chunkFileName(seq))
}

// AxisChunkPath returns the file path of one raw-axis chunk.
func (s *Store) AxisChunkPath(axis Axis, seq int) string {
	return filepath.Join(s.axisDir(axis), chunkFileName(seq))
}

// =============================================================================
// Append
// =============================================================================

// AppendPings extends the ping axis. Ping times must be strictly increasing,
// both within the batch and against previously appended data; violations
// fail with ErrOutOfOrder and append nothing. All beam rows of a ping land
// in the same chunk.
func (s *Store) AppendPings(pings []record.Ping) error {
	if len(pings) == 0 {
		return nil
	}
	times := make([]int64, len(pings))
	rows := make([][]PingRow, len(pings))
	for i := range pings {
		p := &pings[i]
		if !p.Valid() {
			return errors.NewInvalidValue("ping", p.TimestampUs, "inconsistent beam arrays")
		}
		times[i] = p.TimestampUs
		beams := make([]PingRow, p.BeamCount())
		for b := range beams {
			beams[b] = PingRow{
				TimestampUs:   p.TimestampUs,
				Beam:          int32(b),
				Sector:        p.Sector,
				Frequency:     p.Frequency,
				TravelTime:    p.TravelTime[b],
				PointingAngle: p.PointingAngle[b],
				Quality:       int32(p.Quality[b]),
			}
		}
		rows[i] = beams
	}
	return appendAxis(s, AxisPing, times, rows)
}

// AppendAttitude extends the attitude axis.
func (s *Store) AppendAttitude(samples []record.AttitudeSample) error {
	if len(samples) == 0 {
		return nil
	}
	times := make([]int64, len(samples))
	rows := make([][]AttitudeRow, len(samples))
	for i, a := range samples {
		times[i] = a.TimestampUs
		rows[i] = []AttitudeRow{{
			TimestampUs: a.TimestampUs,
			Heading:     a.Heading,
			Pitch:       a.Pitch,
			Roll:        a.Roll,
			Heave:       a.Heave,
		}}
	}
	return appendAxis(s, AxisAttitude, times, rows)
}

// AppendNavigation extends the navigation axis.
func (s *Store) AppendNavigation(samples []record.NavigationSample) error {
	if len(samples) == 0 {
		return nil
	}
	times := make([]int64, len(samples))
	rows := make([][]NavigationRow, len(samples))
	for i, n := range samples {
		times[i] = n.TimestampUs
		rows[i] = []NavigationRow{{
			TimestampUs: n.TimestampUs,
			Latitude:    n.Latitude,
			Longitude:   n.Longitude,
			Altitude:    n.Altitude,
		}}
	}
	return appendAxis(s, AxisNavigation, times, rows)
}

// appendAxis distributes entries into chunks along one axis. The tail chunk
// is rewritten in place (atomically) until full; remaining entries open new
// chunks. The manifest is saved after the files, and rows a crash left in
// the tail file beyond the manifest's range are dropped before re-appending,
// so retrying the same batch cannot duplicate rows.
func appendAxis[T timestamped](s *Store, axis Axis, times []int64, rowsByEntry [][]T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStoreClosed
	}

	// Ordering check before any mutation. The first entry of a first-ever
	// append has no predecessor to compare against.
	if tail := s.m.tail(axis); tail != nil && times[0] <= s.m.maxTime(axis) {
		return errors.Wrapf(errors.ErrOutOfOrder,
			"axis %s: time %d <= max %d", axis, times[0], s.m.maxTime(axis))
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return errors.Wrapf(errors.ErrOutOfOrder,
				"axis %s: time %d <= max %d", axis, times[i], times[i-1])
		}
	}

	dir := s.axisDir(axis)
	chunks := s.m.Axes[axis]
	idx := 0 // next entry to place

	// Fill the partial tail chunk first.
	if n := len(chunks); n > 0 && chunks[n-1].Rows < s.schema.ChunkSize {
		tail := &chunks[n-1]
		take := s.schema.ChunkSize - tail.Rows
		if take > len(times) {
			take = len(times)
		}

		path := filepath.Join(dir, chunkFileName(tail.Seq))
		existing, err := readChunkFile[T](path)
		if err != nil {
			return fmt.Errorf("read tail chunk: %w", err)
		}
		// Rows past the manifest's range are orphans of an append that
		// crashed between the file rewrite and the manifest save.
		for len(existing) > 0 && existing[len(existing)-1].timestamp() >= tail.Range.EndUs {
			existing = existing[:len(existing)-1]
		}
		for _, entry := range rowsByEntry[:take] {
			existing = append(existing, entry...)
		}
		if err := writeChunkFile(path, existing, s.opts); err != nil {
			return fmt.Errorf("rewrite tail chunk: %w", err)
		}

		tail.Rows += take
		tail.Range.EndUs = times[take-1] + 1
		idx = take
		s.stats.ChunksWritten++
	}

	// Open new chunks for the rest.
	for idx < len(times) {
		take := s.schema.ChunkSize
		if remaining := len(times) - idx; take > remaining {
			take = remaining
		}

		var rows []T
		for _, entry := range rowsByEntry[idx : idx+take] {
			rows = append(rows, entry...)
		}

		seq := len(chunks)
		path := filepath.Join(dir, chunkFileName(seq))
		if err := writeChunkFile(path, rows, s.opts); err != nil {
			return fmt.Errorf("write chunk %d: %w", seq, err)
		}

		chunks = append(chunks, Chunk{
			Seq:  seq,
			Rows: take,
			Range: TimeRange{
				StartUs: times[idx],
				EndUs:   times[idx+take-1] + 1,
			},
		})
		idx += take
		s.stats.ChunksWritten++
	}

	s.m.Axes[axis] = chunks
	s.stats.RowsAppended += int64(len(times))

	return saveManifest(s.root, s.m)
}

// =============================================================================
// Read
// =============================================================================

// overlapping returns the chunks of an axis intersecting tr.
func (s *Store) overlapping(axis Axis, tr TimeRange) []Chunk {
	var out []Chunk
	for _, c := range s.m.Axes[axis] {
		if c.Range.Overlaps(tr) {
			out = append(out, c)
		}
	}
	return out
}

// ReadPings reads raw ping beam rows in the given time range. Fails with
// ErrOutOfRange when no chunk backs the range.
func (s *Store) ReadPings(tr TimeRange) ([]PingRow, error) {
	s.mu.Lock()
	chunks := s.overlapping(AxisPing, tr)
	dir := s.axisDir(AxisPing)
	s.mu.Unlock()

	if len(chunks) == 0 {
		return nil, errors.Wrapf(errors.ErrOutOfRange, "pings %s", tr)
	}

	var out []PingRow
	for _, c := range chunks {
		rows, err := readChunkFile[PingRow](filepath.Join(dir, chunkFileName(c.Seq)))
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if tr.Contains(r.TimestampUs) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// ReadAttitude reads attitude samples in the given time range, time ordered.
// Fails with ErrOutOfRange when no chunk backs the range.
func (s *Store) ReadAttitude(tr TimeRange) ([]record.AttitudeSample, error) {
	s.mu.Lock()
	chunks := s.overlapping(AxisAttitude, tr)
	dir := s.axisDir(AxisAttitude)
	s.mu.Unlock()

	if len(chunks) == 0 {
		return nil, errors.Wrapf(errors.ErrOutOfRange, "attitude %s", tr)
	}

	var out []record.AttitudeSample
	for _, c := range chunks {
		rows, err := readChunkFile[AttitudeRow](filepath.Join(dir, chunkFileName(c.Seq)))
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if tr.Contains(r.TimestampUs) {
				out = append(out, record.AttitudeSample{
					TimestampUs: r.TimestampUs,
					Heading:     r.Heading,
					Pitch:       r.Pitch,
					Roll:        r.Roll,
					Heave:       r.Heave,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampUs < out[j].TimestampUs })
	return out, nil
}

// ReadNavigation reads navigation samples in the given time range, time
// ordered. Fails with ErrOutOfRange when no chunk backs the range.
func (s *Store) ReadNavigation(tr TimeRange) ([]record.NavigationSample, error) {
	s.mu.Lock()
	chunks := s.overlapping(AxisNavigation, tr)
	dir := s.axisDir(AxisNavigation)
	s.mu.Unlock()

	if len(chunks) == 0 {
		return nil, errors.Wrapf(errors.ErrOutOfRange, "navigation %s", tr)
	}

	var out []record.NavigationSample
	for _, c := range chunks {
		rows, err := readChunkFile[NavigationRow](filepath.Join(dir, chunkFileName(c.Seq)))
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if tr.Contains(r.TimestampUs) {
				out = append(out, record.NavigationSample{
					TimestampUs: r.TimestampUs,
					Latitude:    r.Latitude,
					Longitude:   r.Longitude,
					Altitude:    r.Altitude,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampUs < out[j].TimestampUs })
	return out, nil
}

// =============================================================================
// Derived variables
// =============================================================================

// chunkFor returns the ping chunk exactly covering tr.
func (s *Store) chunkFor(tr TimeRange) (Chunk, bool) {
	for _, c := range s.m.Axes[AxisPing] {
		if c.Range == tr {
			return c, true
		}
	}
	return Chunk{}, false
}

// WriteChunk writes a derived variable's values for one ping chunk. The
// write is an idempotent overwrite of the addressed region and atomic per
// chunk. The variable must be declared in the schema on the ping axis.
func (s *Store) WriteChunk(variable string, tr TimeRange, rows []BeamValueRow) error {
	v, ok := s.schema.Variable(variable)
	if !ok {
		return errors.Wrapf(errors.ErrUnknownVariable, "%s", variable)
	}
	if v.Axis != AxisPing {
		return errors.NewInvalidValue("variable", variable, "derived writes are ping-axis only")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrStoreClosed
	}
	chunk, ok := s.chunkFor(tr)
	s.mu.Unlock()

	if !ok {
		return errors.Wrapf(errors.ErrOutOfRange, "%s %s", variable, tr)
	}
	for _, r := range rows {
		if !tr.Contains(r.TimestampUs) {
			return errors.NewInvalidValue("rows", r.TimestampUs,
				fmt.Sprintf("outside chunk range %s", tr))
		}
	}

	if err := writeChunkFile(s.ChunkPath(variable, chunk.Seq), rows, s.opts); err != nil {
		return err
	}

	s.mu.Lock()
	s.stats.ChunksWritten++
	s.mu.Unlock()
	return nil
}

// ReadChunk reads a derived variable's values for one ping chunk. Fails with
// ErrOutOfRange if no chunk backs the range or the variable has not been
// written for it.
func (s *Store) ReadChunk(variable string, tr TimeRange) ([]BeamValueRow, error) {
	if _, ok := s.schema.Variable(variable); !ok {
		return nil, errors.Wrapf(errors.ErrUnknownVariable, "%s", variable)
	}

	s.mu.Lock()
	chunk, ok := s.chunkFor(tr)
	s.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrOutOfRange, "%s %s", variable, tr)
	}

	rows, err := readChunkFile[BeamValueRow](s.ChunkPath(variable, chunk.Seq))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrOutOfRange, "%s chunk %d not written", variable, chunk.Seq)
		}
		return nil, err
	}
	return rows, nil
}

// =============================================================================
// Chunk enumeration and processing state
// =============================================================================

// AxisExtent returns the time span and chunk count of an axis. Appends only
// ever extend an axis, so the triple identifies its content version.
func (s *Store) AxisExtent(axis Axis) (startUs, endUs int64, chunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.m.Axes[axis]
	if len(cs) == 0 {
		return 0, 0, 0
	}
	return cs[0].Range.StartUs, cs[len(cs)-1].Range.EndUs, len(cs)
}

// ListChunks enumerates the ping-axis chunk boundaries for scheduling.
func (s *Store) ListChunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := make([]Chunk, len(s.m.Axes[AxisPing]))
	copy(chunks, s.m.Axes[AxisPing])
	return chunks
}

// Status returns a copy of one ping chunk's processing status.
func (s *Store) Status(seq int) ChunkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.m.status(seq)
	out := ChunkStatus{Seq: cs.Seq, Stages: make(map[string]StageStatus, len(cs.Stages))}
	for k, v := range cs.Stages {
		out.Stages[k] = v
	}
	return out
}

// SetStageStatus records and persists one chunk's stage status.
func (s *Store) SetStageStatus(seq int, stage Stage, st StageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStoreClosed
	}
	s.m.status(seq).SetStage(stage, st)
	return saveManifest(s.root, s.m)
}

// Invalidate resets processing state for every ping chunk overlapping tr,
// returning the affected sequence numbers. Stored variable values for other
// chunks are untouched.
func (s *Store) Invalidate(tr TimeRange) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	var seqs []int
	for _, c := range s.m.Axes[AxisPing] {
		if !c.Range.Overlaps(tr) {
			continue
		}
		cs := s.m.status(c.Seq)
		for _, stage := range Stages() {
			cs.SetStage(stage, StageStatus{State: StateUnprocessed})
		}
		seqs = append(seqs, c.Seq)
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	if err := saveManifest(s.root, s.m); err != nil {
		return nil, err
	}
	log.Info("chunks invalidated", "range", tr.String(), "count", len(seqs))
	return seqs, nil
}

// AddLateRecords accumulates the count of records dropped for arriving
// outside the reorder window.
func (s *Store) AddLateRecords(axis Axis, n int64) error {
	if n == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m.LateRecords == nil {
		s.m.LateRecords = make(map[Axis]int64)
	}
	s.m.LateRecords[axis] += n
	return saveManifest(s.root, s.m)
}

// LateRecords returns the accumulated late-record count for an axis.
func (s *Store) LateRecords(axis Axis) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.LateRecords[axis]
}
