// Package adapter shapes parsed sonar records into store writes. It routes
// records by system serial number, tolerates out-of-order arrival within a
// bounded reorder window, and reports late records instead of failing on
// them.
package adapter

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/logging"
	"github.com/xtxerr/fathom/internal/record"
	"github.com/xtxerr/fathom/internal/store"
)

var log = logging.Component("adapter")

// StoreOpener opens (or creates) the store for one system dataset. The
// adapter calls it once per serial, on first encounter.
type StoreOpener func(ds record.SystemDataset) (*store.Store, error)

// Config controls adapter buffering.
type Config struct {
	// ReorderWindow bounds how far out of order records may arrive and
	// still be placed. Records older than the newest seen time minus the
	// window are counted as late and dropped.
	ReorderWindow time.Duration

	// FlushBatch caps how many records buffer per axis before a forced
	// flush.
	FlushBatch int

	// MaxBeams rejects pings reporting a wider beam array as malformed.
	// Zero disables the cap.
	MaxBeams int
}

// Result summarizes one adapter run.
type Result struct {
	Pings      int64
	Attitude   int64
	Navigation int64
	Profiles   int64

	// LateRecords counts drops per axis, summed across datasets.
	LateRecords map[store.Axis]int64

	// Serials lists the system datasets encountered, in first-seen order.
	Serials []string
}

// Adapter consumes a RecordSource and writes to per-serial stores.
type Adapter struct {
	cfg    Config
	opener StoreOpener
	casts  *record.CastStore

	stores   map[string]*store.Store
	serials  []string
	datasets map[string]record.SystemDataset

	// Per-axis reorder buffers. Pings are routed per serial; attitude and
	// navigation are vessel-wide and buffered once, fanned out on flush.
	pings map[string]*reorderBuffer[record.Ping]
	att   *reorderBuffer[record.AttitudeSample]
	nav   *reorderBuffer[record.NavigationSample]

	result Result
}

// New creates an Adapter. Casts accumulate into the given CastStore for the
// pipeline to consume; pass a fresh one per conversion.
func New(cfg Config, opener StoreOpener, casts *record.CastStore) *Adapter {
	return &Adapter{
		cfg:      cfg,
		opener:   opener,
		casts:    casts,
		stores:   make(map[string]*store.Store),
		datasets: make(map[string]record.SystemDataset),
		pings:    make(map[string]*reorderBuffer[record.Ping]),
		att:      newReorderBuffer[record.AttitudeSample](cfg),
		nav:      newReorderBuffer[record.NavigationSample](cfg),
		result:   Result{LateRecords: make(map[store.Axis]int64)},
	}
}

// Run drains the source to EOF, flushes all buffers, and returns the run
// summary. Cancellation is honored between records.
func (a *Adapter) Run(ctx context.Context, src RecordSource) (Result, error) {
	started := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return a.result, errors.Wrap(errors.ErrCancelled, err.Error())
		}

		rec, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return a.result, errors.Wrap(err, "read record")
		}

		if err := a.ingest(rec); err != nil {
			return a.result, err
		}
	}

	if err := a.flushAll(); err != nil {
		return a.result, err
	}

	log.Info("conversion complete",
		"pings", a.result.Pings,
		"attitude", a.result.Attitude,
		"navigation", a.result.Navigation,
		"profiles", a.result.Profiles,
		"datasets", len(a.result.Serials),
		"duration", time.Since(started).Round(time.Millisecond))
	return a.result, nil
}

func (a *Adapter) ingest(rec Record) error {
	switch r := rec.(type) {
	case InstallationRecord:
		return a.registerDataset(r.Dataset)

	case PingRecord:
		if a.cfg.MaxBeams > 0 && r.Ping.BeamCount() > a.cfg.MaxBeams {
			return errors.NewInvalidValue("ping", r.Ping.TimestampUs,
				fmt.Sprintf("%d beams exceeds limit %d", r.Ping.BeamCount(), a.cfg.MaxBeams))
		}
		buf, err := a.pingBuffer(r.Ping.Serial)
		if err != nil {
			return err
		}
		if !buf.push(r.Ping.TimestampUs, r.Ping) {
			a.result.LateRecords[store.AxisPing]++
			return nil
		}
		return a.maybeFlushPings(r.Ping.Serial, buf)

	case AttitudeRecord:
		if !a.att.push(r.Sample.TimestampUs, r.Sample) {
			a.result.LateRecords[store.AxisAttitude]++
			return nil
		}
		if a.att.full() {
			return a.flushAttitude()
		}
		return nil

	case NavigationRecord:
		if !a.nav.push(r.Sample.TimestampUs, r.Sample) {
			a.result.LateRecords[store.AxisNavigation]++
			return nil
		}
		if a.nav.full() {
			return a.flushNavigation()
		}
		return nil

	case ProfileRecord:
		p := r.Profile
		if !p.Valid() {
			return errors.NewInvalidValue("profile", p.ValidFromUs, "malformed depth/velocity pairs")
		}
		a.casts.Add(&p)
		a.result.Profiles++
		return nil

	default:
		return errors.NewInvalidValue("record", rec, "unknown record type")
	}
}

// registerDataset records installation metadata for a serial and opens its
// store. Recordings put installation records ahead of the sensor streams, so
// opening here guarantees the vessel-wide attitude and navigation buffers
// have a destination before they first drain.
func (a *Adapter) registerDataset(ds record.SystemDataset) error {
	if ds.Serial == "" {
		return errors.NewMissingField("serial")
	}
	a.datasets[ds.Serial] = ds
	if _, ok := a.stores[ds.Serial]; ok {
		return nil
	}
	_, err := a.openDataset(ds)
	return err
}

// pingBuffer returns the serial's buffer, opening the store on first use
// when no installation record preceded the ping.
func (a *Adapter) pingBuffer(serial string) (*reorderBuffer[record.Ping], error) {
	if buf, ok := a.pings[serial]; ok {
		return buf, nil
	}
	if serial == "" {
		return nil, errors.NewMissingField("ping serial")
	}
	// No installation record seen; open with bare identity.
	log.Warn("ping for serial without installation metadata", "serial", serial)
	return a.openDataset(record.SystemDataset{Serial: serial})
}

// openDataset opens the store for one dataset and sets up its ping buffer.
func (a *Adapter) openDataset(ds record.SystemDataset) (*reorderBuffer[record.Ping], error) {
	s, err := a.opener(ds)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", ds.Serial)
	}
	a.stores[ds.Serial] = s
	a.serials = append(a.serials, ds.Serial)
	a.result.Serials = append(a.result.Serials, ds.Serial)

	buf := newReorderBuffer[record.Ping](a.cfg)
	a.pings[ds.Serial] = buf
	log.Info("dataset opened", "serial", ds.Serial, "model", ds.Model)
	return buf, nil
}

func (a *Adapter) maybeFlushPings(serial string, buf *reorderBuffer[record.Ping]) error {
	if !buf.full() {
		return nil
	}
	return a.flushPings(serial, buf, false)
}

// flushPings appends the settled portion of a serial's buffer (everything
// older than the reorder window, or everything when final).
func (a *Adapter) flushPings(serial string, buf *reorderBuffer[record.Ping], final bool) error {
	settled := buf.drain(final)
	if len(settled) == 0 {
		return nil
	}
	if err := a.stores[serial].AppendPings(settled); err != nil {
		return errors.Wrapf(err, "append pings %s", serial)
	}
	a.result.Pings += int64(len(settled))
	return nil
}

// flushAttitude fans the settled attitude samples out to every open store.
// Attitude and navigation are vessel-wide, so every dataset gets the same
// samples.
func (a *Adapter) flushAttitude() error {
	return flushShared(a, a.att, store.AxisAttitude, (*store.Store).AppendAttitude, &a.result.Attitude, false)
}

func (a *Adapter) flushNavigation() error {
	return flushShared(a, a.nav, store.AxisNavigation, (*store.Store).AppendNavigation, &a.result.Navigation, false)
}

func flushShared[T any](
	a *Adapter, buf *reorderBuffer[T], axis store.Axis,
	appendFn func(*store.Store, []T) error,
	counter *int64, final bool,
) error {
	// Hold vessel-wide samples until a dataset exists; draining with no
	// open store would lose them.
	if len(a.serials) == 0 {
		return nil
	}
	settled := buf.drain(final)
	if len(settled) == 0 {
		return nil
	}
	for _, serial := range a.serials {
		if err := appendFn(a.stores[serial], settled); err != nil {
			return errors.Wrapf(err, "append %s %s", axis, serial)
		}
	}
	*counter += int64(len(settled))
	return nil
}

// flushAll drains every buffer at EOF and persists late-record counts.
func (a *Adapter) flushAll() error {
	for serial, buf := range a.pings {
		if err := a.flushPings(serial, buf, true); err != nil {
			return err
		}
	}
	if err := flushShared(a, a.att, store.AxisAttitude, (*store.Store).AppendAttitude, &a.result.Attitude, true); err != nil {
		return err
	}
	if err := flushShared(a, a.nav, store.AxisNavigation, (*store.Store).AppendNavigation, &a.result.Navigation, true); err != nil {
		return err
	}
	if len(a.serials) == 0 {
		if n := len(a.att.entries) + len(a.nav.entries); n > 0 {
			log.Warn("recording has no datasets, vessel-wide samples discarded", "count", n)
		}
	}
	for axis, n := range a.result.LateRecords {
		if n == 0 {
			continue
		}
		log.Warn("late records dropped", "axis", axis, "count", n)
		for _, serial := range a.serials {
			if err := a.stores[serial].AddLateRecords(axis, n); err != nil {
				return err
			}
			break // vessel-wide count, recorded once on the first dataset
		}
	}
	return nil
}

// reorderBuffer accumulates records of one axis and releases them in time
// order once they are older than the reorder window.
type reorderBuffer[T any] struct {
	window  int64 // microseconds
	maxSize int

	entries []bufEntry[T]
	newest  int64 // newest time ever pushed
	flushed int64 // newest time already appended downstream
	sawAny  bool
}

type bufEntry[T any] struct {
	ts  int64
	val T
}

func newReorderBuffer[T any](cfg Config) *reorderBuffer[T] {
	return &reorderBuffer[T]{
		window:  cfg.ReorderWindow.Microseconds(),
		maxSize: cfg.FlushBatch,
	}
}

// push buffers one record. Returns false when the record arrives too late to
// place (at or before the flushed watermark).
func (b *reorderBuffer[T]) push(ts int64, val T) bool {
	if b.sawAny && ts <= b.flushed {
		return false
	}
	b.entries = append(b.entries, bufEntry[T]{ts: ts, val: val})
	if ts > b.newest {
		b.newest = ts
	}
	b.sawAny = true
	return true
}

func (b *reorderBuffer[T]) full() bool {
	return len(b.entries) >= b.maxSize
}

// drain sorts the buffer and returns the settled prefix: entries older than
// newest minus the window, or all entries when final. Duplicate timestamps
// keep the first arrival.
func (b *reorderBuffer[T]) drain(final bool) []T {
	if len(b.entries) == 0 {
		return nil
	}
	sort.SliceStable(b.entries, func(i, j int) bool {
		return b.entries[i].ts < b.entries[j].ts
	})

	cutoff := b.newest - b.window
	var out []T
	kept := b.entries[:0]
	lastTs := b.flushed
	for _, e := range b.entries {
		if !final && e.ts > cutoff {
			kept = append(kept, e)
			continue
		}
		// Duplicate timestamps keep the first arrival.
		if e.ts <= lastTs {
			continue
		}
		out = append(out, e.val)
		lastTs = e.ts
	}
	b.entries = kept
	b.flushed = lastTs
	return out
}
