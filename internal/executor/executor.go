// Package executor fans correction work out across workers. Chunks are
// independent: no cross-chunk locking is needed beyond the store's per-chunk
// write atomicity, so the executor is a plain worker pool over a job channel
// with per-chunk panic recovery and failure aggregation.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/logging"
	"github.com/xtxerr/fathom/internal/pipeline"
	"github.com/xtxerr/fathom/internal/store"
)

var log = logging.Component("executor")

// Config controls the worker pool.
type Config struct {
	// Workers processing chunks concurrently.
	Workers int

	// QueueSize buffers pending jobs ahead of the workers.
	QueueSize int

	// StageTimeout bounds one chunk's full pass through the pipeline;
	// hitting it is a retryable chunk failure, not a run abort.
	StageTimeout time.Duration
}

// ChunkFailure records one chunk's failure in the run manifest.
type ChunkFailure struct {
	Seq    int
	Stage  store.Stage
	Reason string
}

// RunManifest aggregates the outcome of one executor run.
type RunManifest struct {
	RunID    string
	Serial   string
	Started  time.Time
	Finished time.Time

	// Per-stage counts of chunks that completed or failed the stage this
	// run (skipped chunks count as succeeded).
	Succeeded map[store.Stage]int
	Failed    map[store.Stage]int

	// Failures lists every failed chunk with its reason.
	Failures []ChunkFailure

	// Chunks is the number of chunks attempted.
	Chunks int
}

// ChunkProcessor is the pipeline contract the executor schedules over.
type ChunkProcessor interface {
	Pending() []store.Chunk
	ProcessChunk(ctx context.Context, chunk store.Chunk) (pipeline.ChunkResult, error)
}

// Executor runs one pipeline over its pending chunks.
type Executor struct {
	pipe ChunkProcessor
	st   *store.Store
	cfg  Config
}

// New creates an Executor.
func New(pipe ChunkProcessor, st *store.Store, cfg Config) (*Executor, error) {
	if cfg.Workers <= 0 {
		return nil, errors.NewInvalidValue("workers", cfg.Workers, "must be positive")
	}
	if cfg.QueueSize <= 0 {
		return nil, errors.NewInvalidValue("queue_size", cfg.QueueSize, "must be positive")
	}
	return &Executor{pipe: pipe, st: st, cfg: cfg}, nil
}

// Run processes every pending chunk and returns the run manifest. A chunk
// failure is recorded, never fatal; the returned error is non-nil only for
// cancellation or store integrity loss, and the manifest is valid either
// way.
func (e *Executor) Run(ctx context.Context) (*RunManifest, error) {
	manifest := &RunManifest{
		RunID:     uuid.NewString(),
		Serial:    e.st.Dataset().Serial,
		Started:   time.Now(),
		Succeeded: make(map[store.Stage]int),
		Failed:    make(map[store.Stage]int),
	}

	ctx = logging.ContextWithRunID(ctx, manifest.RunID)
	ctx = logging.ContextWithSystemSerial(ctx, manifest.Serial)

	pending := e.pipe.Pending()
	manifest.Chunks = len(pending)
	log.Info("run started",
		"run_id", manifest.RunID,
		"serial", manifest.Serial,
		"chunks", len(pending),
		"workers", e.cfg.Workers)

	if len(pending) == 0 {
		manifest.Finished = time.Now()
		return manifest, nil
	}

	jobs := make(chan store.Chunk, e.cfg.QueueSize)
	results := make(chan pipeline.ChunkResult, e.cfg.QueueSize)

	g, gctx := errgroup.WithContext(ctx)

	// Feeder. Stops between chunks on cancellation.
	g.Go(func() error {
		defer close(jobs)
		for _, chunk := range pending {
			select {
			case jobs <- chunk:
			case <-gctx.Done():
				return errors.Wrap(errors.ErrCancelled, gctx.Err().Error())
			}
		}
		return nil
	})

	// Workers.
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			for chunk := range jobs {
				res, err := e.processWithRecovery(gctx, chunk)
				if err != nil {
					return err
				}
				select {
				case results <- res:
				case <-gctx.Done():
					return errors.Wrap(errors.ErrCancelled, gctx.Err().Error())
				}
			}
			return nil
		})
	}

	// Collector owns the manifest; workers never touch it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range results {
			for _, o := range res.Outcomes {
				switch o.State {
				case store.StateDone:
					manifest.Succeeded[o.Stage]++
				case store.StateFailed:
					manifest.Failed[o.Stage]++
					manifest.Failures = append(manifest.Failures, ChunkFailure{
						Seq:    res.Seq,
						Stage:  o.Stage,
						Reason: o.Reason,
					})
				}
			}
		}
	}()

	runErr := g.Wait()
	close(results)
	<-done
	manifest.Finished = time.Now()

	stats := e.st.StoreStats()
	log.Info("run finished",
		"run_id", manifest.RunID,
		"chunks", manifest.Chunks,
		"failed_chunks", len(manifest.Failures),
		"rows_total", humanize.Comma(stats.RowsAppended),
		"chunks_written", humanize.Comma(stats.ChunksWritten),
		"duration", manifest.Finished.Sub(manifest.Started).Round(time.Millisecond))

	return manifest, runErr
}

// processWithRecovery drives one chunk through the pipeline, converting a
// panic into a retryable failure so the chunk is never falsely done.
func (e *Executor) processWithRecovery(ctx context.Context, chunk store.Chunk) (result pipeline.ChunkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx).Error("panic processing chunk",
				"chunk", chunk.Seq,
				"panic", r)
			// The stage was left InProgress by the pipeline; a later run
			// retries it. Report the chunk as failed for this run only.
			result = pipeline.ChunkResult{
				Seq:   chunk.Seq,
				Range: chunk.Range,
				Outcomes: []pipeline.StageOutcome{{
					Stage:  e.stageInFlight(chunk.Seq),
					State:  store.StateFailed,
					Reason: fmt.Sprintf("panic: %v", r),
				}},
			}
			err = nil
		}
	}()

	chunkCtx := ctx
	if e.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		chunkCtx, cancel = context.WithTimeout(ctx, e.cfg.StageTimeout)
		defer cancel()
	}

	result, err = e.pipe.ProcessChunk(chunkCtx, chunk)
	if err != nil && errors.Is(err, errors.ErrCancelled) && ctx.Err() == nil {
		// The per-chunk timeout fired while the run itself is healthy:
		// record a retryable failure and keep going.
		result = pipeline.ChunkResult{
			Seq:   chunk.Seq,
			Range: chunk.Range,
			Outcomes: []pipeline.StageOutcome{{
				Stage:  e.stageInFlight(chunk.Seq),
				State:  store.StateFailed,
				Reason: "chunk processing timeout",
			}},
		}
		err = nil
	}
	return result, err
}

// stageInFlight returns the first stage of a chunk not yet done, which is
// the one a crashed or timed-out pass was attempting.
func (e *Executor) stageInFlight(seq int) store.Stage {
	status := e.st.Status(seq)
	for _, stage := range store.Stages() {
		if status.Stage(stage).State != store.StateDone {
			return stage
		}
	}
	return store.StageGeoref
}
