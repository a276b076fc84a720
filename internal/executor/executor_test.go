package executor

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/fathom/internal/crs"
	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/pipeline"
	"github.com/xtxerr/fathom/internal/store"
	"github.com/xtxerr/fathom/internal/testutil"
)

func testSetup(t *testing.T, sv testutil.Survey) (*pipeline.Pipeline, *store.Store) {
	t.Helper()
	s, casts := sv.FillStore(t, t.TempDir(), 20)
	tr, err := crs.StandardBuilder{}.Build(32619, crs.VerticalWaterline)
	if err != nil {
		t.Fatalf("Build transformer: %v", err)
	}
	p, err := pipeline.New(s, casts, tr, pipeline.Config{
		MaxAttitudeGap:    time.Second,
		VerticalReference: crs.VerticalWaterline,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p, s
}

func testExecutor(t *testing.T, p ChunkProcessor, s *store.Store) *Executor {
	t.Helper()
	e, err := New(p, s, Config{Workers: 4, QueueSize: 16, StageTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestExecutor_ProcessesAllChunks(t *testing.T) {
	p, s := testSetup(t, testutil.DefaultSurvey())
	e := testExecutor(t, p, s)

	manifest, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if manifest.RunID == "" {
		t.Fatal("manifest missing run ID")
	}
	if manifest.Chunks != 5 {
		t.Fatalf("Chunks = %d, want 5", manifest.Chunks)
	}
	if len(manifest.Failures) != 0 {
		t.Fatalf("Failures = %+v, want none", manifest.Failures)
	}
	for _, stage := range store.Stages() {
		if manifest.Succeeded[stage] != 5 {
			t.Errorf("Succeeded[%s] = %d, want 5", stage, manifest.Succeeded[stage])
		}
	}
	for _, chunk := range s.ListChunks() {
		if got := s.Status(chunk.Seq).Overall(); got != store.StateDone {
			t.Errorf("chunk %d Overall = %v", chunk.Seq, got)
		}
	}
}

func TestExecutor_SecondRunHasNothingPending(t *testing.T) {
	p, s := testSetup(t, testutil.DefaultSurvey())
	e := testExecutor(t, p, s)

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	manifest, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if manifest.Chunks != 0 {
		t.Fatalf("second run Chunks = %d, want 0", manifest.Chunks)
	}
}

func TestExecutor_AggregatesFailuresWithoutAborting(t *testing.T) {
	sv := testutil.DefaultSurvey()
	gapStart := sv.StartUs + 20_000_000
	sv.Gaps = []store.TimeRange{{StartUs: gapStart, EndUs: gapStart + 5_000_000}}
	p, s := testSetup(t, sv)
	e := testExecutor(t, p, s)

	manifest, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(manifest.Failures) != 1 {
		t.Fatalf("Failures = %+v, want exactly one", manifest.Failures)
	}
	f := manifest.Failures[0]
	if f.Seq != 2 || f.Stage != store.StageAngle || f.Reason == "" {
		t.Fatalf("failure = %+v", f)
	}
	if manifest.Failed[store.StageAngle] != 1 {
		t.Fatalf("Failed[angle] = %d, want 1", manifest.Failed[store.StageAngle])
	}
	// Siblings completed despite the bad chunk.
	if manifest.Succeeded[store.StageGeoref] != 4 {
		t.Fatalf("Succeeded[georef] = %d, want 4", manifest.Succeeded[store.StageGeoref])
	}
}

func TestExecutor_CancelledRunIsRetryable(t *testing.T) {
	p, s := testSetup(t, testutil.DefaultSurvey())
	e := testExecutor(t, p, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx); !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	for _, chunk := range s.ListChunks() {
		if got := s.Status(chunk.Seq).Overall(); got == store.StateDone {
			t.Fatalf("chunk %d done after cancelled run", chunk.Seq)
		}
	}

	// A fresh run completes the work.
	manifest, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if len(manifest.Failures) != 0 {
		t.Fatalf("retry Failures = %+v", manifest.Failures)
	}
}

// panicProcessor crashes on one chunk to exercise worker recovery.
type panicProcessor struct {
	inner    ChunkProcessor
	panicSeq int
}

func (p *panicProcessor) Pending() []store.Chunk { return p.inner.Pending() }

func (p *panicProcessor) ProcessChunk(ctx context.Context, chunk store.Chunk) (pipeline.ChunkResult, error) {
	if chunk.Seq == p.panicSeq {
		panic("chunk exploded")
	}
	return p.inner.ProcessChunk(ctx, chunk)
}

func TestExecutor_PanicBecomesRetryableFailure(t *testing.T) {
	p, s := testSetup(t, testutil.DefaultSurvey())
	e := testExecutor(t, &panicProcessor{inner: p, panicSeq: 1}, s)

	manifest, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(manifest.Failures) != 1 || manifest.Failures[0].Seq != 1 {
		t.Fatalf("Failures = %+v, want one for chunk 1", manifest.Failures)
	}
	// The crashed chunk is never marked done.
	if got := s.Status(1).Overall(); got == store.StateDone {
		t.Fatal("crashed chunk marked done")
	}

	// Retry without the fault completes it, and the result matches the
	// chunks that never crashed.
	e2 := testExecutor(t, p, s)
	manifest, err = e2.Run(context.Background())
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if len(manifest.Failures) != 0 {
		t.Fatalf("retry Failures = %+v", manifest.Failures)
	}
	if got := s.Status(1).Overall(); got != store.StateDone {
		t.Fatalf("chunk 1 Overall = %v after retry", got)
	}
}

func TestExecutor_CrashAttributedToStageInFlight(t *testing.T) {
	p, s := testSetup(t, testutil.DefaultSurvey())

	// Chunk 1 already cleared angle correction; a crash while reprocessing
	// it must be charged to the next stage, not the first.
	if err := s.SetStageStatus(1, store.StageAngle, store.StageStatus{State: store.StateDone}); err != nil {
		t.Fatalf("SetStageStatus: %v", err)
	}
	e := testExecutor(t, &panicProcessor{inner: p, panicSeq: 1}, s)

	manifest, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(manifest.Failures) != 1 {
		t.Fatalf("Failures = %+v, want one", manifest.Failures)
	}
	if got := manifest.Failures[0].Stage; got != store.StageSV {
		t.Fatalf("failure stage = %v, want %v", got, store.StageSV)
	}
	if manifest.Failed[store.StageAngle] != 0 || manifest.Failed[store.StageSV] != 1 {
		t.Fatalf("Failed = %+v", manifest.Failed)
	}
}

func TestNew_Validation(t *testing.T) {
	p, s := testSetup(t, testutil.DefaultSurvey())
	if _, err := New(p, s, Config{Workers: 0, QueueSize: 4}); !errors.IsValidation(err) {
		t.Fatalf("workers=0 err = %v, want validation error", err)
	}
	if _, err := New(p, s, Config{Workers: 2, QueueSize: 0}); !errors.IsValidation(err) {
		t.Fatalf("queue=0 err = %v, want validation error", err)
	}
}
