package pipeline

import (
	"bytes"
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/xtxerr/fathom/internal/crs"
	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/record"
	"github.com/xtxerr/fathom/internal/store"
	"github.com/xtxerr/fathom/internal/testutil"
)

func testConfig() Config {
	return Config{
		MaxAttitudeGap:    time.Second,
		VerticalReference: crs.VerticalWaterline,
	}
}

func testTransformer(t *testing.T) crs.Transformer {
	t.Helper()
	tr, err := crs.StandardBuilder{}.Build(32619, crs.VerticalWaterline)
	if err != nil {
		t.Fatalf("Build transformer: %v", err)
	}
	return tr
}

func newTestPipeline(t *testing.T, s *store.Store, casts *record.CastStore) *Pipeline {
	t.Helper()
	p, err := New(s, casts, testTransformer(t), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func processAll(t *testing.T, p *Pipeline) []ChunkResult {
	t.Helper()
	var results []ChunkResult
	for _, chunk := range p.Pending() {
		res, err := p.ProcessChunk(context.Background(), chunk)
		if err != nil {
			t.Fatalf("ProcessChunk %d: %v", chunk.Seq, err)
		}
		results = append(results, res)
	}
	return results
}

func TestPipeline_AllStagesSucceed(t *testing.T) {
	sv := testutil.DefaultSurvey()
	s, casts := sv.FillStore(t, t.TempDir(), 20)
	p := newTestPipeline(t, s, casts)

	results := processAll(t, p)
	if len(results) != 5 {
		t.Fatalf("processed %d chunks, want 5", len(results))
	}
	for _, res := range results {
		if res.Failed() {
			t.Fatalf("chunk %d failed: %+v", res.Seq, res.Outcomes)
		}
	}

	for _, chunk := range s.ListChunks() {
		if got := s.Status(chunk.Seq).Overall(); got != store.StateDone {
			t.Errorf("chunk %d Overall = %v, want done", chunk.Seq, got)
		}
		for _, variable := range []string{
			store.VarCorrPointingAngle, store.VarAlongTrack, store.VarAcrossTrack,
			store.VarDepthOffset, store.VarX, store.VarY, store.VarZ,
		} {
			rows, err := s.ReadChunk(variable, chunk.Range)
			if err != nil {
				t.Fatalf("ReadChunk %s %d: %v", variable, chunk.Seq, err)
			}
			if len(rows) != chunk.Rows*8 {
				t.Errorf("%s chunk %d rows = %d, want %d", variable, chunk.Seq, len(rows), chunk.Rows*8)
			}
		}
	}

	// Soundings land near the projected navigation track with sane depths.
	chunk := s.ListChunks()[0]
	zs, err := s.ReadChunk(store.VarZ, chunk.Range)
	if err != nil {
		t.Fatalf("ReadChunk z: %v", err)
	}
	for _, r := range zs {
		// ~30m water from 40ms one-way travel at ~1500 m/s.
		if r.Value < 5 || r.Value > 80 {
			t.Fatalf("depth %v out of plausible range", r.Value)
		}
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	sv := testutil.DefaultSurvey()
	s, casts := sv.FillStore(t, t.TempDir(), 20)
	p := newTestPipeline(t, s, casts)

	processAll(t, p)

	chunk := s.ListChunks()[0]
	path := s.ChunkPath(store.VarZ, chunk.Seq)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read chunk file: %v", err)
	}

	// Unchanged inputs: every chunk is skipped.
	if pending := p.Pending(); len(pending) != 0 {
		t.Fatalf("Pending after full run = %d chunks, want 0", len(pending))
	}

	// Force a recompute and verify bit-identical output.
	if _, err := s.Invalidate(chunk.Range); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	res, err := p.ProcessChunk(context.Background(), chunk)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	for _, o := range res.Outcomes {
		if o.Skipped {
			t.Fatalf("stage %s skipped after invalidation", o.Stage)
		}
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reread chunk file: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("recomputed chunk differs from the original")
	}
}

func TestPipeline_AttitudeGapFailsOnlyAffectedChunks(t *testing.T) {
	sv := testutil.DefaultSurvey()
	gapStart := sv.StartUs + 20_000_000
	sv.Gaps = []store.TimeRange{{StartUs: gapStart, EndUs: gapStart + 5_000_000}}
	s, casts := sv.FillStore(t, t.TempDir(), 20)
	p := newTestPipeline(t, s, casts)

	processAll(t, p)

	// Chunks span 10s each; the 20-25s dropout hits only chunk 2.
	for _, chunk := range s.ListChunks() {
		overall := s.Status(chunk.Seq).Overall()
		if chunk.Seq == 2 {
			if overall != store.StateFailed {
				t.Errorf("chunk 2 Overall = %v, want failed", overall)
			}
			st := s.Status(chunk.Seq).Stage(store.StageAngle)
			if st.State != store.StateFailed || st.Reason == "" {
				t.Errorf("chunk 2 angle stage = %+v, want failed with reason", st)
			}
		} else if overall != store.StateDone {
			t.Errorf("chunk %d Overall = %v, want done", chunk.Seq, overall)
		}
	}

	// The failed chunk has no downstream variables.
	failed := s.ListChunks()[2]
	if _, err := s.ReadChunk(store.VarZ, failed.Range); !errors.Is(err, errors.ErrOutOfRange) {
		t.Fatalf("z on failed chunk err = %v, want ErrOutOfRange", err)
	}
}

func TestPipeline_NoSVProfileFailsSVStage(t *testing.T) {
	sv := testutil.DefaultSurvey()
	s, _ := sv.FillStore(t, t.TempDir(), 50)
	p := newTestPipeline(t, s, record.NewCastStore()) // no casts

	processAll(t, p)

	for _, chunk := range s.ListChunks() {
		status := s.Status(chunk.Seq)
		if got := status.Stage(store.StageAngle).State; got != store.StateDone {
			t.Errorf("chunk %d angle = %v, want done", chunk.Seq, got)
		}
		if got := status.Stage(store.StageSV).State; got != store.StateFailed {
			t.Errorf("chunk %d svcorrect = %v, want failed", chunk.Seq, got)
		}
		if got := status.Stage(store.StageGeoref).State; got != store.StateUnprocessed {
			t.Errorf("chunk %d georef = %v, want unprocessed", chunk.Seq, got)
		}
	}
}

func TestPipeline_StampInvalidatesOnNewAttitude(t *testing.T) {
	sv := testutil.DefaultSurvey()
	s, casts := sv.FillStore(t, t.TempDir(), 50)
	p := newTestPipeline(t, s, casts)

	processAll(t, p)
	if pending := p.Pending(); len(pending) != 0 {
		t.Fatalf("Pending = %d, want 0", len(pending))
	}

	// New attitude data changes the angle stage's inputs for every chunk.
	last := sv.GenerateAttitude()
	newer := record.AttitudeSample{
		TimestampUs: last[len(last)-1].TimestampUs + 100_000,
		Roll:        1.0,
	}
	if err := s.AppendAttitude([]record.AttitudeSample{newer}); err != nil {
		t.Fatalf("AppendAttitude: %v", err)
	}

	if pending := p.Pending(); len(pending) != 2 {
		t.Fatalf("Pending after attitude append = %d, want 2", len(pending))
	}

	// Reprocessing recomputes rather than skips.
	res, err := p.ProcessChunk(context.Background(), s.ListChunks()[0])
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	for _, o := range res.Outcomes {
		if o.Skipped {
			t.Fatalf("stage %s skipped despite changed inputs", o.Stage)
		}
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	sv := testutil.DefaultSurvey()
	s, casts := sv.FillStore(t, t.TempDir(), 50)
	p := newTestPipeline(t, s, casts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ProcessChunk(ctx, s.ListChunks()[0])
	if !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if got := s.Status(0).Overall(); got == store.StateDone {
		t.Fatal("cancelled chunk must not be done")
	}
}

func TestTraceRay(t *testing.T) {
	uniform := &record.SoundVelocityProfile{
		ValidFromUs: 0,
		Depths:      []float64{0, 1000},
		Velocities:  []float64{1500, 1500},
	}

	// Vertical beam in uniform water: pure descent.
	horiz, depth := traceRay(uniform, 1.0, 0, 0.020)
	if horiz != 0 {
		t.Errorf("vertical beam horiz = %v, want 0", horiz)
	}
	if want := 1.0 + 1500*0.020; math.Abs(depth-want) > 1e-9 {
		t.Errorf("vertical beam depth = %v, want %v", depth, want)
	}

	// 45 degrees in uniform water: equal horizontal and vertical legs.
	horiz, depth = traceRay(uniform, 0, math.Pi/4, 0.020)
	leg := 1500 * 0.020 / math.Sqrt2
	if math.Abs(horiz-leg) > 1e-6 || math.Abs(depth-leg) > 1e-6 {
		t.Errorf("45 degree ray = (%v, %v), want (%v, %v)", horiz, depth, leg, leg)
	}

	// A downward velocity decrease bends the ray toward vertical: less
	// horizontal distance than the uniform case for the same launch angle.
	refracting := &record.SoundVelocityProfile{
		ValidFromUs: 0,
		Depths:      []float64{0, 10, 20, 50},
		Velocities:  []float64{1520, 1500, 1490, 1480},
	}
	bentHoriz, _ := traceRay(refracting, 0, math.Pi/4, 0.020)
	if bentHoriz >= horiz {
		t.Errorf("refracted horiz %v not less than uniform %v", bentHoriz, horiz)
	}
}

func TestTimeSeriesGapCheck(t *testing.T) {
	times := []int64{0, 1_000_000, 2_000_000, 10_000_000, 11_000_000}
	vals := []float64{0, 1, 2, 10, 11}
	ts, err := newTimeSeries(times, vals, 1_500_000)
	if err != nil {
		t.Fatalf("newTimeSeries: %v", err)
	}

	if v, err := ts.at(500_000); err != nil || math.Abs(v-0.5) > 1e-9 {
		t.Fatalf("at(0.5s) = %v, %v", v, err)
	}
	// Exact hit works even inside a gap.
	if v, err := ts.at(10_000_000); err != nil || v != 10 {
		t.Fatalf("at(10s) = %v, %v", v, err)
	}
	// Mid-gap query fails.
	if _, err := ts.at(5_000_000); !errors.Is(err, errors.ErrAttitudeGap) {
		t.Fatalf("mid-gap err = %v, want ErrAttitudeGap", err)
	}
	// Outside the covered span fails.
	if _, err := ts.at(-1); !errors.Is(err, errors.ErrAttitudeGap) {
		t.Fatalf("before-span err = %v, want ErrAttitudeGap", err)
	}
	if _, err := ts.at(12_000_000); !errors.Is(err, errors.ErrAttitudeGap) {
		t.Fatalf("after-span err = %v, want ErrAttitudeGap", err)
	}
}

func TestAttitudeHeadingWrap(t *testing.T) {
	samples := []record.AttitudeSample{
		{TimestampUs: 0, Heading: 359},
		{TimestampUs: 1_000_000, Heading: 1},
	}
	ai, err := newAttitudeInterp(samples, 2_000_000)
	if err != nil {
		t.Fatalf("newAttitudeInterp: %v", err)
	}
	att, err := ai.at(500_000)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	// Midway across the north crossing, not 180.
	if att.Heading > 1 && att.Heading < 359 {
		t.Fatalf("Heading = %v, want ~0", att.Heading)
	}
}

func TestRotateToLevel(t *testing.T) {
	// Heading north: alongtrack is north, acrosstrack is east.
	east, north := rotateToLevel(10, 5, 0)
	if math.Abs(east-5) > 1e-9 || math.Abs(north-10) > 1e-9 {
		t.Fatalf("heading 0: (%v, %v), want (5, 10)", east, north)
	}
	// Heading east: alongtrack is east, acrosstrack points south.
	east, north = rotateToLevel(10, 5, 90)
	if math.Abs(east-10) > 1e-9 || math.Abs(north-(-5)) > 1e-9 {
		t.Fatalf("heading 90: (%v, %v), want (10, -5)", east, north)
	}
}
