// Package pipeline implements the correction stages that turn raw beam
// geometry into georeferenced soundings. Stages run strictly in order per
// chunk: angle correction, sound velocity correction, georeferencing. Each
// stage reads the previous stage's variables and writes its own back to the
// same chunk, so re-running any stage is an idempotent overwrite.
package pipeline

import (
	"context"
	"time"

	"github.com/xtxerr/fathom/internal/crs"
	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/logging"
	"github.com/xtxerr/fathom/internal/record"
	"github.com/xtxerr/fathom/internal/store"
)

var log = logging.Component("pipeline")

// Config holds the pipeline's processing parameters.
type Config struct {
	// MaxAttitudeGap bounds interpolation: a ping with no attitude or
	// navigation sample within this window on both sides fails its chunk.
	MaxAttitudeGap time.Duration

	// VerticalReference for exported depths (crs.VerticalWaterline or
	// crs.VerticalEllipse).
	VerticalReference string
}

// Pipeline processes chunks of one system dataset. Safe for concurrent use
// across disjoint chunks.
type Pipeline struct {
	store       *store.Store
	casts       record.SVProvider
	transformer crs.Transformer
	verticalRef string
	maxGapUs    int64

	castStamp uint64
}

// New creates a Pipeline over one store.
func New(s *store.Store, casts *record.CastStore, transformer crs.Transformer, cfg Config) (*Pipeline, error) {
	if !crs.ValidVerticalReference(cfg.VerticalReference) {
		return nil, errors.NewInvalidValue("vertical_reference", cfg.VerticalReference, "unsupported")
	}
	if cfg.MaxAttitudeGap <= 0 {
		return nil, errors.NewInvalidValue("max_attitude_gap", cfg.MaxAttitudeGap, "must be positive")
	}
	return &Pipeline{
		store:       s,
		casts:       casts,
		transformer: transformer,
		verticalRef: cfg.VerticalReference,
		maxGapUs:    cfg.MaxAttitudeGap.Microseconds(),
		castStamp:   castSetStamp(casts),
	}, nil
}

// StageOutcome records what happened to one stage of one chunk.
type StageOutcome struct {
	Stage  store.Stage
	State  store.ProcessingState
	Reason string

	// Skipped is true when the recorded stamp matched and the stage's
	// previous result was reused.
	Skipped bool
}

// ChunkResult summarizes one chunk's pass through the pipeline.
type ChunkResult struct {
	Seq      int
	Range    store.TimeRange
	Outcomes []StageOutcome
}

// Failed reports whether any stage failed.
func (r *ChunkResult) Failed() bool {
	for _, o := range r.Outcomes {
		if o.State == store.StateFailed {
			return true
		}
	}
	return false
}

// ProcessChunk drives one chunk through all stages. Stage failures are
// recorded in the chunk's state and returned in the result; only fatal
// errors (store integrity, cancelled context) are returned as an error.
func (p *Pipeline) ProcessChunk(ctx context.Context, chunk store.Chunk) (ChunkResult, error) {
	result := ChunkResult{Seq: chunk.Seq, Range: chunk.Range}

	for _, stage := range store.Stages() {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrap(errors.ErrCancelled, err.Error())
		}

		stamp := p.stageStamp(stage)
		recorded := p.store.Status(chunk.Seq).Stage(stage)

		if recorded.State == store.StateDone && recorded.Stamp == stamp {
			result.Outcomes = append(result.Outcomes, StageOutcome{
				Stage: stage, State: store.StateDone, Skipped: true,
			})
			continue
		}

		if err := p.store.SetStageStatus(chunk.Seq, stage, store.StageStatus{
			State: store.StateInProgress,
		}); err != nil {
			return result, err
		}

		err := p.runStage(stage, chunk)
		switch {
		case err == nil:
			st := store.StageStatus{
				State:         store.StateDone,
				Stamp:         stamp,
				ProcessedAtUs: time.Now().UnixMicro(),
			}
			if err := p.store.SetStageStatus(chunk.Seq, stage, st); err != nil {
				return result, err
			}
			result.Outcomes = append(result.Outcomes, StageOutcome{Stage: stage, State: store.StateDone})

		case errors.IsStageFailure(err):
			st := store.StageStatus{
				State:         store.StateFailed,
				Reason:        err.Error(),
				ProcessedAtUs: time.Now().UnixMicro(),
			}
			if serr := p.store.SetStageStatus(chunk.Seq, stage, st); serr != nil {
				return result, serr
			}
			result.Outcomes = append(result.Outcomes, StageOutcome{
				Stage: stage, State: store.StateFailed, Reason: err.Error(),
			})
			log.Warn("stage failed", "chunk", chunk.Seq, "stage", stage.String(), "reason", err.Error())
			// Downstream stages cannot run on this chunk.
			return result, nil

		default:
			// Integrity or unexpected error; leave the stage InProgress
			// so a retry re-runs it, and surface the error.
			return result, err
		}
	}

	return result, nil
}

func (p *Pipeline) runStage(stage store.Stage, chunk store.Chunk) error {
	switch stage {
	case store.StageAngle:
		return p.runAngle(chunk)
	case store.StageSV:
		return p.runSVCorrect(chunk)
	case store.StageGeoref:
		return p.runGeoref(chunk)
	default:
		return errors.NewInvalidValue("stage", int(stage), "unknown")
	}
}

// Pending returns the chunks that need work: any chunk not Done on all
// stages, or whose recorded stamps no longer match the current inputs.
func (p *Pipeline) Pending() []store.Chunk {
	var pending []store.Chunk
	for _, chunk := range p.store.ListChunks() {
		if p.needsWork(chunk.Seq) {
			pending = append(pending, chunk)
		}
	}
	return pending
}

func (p *Pipeline) needsWork(seq int) bool {
	status := p.store.Status(seq)
	for _, stage := range store.Stages() {
		st := status.Stage(stage)
		if st.State != store.StateDone {
			return true
		}
		if st.Stamp != p.stageStamp(stage) {
			return true
		}
	}
	return false
}

// =============================================================================
// Input-version stamps
// =============================================================================

// stageStamp hashes everything a stage's output depends on. Stamps cascade:
// a stage's stamp folds in its predecessor's, so an upstream input change
// invalidates every downstream stage.
func (p *Pipeline) stageStamp(stage store.Stage) uint64 {
	inst := p.store.Dataset().Installation

	b := newStampBuilder().
		String("angle").
		Uint(p.axisVersion(store.AxisAttitude)).
		Float(inst.MountRoll).
		Float(inst.MountPitch).
		Float(inst.MountYaw).
		Int(p.maxGapUs)
	if stage == store.StageAngle {
		return b.Build()
	}

	b.String("svcorrect").
		Uint(p.castStamp).
		Float(inst.LeverX).
		Float(inst.LeverY).
		Float(inst.LeverZ).
		Float(inst.WaterlineOffset)
	if stage == store.StageSV {
		return b.Build()
	}

	b.String("georef").
		Uint(p.axisVersion(store.AxisNavigation)).
		Int(int64(p.transformer.EPSG())).
		String(p.verticalRef)
	return b.Build()
}

// axisVersion is the data version counter for one raw axis: appends extend
// the axis, so the chunk count and the newest timestamp identify its
// content.
func (p *Pipeline) axisVersion(axis store.Axis) uint64 {
	start, end, n := p.store.AxisExtent(axis)
	return newStampBuilder().
		String(string(axis)).
		Int(int64(n)).
		Int(start).
		Int(end).
		Build()
}

// castSetStamp hashes the full cast set: cast times, depths and velocities.
func castSetStamp(casts *record.CastStore) uint64 {
	b := newStampBuilder()
	b.Int(int64(casts.Len()))
	for _, c := range casts.All() {
		b.Int(c.ValidFromUs).Floats(c.Depths).Floats(c.Velocities)
	}
	return b.Build()
}
