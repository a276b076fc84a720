package pipeline

import (
	"math"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/store"
)

// runAngle computes the corrected pointing angle for every beam of a chunk:
// raw transducer-relative angle composed with the interpolated roll and the
// static mount roll. Writes corr_pointing_angle.
func (p *Pipeline) runAngle(chunk store.Chunk) error {
	rows, err := p.store.ReadPings(chunk.Range)
	if err != nil {
		return err
	}

	ai, err := p.attitudeFor(chunk)
	if err != nil {
		return err
	}

	inst := p.store.Dataset().Installation
	out := make([]store.BeamValueRow, 0, len(rows))
	for _, r := range rows {
		att, err := ai.at(r.TimestampUs)
		if err != nil {
			return err
		}
		corr := r.PointingAngle + att.Roll + inst.MountRoll
		// A beam steered past horizontal is geometrically meaningless;
		// failing the chunk beats silently clamping it.
		if math.Abs(corr) >= 90 {
			return errors.Wrapf(errors.ErrAngleRange,
				"beam %d at %d: corrected angle %.3f", r.Beam, r.TimestampUs, corr)
		}
		out = append(out, store.BeamValueRow{
			TimestampUs: r.TimestampUs,
			Beam:        r.Beam,
			Value:       corr,
		})
	}

	return p.store.WriteChunk(store.VarCorrPointingAngle, chunk.Range, out)
}

// attitudeFor loads and fits the attitude covering a chunk, padded by the
// gap tolerance so pings at the chunk edges see their neighbors.
func (p *Pipeline) attitudeFor(chunk store.Chunk) (*attitudeInterp, error) {
	padded := store.TimeRange{
		StartUs: chunk.Range.StartUs - p.maxGapUs,
		EndUs:   chunk.Range.EndUs + p.maxGapUs,
	}
	samples, err := p.store.ReadAttitude(padded)
	if err != nil {
		if errors.Is(err, errors.ErrOutOfRange) {
			return nil, errors.Wrapf(errors.ErrAttitudeGap, "no attitude data for %s", chunk.Range)
		}
		return nil, err
	}
	return newAttitudeInterp(samples, p.maxGapUs)
}
