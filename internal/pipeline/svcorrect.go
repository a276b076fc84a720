package pipeline

import (
	"math"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/record"
	"github.com/xtxerr/fathom/internal/store"
)

// runSVCorrect ray-traces every beam through the sound velocity profile in
// effect at its ping time, converting corrected angle + travel time into
// vessel-frame offsets. Writes alongtrack, acrosstrack and depth_offset.
func (p *Pipeline) runSVCorrect(chunk store.Chunk) error {
	rows, err := p.store.ReadPings(chunk.Range)
	if err != nil {
		return err
	}
	angles, err := p.store.ReadChunk(store.VarCorrPointingAngle, chunk.Range)
	if err != nil {
		return err
	}
	angleAt := indexBeamValues(angles)

	ai, err := p.attitudeFor(chunk)
	if err != nil {
		return err
	}

	inst := p.store.Dataset().Installation
	// Transducer depth below the waterline; the ray starts here.
	txDepth := inst.LeverZ - inst.WaterlineOffset
	if txDepth < 0 {
		txDepth = 0
	}

	along := make([]store.BeamValueRow, 0, len(rows))
	across := make([]store.BeamValueRow, 0, len(rows))
	depth := make([]store.BeamValueRow, 0, len(rows))

	for _, r := range rows {
		profile, err := p.casts.ProfileAt(r.TimestampUs)
		if err != nil {
			return err
		}
		corr, ok := angleAt(r.TimestampUs, r.Beam)
		if !ok {
			return errors.Wrapf(errors.ErrOutOfRange,
				"corr_pointing_angle missing for beam %d at %d", r.Beam, r.TimestampUs)
		}
		att, err := ai.at(r.TimestampUs)
		if err != nil {
			return err
		}

		horiz, rayDepth := traceRay(profile, txDepth, math.Abs(corr)*math.Pi/180, r.TravelTime/2)
		if corr < 0 {
			horiz = -horiz
		}

		along = append(along, store.BeamValueRow{
			TimestampUs: r.TimestampUs, Beam: r.Beam,
			Value: inst.LeverX,
		})
		across = append(across, store.BeamValueRow{
			TimestampUs: r.TimestampUs, Beam: r.Beam,
			Value: horiz + inst.LeverY,
		})
		// Depth below the waterline. Heave lifts the transducer, so it
		// subtracts from the sounding depth.
		depth = append(depth, store.BeamValueRow{
			TimestampUs: r.TimestampUs, Beam: r.Beam,
			Value: rayDepth - att.Heave,
		})
	}

	if err := p.store.WriteChunk(store.VarAlongTrack, chunk.Range, along); err != nil {
		return err
	}
	if err := p.store.WriteChunk(store.VarAcrossTrack, chunk.Range, across); err != nil {
		return err
	}
	return p.store.WriteChunk(store.VarDepthOffset, chunk.Range, depth)
}

// traceRay propagates a ray launched at angle theta from vertical (radians)
// at startDepth through the profile's layers for oneWayTime seconds, bending
// at each layer boundary by Snell's law. Returns the horizontal distance
// traveled and the final depth below the waterline.
func traceRay(p *record.SoundVelocityProfile, startDepth, theta, oneWayTime float64) (horiz, depth float64) {
	depth = startDepth
	remaining := oneWayTime
	sinTheta := math.Sin(theta)
	v := p.VelocityAt(depth)

	for _, boundary := range p.Depths {
		if remaining <= 0 {
			break
		}
		if boundary <= depth {
			continue
		}
		cosTheta := math.Sqrt(1 - sinTheta*sinTheta)
		if cosTheta < 1e-9 {
			break // ray bent horizontal, no further descent
		}

		thickness := boundary - depth
		dt := thickness / (v * cosTheta)
		if dt >= remaining {
			break
		}
		depth = boundary
		horiz += thickness * sinTheta / cosTheta
		remaining -= dt

		// Refract into the next layer.
		vNext := p.VelocityAt(boundary)
		sinNext := sinTheta * vNext / v
		if sinNext >= 1 {
			// Total internal reflection; hold the ray just under
			// horizontal rather than reflecting it upward.
			sinNext = math.Nextafter(1, 0)
		}
		sinTheta = sinNext
		v = vNext
	}

	// Finish the remaining time in the current layer (or below the last
	// cast depth, where velocity is held constant).
	if remaining > 0 {
		cosTheta := math.Sqrt(1 - sinTheta*sinTheta)
		depth += v * cosTheta * remaining
		horiz += v * sinTheta * remaining
	}
	return horiz, depth
}

// indexBeamValues builds a lookup over (time, beam) keyed rows.
func indexBeamValues(rows []store.BeamValueRow) func(tsUs int64, beam int32) (float64, bool) {
	type key struct {
		ts   int64
		beam int32
	}
	m := make(map[key]float64, len(rows))
	for _, r := range rows {
		m[key{r.TimestampUs, r.Beam}] = r.Value
	}
	return func(tsUs int64, beam int32) (float64, bool) {
		v, ok := m[key{tsUs, beam}]
		return v, ok
	}
}
