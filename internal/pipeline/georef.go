package pipeline

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/xtxerr/fathom/internal/crs"
	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/store"
)

// runGeoref turns vessel-frame offsets into projected soundings: rotate by
// interpolated heading into the local level frame, add to the projected
// navigation position, then apply the vertical reference. Writes x, y, z.
func (p *Pipeline) runGeoref(chunk store.Chunk) error {
	rows, err := p.store.ReadPings(chunk.Range)
	if err != nil {
		return err
	}

	along, err := p.store.ReadChunk(store.VarAlongTrack, chunk.Range)
	if err != nil {
		return err
	}
	across, err := p.store.ReadChunk(store.VarAcrossTrack, chunk.Range)
	if err != nil {
		return err
	}
	depth, err := p.store.ReadChunk(store.VarDepthOffset, chunk.Range)
	if err != nil {
		return err
	}
	alongAt := indexBeamValues(along)
	acrossAt := indexBeamValues(across)
	depthAt := indexBeamValues(depth)

	ai, err := p.attitudeFor(chunk)
	if err != nil {
		return err
	}
	ni, err := p.navigationFor(chunk)
	if err != nil {
		return err
	}

	xs := make([]store.BeamValueRow, 0, len(rows))
	ys := make([]store.BeamValueRow, 0, len(rows))
	zs := make([]store.BeamValueRow, 0, len(rows))

	for _, r := range rows {
		att, err := ai.at(r.TimestampUs)
		if err != nil {
			return err
		}
		nav, err := ni.at(r.TimestampUs)
		if err != nil {
			return err
		}

		a, ok := alongAt(r.TimestampUs, r.Beam)
		if !ok {
			return errors.Wrapf(errors.ErrOutOfRange, "alongtrack missing for beam %d", r.Beam)
		}
		c, ok := acrossAt(r.TimestampUs, r.Beam)
		if !ok {
			return errors.Wrapf(errors.ErrOutOfRange, "acrosstrack missing for beam %d", r.Beam)
		}
		d, ok := depthAt(r.TimestampUs, r.Beam)
		if !ok {
			return errors.Wrapf(errors.ErrOutOfRange, "depth_offset missing for beam %d", r.Beam)
		}

		east, north := rotateToLevel(a, c, att.Heading)

		px, py, _, err := p.transformer.Forward(nav.Longitude, nav.Latitude, nav.Altitude)
		if err != nil {
			return errors.Wrapf(errors.ErrProjection, "%v", err)
		}

		z := d
		if p.verticalRef == crs.VerticalEllipse {
			// Depth below the ellipsoid instead of the waterline.
			z = d - nav.Altitude
		}

		xs = append(xs, store.BeamValueRow{TimestampUs: r.TimestampUs, Beam: r.Beam, Value: px + east})
		ys = append(ys, store.BeamValueRow{TimestampUs: r.TimestampUs, Beam: r.Beam, Value: py + north})
		zs = append(zs, store.BeamValueRow{TimestampUs: r.TimestampUs, Beam: r.Beam, Value: z})
	}

	if err := p.store.WriteChunk(store.VarX, chunk.Range, xs); err != nil {
		return err
	}
	if err := p.store.WriteChunk(store.VarY, chunk.Range, ys); err != nil {
		return err
	}
	return p.store.WriteChunk(store.VarZ, chunk.Range, zs)
}

// rotateToLevel rotates vessel-frame offsets (alongtrack forward,
// acrosstrack starboard) by the heading (degrees true) into east/north.
func rotateToLevel(along, across, headingDeg float64) (east, north float64) {
	h := headingDeg * math.Pi / 180
	rot := mat.NewDense(2, 2, []float64{
		math.Sin(h), math.Cos(h),
		math.Cos(h), -math.Sin(h),
	})
	var out mat.VecDense
	out.MulVec(rot, mat.NewVecDense(2, []float64{along, across}))
	return out.AtVec(0), out.AtVec(1)
}

// navigationFor loads and fits navigation covering a chunk, padded by the
// gap tolerance.
func (p *Pipeline) navigationFor(chunk store.Chunk) (*navInterp, error) {
	padded := store.TimeRange{
		StartUs: chunk.Range.StartUs - p.maxGapUs,
		EndUs:   chunk.Range.EndUs + p.maxGapUs,
	}
	samples, err := p.store.ReadNavigation(padded)
	if err != nil {
		if errors.Is(err, errors.ErrOutOfRange) {
			return nil, errors.Wrapf(errors.ErrAttitudeGap, "no navigation data for %s", chunk.Range)
		}
		return nil, err
	}
	return newNavInterp(samples, p.maxGapUs)
}
