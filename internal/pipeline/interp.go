package pipeline

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/record"
)

// timeSeries interpolates one scalar signal over time with a gap tolerance.
// A query time must have a sample within maxGapUs on both sides (or an exact
// hit); interpolating across a sensor dropout would fabricate motion.
type timeSeries struct {
	times    []int64
	maxGapUs int64
	pl       interp.PiecewiseLinear
}

func newTimeSeries(times []int64, values []float64, maxGapUs int64) (*timeSeries, error) {
	if len(times) < 2 {
		return nil, errors.Wrapf(errors.ErrAttitudeGap, "%d samples, need at least 2", len(times))
	}
	xs := make([]float64, len(times))
	for i, t := range times {
		xs[i] = float64(t)
	}
	ts := &timeSeries{times: times, maxGapUs: maxGapUs}
	if err := ts.pl.Fit(xs, values); err != nil {
		return nil, errors.Wrap(err, "fit series")
	}
	return ts, nil
}

// at interpolates the signal at tsUs.
func (s *timeSeries) at(tsUs int64) (float64, error) {
	if err := s.checkGap(tsUs); err != nil {
		return 0, err
	}
	return s.pl.Predict(float64(tsUs)), nil
}

// checkGap verifies a sample exists within the gap tolerance on both sides
// of tsUs.
func (s *timeSeries) checkGap(tsUs int64) error {
	i := sort.Search(len(s.times), func(i int) bool { return s.times[i] >= tsUs })
	if i < len(s.times) && s.times[i] == tsUs {
		return nil
	}
	if i == 0 {
		return errors.Wrapf(errors.ErrAttitudeGap,
			"time %d precedes first sample %d", tsUs, s.times[0])
	}
	if i == len(s.times) {
		return errors.Wrapf(errors.ErrAttitudeGap,
			"time %d after last sample %d", tsUs, s.times[len(s.times)-1])
	}
	if left := tsUs - s.times[i-1]; left > s.maxGapUs {
		return errors.Wrapf(errors.ErrAttitudeGap,
			"nearest earlier sample %dus away, tolerance %dus", left, s.maxGapUs)
	}
	if right := s.times[i] - tsUs; right > s.maxGapUs {
		return errors.Wrapf(errors.ErrAttitudeGap,
			"nearest later sample %dus away, tolerance %dus", right, s.maxGapUs)
	}
	return nil
}

// attitudeInterp interpolates attitude to ping time.
type attitudeInterp struct {
	heading, pitch, roll, heave *timeSeries
}

func newAttitudeInterp(samples []record.AttitudeSample, maxGapUs int64) (*attitudeInterp, error) {
	n := len(samples)
	if n < 2 {
		return nil, errors.Wrapf(errors.ErrAttitudeGap, "%d attitude samples", n)
	}
	times := make([]int64, n)
	heading := make([]float64, n)
	pitch := make([]float64, n)
	roll := make([]float64, n)
	heave := make([]float64, n)
	for i, s := range samples {
		times[i] = s.TimestampUs
		heading[i] = s.Heading
		pitch[i] = s.Pitch
		roll[i] = s.Roll
		heave[i] = s.Heave
	}
	unwrapDegrees(heading)

	ai := &attitudeInterp{}
	var err error
	if ai.heading, err = newTimeSeries(times, heading, maxGapUs); err != nil {
		return nil, err
	}
	if ai.pitch, err = newTimeSeries(times, pitch, maxGapUs); err != nil {
		return nil, err
	}
	if ai.roll, err = newTimeSeries(times, roll, maxGapUs); err != nil {
		return nil, err
	}
	if ai.heave, err = newTimeSeries(times, heave, maxGapUs); err != nil {
		return nil, err
	}
	return ai, nil
}

// at returns the attitude at tsUs. Heading is normalized back to [0,360).
func (a *attitudeInterp) at(tsUs int64) (record.AttitudeSample, error) {
	h, err := a.heading.at(tsUs)
	if err != nil {
		return record.AttitudeSample{}, err
	}
	p, err := a.pitch.at(tsUs)
	if err != nil {
		return record.AttitudeSample{}, err
	}
	r, err := a.roll.at(tsUs)
	if err != nil {
		return record.AttitudeSample{}, err
	}
	hv, err := a.heave.at(tsUs)
	if err != nil {
		return record.AttitudeSample{}, err
	}
	return record.AttitudeSample{
		TimestampUs: tsUs,
		Heading:     math.Mod(math.Mod(h, 360)+360, 360),
		Pitch:       p,
		Roll:        r,
		Heave:       hv,
	}, nil
}

// navInterp interpolates navigation to ping time.
type navInterp struct {
	lat, lon, alt *timeSeries
}

func newNavInterp(samples []record.NavigationSample, maxGapUs int64) (*navInterp, error) {
	n := len(samples)
	if n < 2 {
		return nil, errors.Wrapf(errors.ErrAttitudeGap, "%d navigation samples", n)
	}
	times := make([]int64, n)
	lat := make([]float64, n)
	lon := make([]float64, n)
	alt := make([]float64, n)
	for i, s := range samples {
		times[i] = s.TimestampUs
		lat[i] = s.Latitude
		lon[i] = s.Longitude
		alt[i] = s.Altitude
	}
	// Antimeridian crossings show up as 360 degree jumps in longitude.
	unwrapDegrees(lon)

	ni := &navInterp{}
	var err error
	if ni.lat, err = newTimeSeries(times, lat, maxGapUs); err != nil {
		return nil, err
	}
	if ni.lon, err = newTimeSeries(times, lon, maxGapUs); err != nil {
		return nil, err
	}
	if ni.alt, err = newTimeSeries(times, alt, maxGapUs); err != nil {
		return nil, err
	}
	return ni, nil
}

func (n *navInterp) at(tsUs int64) (record.NavigationSample, error) {
	lat, err := n.lat.at(tsUs)
	if err != nil {
		return record.NavigationSample{}, err
	}
	lon, err := n.lon.at(tsUs)
	if err != nil {
		return record.NavigationSample{}, err
	}
	alt, err := n.alt.at(tsUs)
	if err != nil {
		return record.NavigationSample{}, err
	}
	if lon > 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return record.NavigationSample{TimestampUs: tsUs, Latitude: lat, Longitude: lon, Altitude: alt}, nil
}

// unwrapDegrees removes 360 degree wraps from an angular series in place so
// linear interpolation crosses the wrap correctly.
func unwrapDegrees(vals []float64) {
	offset := 0.0
	for i := 1; i < len(vals); i++ {
		d := vals[i] + offset - vals[i-1]
		if d > 180 {
			offset -= 360
		} else if d < -180 {
			offset += 360
		}
		vals[i] += offset
	}
}
