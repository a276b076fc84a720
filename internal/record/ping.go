package record

import "time"

// Quality flag values for per-beam quality. Parsers map vendor flags onto
// this scale; anything >= QualityRejected is excluded from export.
const (
	QualityGood     uint8 = 0
	QualitySuspect  uint8 = 1
	QualityRejected uint8 = 2
)

// Ping represents one sonar transmission event: a set of beams sharing a
// timestamp, sector and transmit configuration. This is the primary data
// unit flowing into the store.
type Ping struct {
	// Identity
	Serial string // system/head serial number (e.g. "40111")
	Sector int32  // transmit sector identifier within the ping cycle
	// Frequency is the sector transmit frequency in Hz.
	Frequency float64

	// TimestampUs is the transmit time in Unix microseconds.
	TimestampUs int64

	// Per-beam arrays, all the same length.
	TravelTime    []float64 // two-way travel time, seconds
	PointingAngle []float64 // raw beam pointing angle from nadir, degrees (starboard positive)
	Quality       []uint8   // per-beam quality flag
}

// TimestampTime returns the ping time as a time.Time.
func (p *Ping) TimestampTime() time.Time {
	return time.UnixMicro(p.TimestampUs)
}

// BeamCount returns the number of beams in this ping.
func (p *Ping) BeamCount() int {
	return len(p.TravelTime)
}

// Valid reports whether the per-beam arrays are consistent.
func (p *Ping) Valid() bool {
	n := len(p.TravelTime)
	return n > 0 && len(p.PointingAngle) == n && len(p.Quality) == n
}

// AttitudeSample is one sample from the motion sensor. Sampled at a higher
// rate than pings; interpolated to ping time during angle correction.
type AttitudeSample struct {
	TimestampUs int64
	Heading     float64 // degrees true, 0-360
	Pitch       float64 // degrees, bow up positive
	Roll        float64 // degrees, starboard down positive
	Heave       float64 // meters, up positive
}

// NavigationSample is one position fix.
type NavigationSample struct {
	TimestampUs int64
	Latitude    float64 // degrees
	Longitude   float64 // degrees
	Altitude    float64 // meters above the ellipsoid
}
