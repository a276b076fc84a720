// Package testutil generates synthetic survey data for tests: a vessel
// steaming north at constant speed with mild roll, pinging at a fixed rate.
package testutil

import (
	"math"
	"testing"

	"github.com/xtxerr/fathom/internal/record"
	"github.com/xtxerr/fathom/internal/store"
)

// Survey describes a synthetic survey to generate.
type Survey struct {
	// Serial of the system dataset.
	Serial string

	// StartUs is the first ping time, Unix microseconds.
	StartUs int64

	// Pings to generate, one every PingIntervalUs.
	Pings          int
	PingIntervalUs int64

	// Beams per ping, fanned evenly across +-60 degrees.
	Beams int

	// AttitudeIntervalUs between motion samples. Attitude and navigation
	// cover the ping span padded by two seconds on both sides.
	AttitudeIntervalUs int64
	NavIntervalUs      int64

	// Gaps lists time ranges to omit from attitude coverage, simulating
	// sensor dropouts.
	Gaps []store.TimeRange

	// Lat/Lon of the first navigation fix. The vessel steams north at
	// 5 m/s.
	Lat, Lon float64
}

// DefaultSurvey returns a 100 ping survey over 50 seconds off Boston.
func DefaultSurvey() Survey {
	return Survey{
		Serial:             "40111",
		StartUs:            1_700_000_000_000_000,
		Pings:              100,
		PingIntervalUs:     500_000,
		Beams:              8,
		AttitudeIntervalUs: 100_000,
		NavIntervalUs:      500_000,
		Lat:                42.35,
		Lon:                -70.90,
	}
}

// Dataset returns the survey's system dataset with plausible installation
// offsets.
func (sv Survey) Dataset() record.SystemDataset {
	return record.SystemDataset{
		Serial: sv.Serial,
		Model:  "em2040",
		Installation: record.Installation{
			LeverX:          0.4,
			LeverY:          0.1,
			LeverZ:          1.5,
			MountRoll:       0.05,
			WaterlineOffset: 0.6,
		},
	}
}

// GeneratePings returns the survey's ping records.
func (sv Survey) GeneratePings() []record.Ping {
	pings := make([]record.Ping, sv.Pings)
	for i := range pings {
		tt := make([]float64, sv.Beams)
		angles := make([]float64, sv.Beams)
		quals := make([]uint8, sv.Beams)
		for b := 0; b < sv.Beams; b++ {
			// Fan from -60 to +60 degrees; outer beams travel longer.
			frac := 0.0
			if sv.Beams > 1 {
				frac = float64(b)/float64(sv.Beams-1)*2 - 1
			}
			angles[b] = 60 * frac
			tt[b] = 0.040 / math.Cos(angles[b]*math.Pi/180)
		}
		pings[i] = record.Ping{
			Serial:        sv.Serial,
			Sector:        int32(i % 2),
			Frequency:     300_000,
			TimestampUs:   sv.StartUs + int64(i)*sv.PingIntervalUs,
			TravelTime:    tt,
			PointingAngle: angles,
			Quality:       quals,
		}
	}
	return pings
}

// coverage returns the padded time span attitude and navigation cover.
func (sv Survey) coverage() (int64, int64) {
	const padUs = 2_000_000
	endUs := sv.StartUs + int64(sv.Pings)*sv.PingIntervalUs
	return sv.StartUs - padUs, endUs + padUs
}

// GenerateAttitude returns motion samples with gentle roll and heave,
// skipping any configured gap ranges.
func (sv Survey) GenerateAttitude() []record.AttitudeSample {
	startUs, endUs := sv.coverage()
	var out []record.AttitudeSample
	for ts := startUs; ts <= endUs; ts += sv.AttitudeIntervalUs {
		if sv.inGap(ts) {
			continue
		}
		phase := float64(ts-startUs) / 1e6
		out = append(out, record.AttitudeSample{
			TimestampUs: ts,
			Heading:     10.0,
			Pitch:       0.5 * math.Sin(phase/3),
			Roll:        2.0 * math.Sin(phase/2),
			Heave:       0.2 * math.Sin(phase),
		})
	}
	return out
}

// GenerateNavigation returns position fixes steaming north at 5 m/s.
func (sv Survey) GenerateNavigation() []record.NavigationSample {
	startUs, endUs := sv.coverage()
	var out []record.NavigationSample
	for ts := startUs; ts <= endUs; ts += sv.NavIntervalUs {
		dt := float64(ts-startUs) / 1e6
		out = append(out, record.NavigationSample{
			TimestampUs: ts,
			Latitude:    sv.Lat + dt*5/111_000, // ~5 m/s north
			Longitude:   sv.Lon,
			Altitude:    1.2,
		})
	}
	return out
}

// GenerateCast returns one cast taken just before the survey start, with a
// mild downward-refracting velocity gradient.
func (sv Survey) GenerateCast() *record.SoundVelocityProfile {
	return &record.SoundVelocityProfile{
		ValidFromUs: sv.StartUs - 60_000_000,
		Depths:      []float64{0, 5, 10, 20, 50, 100},
		Velocities:  []float64{1500, 1498, 1495, 1490, 1485, 1482},
	}
}

func (sv Survey) inGap(tsUs int64) bool {
	for _, g := range sv.Gaps {
		if g.Contains(tsUs) {
			return true
		}
	}
	return false
}

// FillStore creates a store under dir, appends the survey's raw data and
// returns it together with the cast set.
func (sv Survey) FillStore(t *testing.T, dir string, chunkSize int) (*store.Store, *record.CastStore) {
	t.Helper()
	s, err := store.OpenOrCreate(dir, store.SurveySchema(sv.Dataset(), chunkSize), store.DefaultOptions())
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.AppendPings(sv.GeneratePings()); err != nil {
		t.Fatalf("AppendPings: %v", err)
	}
	if err := s.AppendAttitude(sv.GenerateAttitude()); err != nil {
		t.Fatalf("AppendAttitude: %v", err)
	}
	if err := s.AppendNavigation(sv.GenerateNavigation()); err != nil {
		t.Fatalf("AppendNavigation: %v", err)
	}
	return s, record.NewCastStore(sv.GenerateCast())
}
