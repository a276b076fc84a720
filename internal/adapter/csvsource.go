package adapter

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/record"
)

// CSVSource is a RecordSource over a simple delimited text format, used for
// pipeline testing and as a reference for plugging in real format parsers.
//
// Each line starts with a record kind:
//
//	installation,<serial>,<model>,<lever_x>,<lever_y>,<lever_z>,<mount_roll>,<mount_pitch>,<mount_yaw>,<waterline_offset>
//	ping,<serial>,<ts_us>,<sector>,<freq_hz>,<travel_times>,<angles_deg>,<quality>
//	attitude,<ts_us>,<heading>,<pitch>,<roll>,<heave>
//	navigation,<ts_us>,<lat>,<lon>,<alt>
//	profile,<valid_from_us>,<depths>,<velocities>
//
// Per-beam and per-layer lists are semicolon separated within one field.
type CSVSource struct {
	r *csv.Reader
}

// NewCSVSource creates a CSVSource reading from r.
func NewCSVSource(r io.Reader) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // kinds have different arity
	return &CSVSource{r: cr}
}

// Next implements RecordSource.
func (s *CSVSource) Next() (Record, error) {
	fields, err := s.r.Read()
	if err != nil {
		return nil, err // io.EOF passes through
	}
	if len(fields) == 0 {
		return nil, errors.NewMissingField("record kind")
	}

	switch fields[0] {
	case "installation":
		return s.parseInstallation(fields)
	case "ping":
		return s.parsePing(fields)
	case "attitude":
		return s.parseAttitude(fields)
	case "navigation":
		return s.parseNavigation(fields)
	case "profile":
		return s.parseProfile(fields)
	default:
		return nil, errors.NewInvalidValue("record kind", fields[0], "unknown")
	}
}

func (s *CSVSource) parseInstallation(fields []string) (Record, error) {
	if len(fields) != 10 {
		return nil, errors.NewInvalidValue("installation", len(fields), "want 10 fields")
	}
	vals, err := parseFloats(fields[3:10])
	if err != nil {
		return nil, err
	}
	return InstallationRecord{Dataset: record.SystemDataset{
		Serial: fields[1],
		Model:  fields[2],
		Installation: record.Installation{
			LeverX: vals[0], LeverY: vals[1], LeverZ: vals[2],
			MountRoll: vals[3], MountPitch: vals[4], MountYaw: vals[5],
			WaterlineOffset: vals[6],
		},
	}}, nil
}

func (s *CSVSource) parsePing(fields []string) (Record, error) {
	if len(fields) != 8 {
		return nil, errors.NewInvalidValue("ping", len(fields), "want 8 fields")
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, errors.NewInvalidValue("ping timestamp", fields[2], err.Error())
	}
	sector, err := strconv.ParseInt(fields[3], 10, 32)
	if err != nil {
		return nil, errors.NewInvalidValue("ping sector", fields[3], err.Error())
	}
	freq, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return nil, errors.NewInvalidValue("ping frequency", fields[4], err.Error())
	}
	tt, err := parseList(fields[5])
	if err != nil {
		return nil, err
	}
	angles, err := parseList(fields[6])
	if err != nil {
		return nil, err
	}
	quals, err := parseQualityList(fields[7])
	if err != nil {
		return nil, err
	}
	p := record.Ping{
		Serial:        fields[1],
		Sector:        int32(sector),
		Frequency:     freq,
		TimestampUs:   ts,
		TravelTime:    tt,
		PointingAngle: angles,
		Quality:       quals,
	}
	if !p.Valid() {
		return nil, errors.NewInvalidValue("ping", ts, "beam array lengths differ")
	}
	return PingRecord{Ping: p}, nil
}

func (s *CSVSource) parseAttitude(fields []string) (Record, error) {
	if len(fields) != 6 {
		return nil, errors.NewInvalidValue("attitude", len(fields), "want 6 fields")
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, errors.NewInvalidValue("attitude timestamp", fields[1], err.Error())
	}
	vals, err := parseFloats(fields[2:6])
	if err != nil {
		return nil, err
	}
	return AttitudeRecord{Sample: record.AttitudeSample{
		TimestampUs: ts,
		Heading:     vals[0], Pitch: vals[1], Roll: vals[2], Heave: vals[3],
	}}, nil
}

func (s *CSVSource) parseNavigation(fields []string) (Record, error) {
	if len(fields) != 5 {
		return nil, errors.NewInvalidValue("navigation", len(fields), "want 5 fields")
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, errors.NewInvalidValue("navigation timestamp", fields[1], err.Error())
	}
	vals, err := parseFloats(fields[2:5])
	if err != nil {
		return nil, err
	}
	return NavigationRecord{Sample: record.NavigationSample{
		TimestampUs: ts,
		Latitude:    vals[0], Longitude: vals[1], Altitude: vals[2],
	}}, nil
}

func (s *CSVSource) parseProfile(fields []string) (Record, error) {
	if len(fields) != 4 {
		return nil, errors.NewInvalidValue("profile", len(fields), "want 4 fields")
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, errors.NewInvalidValue("profile timestamp", fields[1], err.Error())
	}
	depths, err := parseList(fields[2])
	if err != nil {
		return nil, err
	}
	velocities, err := parseList(fields[3])
	if err != nil {
		return nil, err
	}
	return ProfileRecord{Profile: record.SoundVelocityProfile{
		ValidFromUs: ts,
		Depths:      depths,
		Velocities:  velocities,
	}}, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, errors.NewInvalidValue("field", f, err.Error())
		}
		out[i] = v
	}
	return out, nil
}

// parseList parses a semicolon-separated float list.
func parseList(field string) ([]float64, error) {
	parts := strings.Split(field, ";")
	return parseFloats(parts)
}

func parseQualityList(field string) ([]uint8, error) {
	parts := strings.Split(field, ";")
	out := make([]uint8, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, errors.NewInvalidValue("quality", p, err.Error())
		}
		out[i] = uint8(v)
	}
	return out, nil
}

// sliceSource replays an in-memory record slice; handy for wiring synthetic
// data through the adapter.
type sliceSource struct {
	recs []Record
	i    int
}

// NewSliceSource creates a RecordSource over the given records.
func NewSliceSource(recs ...Record) RecordSource {
	return &sliceSource{recs: recs}
}

func (s *sliceSource) Next() (Record, error) {
	if s.i >= len(s.recs) {
		return nil, io.EOF
	}
	r := s.recs[s.i]
	s.i++
	return r, nil
}
