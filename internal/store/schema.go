package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/record"
	"gopkg.in/yaml.v3"
)

// Axis identifies the time axis a variable is sampled on. Variables on the
// same axis share chunk boundaries.
type Axis string

const (
	AxisPing       Axis = "ping"
	AxisAttitude   Axis = "attitude"
	AxisNavigation Axis = "navigation"
)

// Dtype is the element type of a variable.
type Dtype string

const (
	DtypeFloat64 Dtype = "float64"
	DtypeInt64   Dtype = "int64"
	DtypeUint8   Dtype = "uint8"
)

// Variable declares one stored variable with its attached metadata. The
// metadata travels with the schema rather than with the value arrays, so a
// reader always knows the units and reference frame of what it loads.
type Variable struct {
	Name  string `yaml:"name"`
	Dtype Dtype  `yaml:"dtype"`
	Axis  Axis   `yaml:"axis"`

	// Beam is true for 2D (time x beam) variables.
	Beam bool `yaml:"beam"`

	// Units of the stored values (e.g. "degrees", "meters", "seconds").
	Units string `yaml:"units"`

	// Frame is the reference frame of the values (e.g. "vessel",
	// "local_level", "projected").
	Frame string `yaml:"frame"`
}

// Schema declares the variables of a store, their chunking, and the system
// dataset they belong to. A store refuses to open with a conflicting schema.
type Schema struct {
	// Dataset identifies the owning system/head.
	Dataset record.SystemDataset `yaml:"dataset"`

	// ChunkSize is the number of axis entries per chunk.
	ChunkSize int `yaml:"chunk_size"`

	// Variables declared for this store, including derived ones the
	// pipeline will fill in later.
	Variables []Variable `yaml:"variables"`
}

// Raw variable names written by the conversion adapter.
const (
	VarTravelTime    = "travel_time"
	VarPointingAngle = "pointing_angle"
	VarQuality       = "quality"
)

// Derived variable names written by the correction pipeline.
const (
	VarCorrPointingAngle = "corr_pointing_angle"
	VarAlongTrack        = "alongtrack"
	VarAcrossTrack       = "acrosstrack"
	VarDepthOffset       = "depth_offset"
	VarX                 = "x"
	VarY                 = "y"
	VarZ                 = "z"
)

// SurveySchema returns the standard schema for a system dataset: the raw
// variables the adapter writes plus the derived variables the pipeline
// fills in.
func SurveySchema(ds record.SystemDataset, chunkSize int) Schema {
	return Schema{
		Dataset:   ds,
		ChunkSize: chunkSize,
		Variables: []Variable{
			{Name: VarTravelTime, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "seconds", Frame: "transducer"},
			{Name: VarPointingAngle, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "degrees", Frame: "transducer"},
			{Name: VarQuality, Dtype: DtypeUint8, Axis: AxisPing, Beam: true, Units: "flag", Frame: ""},
			{Name: "heading", Dtype: DtypeFloat64, Axis: AxisAttitude, Units: "degrees", Frame: "local_level"},
			{Name: "pitch", Dtype: DtypeFloat64, Axis: AxisAttitude, Units: "degrees", Frame: "vessel"},
			{Name: "roll", Dtype: DtypeFloat64, Axis: AxisAttitude, Units: "degrees", Frame: "vessel"},
			{Name: "heave", Dtype: DtypeFloat64, Axis: AxisAttitude, Units: "meters", Frame: "vessel"},
			{Name: "latitude", Dtype: DtypeFloat64, Axis: AxisNavigation, Units: "degrees", Frame: "geographic"},
			{Name: "longitude", Dtype: DtypeFloat64, Axis: AxisNavigation, Units: "degrees", Frame: "geographic"},
			{Name: "altitude", Dtype: DtypeFloat64, Axis: AxisNavigation, Units: "meters", Frame: "ellipsoid"},
			{Name: VarCorrPointingAngle, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "degrees", Frame: "local_level"},
			{Name: VarAlongTrack, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "meters", Frame: "vessel"},
			{Name: VarAcrossTrack, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "meters", Frame: "vessel"},
			{Name: VarDepthOffset, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "meters", Frame: "vessel"},
			{Name: VarX, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "meters", Frame: "projected"},
			{Name: VarY, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "meters", Frame: "projected"},
			{Name: VarZ, Dtype: DtypeFloat64, Axis: AxisPing, Beam: true, Units: "meters", Frame: "vertical_ref"},
		},
	}
}

// Variable returns the declaration for name, if present.
func (s *Schema) Variable(name string) (Variable, bool) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Validate checks the schema for internal consistency.
func (s *Schema) Validate() error {
	verrs := errors.NewValidationErrors()

	if s.Dataset.Serial == "" {
		verrs.AddMissing("dataset.serial")
	}
	if s.ChunkSize <= 0 {
		verrs.AddField("chunk_size", "must be positive")
	}

	seen := make(map[string]bool)
	for _, v := range s.Variables {
		if v.Name == "" {
			verrs.AddMissing("variable.name")
			continue
		}
		if seen[v.Name] {
			verrs.AddField("variables", fmt.Sprintf("duplicate variable %q", v.Name))
		}
		seen[v.Name] = true

		switch v.Axis {
		case AxisPing, AxisAttitude, AxisNavigation:
		default:
			verrs.AddField(v.Name, fmt.Sprintf("unknown axis %q", v.Axis))
		}
		switch v.Dtype {
		case DtypeFloat64, DtypeInt64, DtypeUint8:
		default:
			verrs.AddField(v.Name, fmt.Sprintf("unknown dtype %q", v.Dtype))
		}
	}

	return verrs.Err()
}

// Equal reports whether two schemas are compatible: same dataset serial,
// chunk size and variable declarations. Installation parameters are allowed
// to differ - they are versioned inputs, not layout.
func (s *Schema) Equal(other *Schema) bool {
	if s.Dataset.Serial != other.Dataset.Serial || s.ChunkSize != other.ChunkSize {
		return false
	}
	if len(s.Variables) != len(other.Variables) {
		return false
	}
	for i, v := range s.Variables {
		if v != other.Variables[i] {
			return false
		}
	}
	return true
}

const schemaFile = "schema.yaml"

// saveSchema persists the schema atomically.
func saveSchema(root string, s *Schema) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	return atomicWriteFile(filepath.Join(root, schemaFile), data)
}

// loadSchema reads a persisted schema. Returns os.ErrNotExist if none.
func loadSchema(root string) (*Schema, error) {
	data, err := os.ReadFile(filepath.Join(root, schemaFile))
	if err != nil {
		return nil, err
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &s, nil
}
