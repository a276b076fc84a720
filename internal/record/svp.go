package record

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/fathom/internal/errors"
)

// SoundVelocityProfile holds depth-velocity pairs from one cast, valid from
// ValidFromUs until superseded by a later cast. Read-only reference data.
type SoundVelocityProfile struct {
	// ValidFromUs is the cast time in Unix microseconds.
	ValidFromUs int64 `yaml:"valid_from_us"`

	// Depths in meters, strictly increasing, starting at or near zero.
	Depths []float64 `yaml:"depths"`

	// Velocities in meters/second, same length as Depths.
	Velocities []float64 `yaml:"velocities"`
}

// Valid reports whether the profile is well formed.
func (p *SoundVelocityProfile) Valid() bool {
	if len(p.Depths) < 2 || len(p.Depths) != len(p.Velocities) {
		return false
	}
	for i := 1; i < len(p.Depths); i++ {
		if p.Depths[i] <= p.Depths[i-1] {
			return false
		}
	}
	return true
}

// VelocityAt returns the sound velocity at the given depth by linear
// interpolation, clamping outside the cast's depth range.
func (p *SoundVelocityProfile) VelocityAt(depth float64) float64 {
	if depth <= p.Depths[0] {
		return p.Velocities[0]
	}
	last := len(p.Depths) - 1
	if depth >= p.Depths[last] {
		return p.Velocities[last]
	}
	i := sort.SearchFloat64s(p.Depths, depth)
	// Depths[i-1] < depth <= Depths[i]
	t := (depth - p.Depths[i-1]) / (p.Depths[i] - p.Depths[i-1])
	return p.Velocities[i-1] + t*(p.Velocities[i]-p.Velocities[i-1])
}

// SVProvider supplies the sound velocity profile in effect at a given time.
// Implementations must return errors.ErrNoSVProfile when no cast exists at
// or before the requested time.
type SVProvider interface {
	ProfileAt(timestampUs int64) (*SoundVelocityProfile, error)
}

// CastStore is an in-memory SVProvider over a set of casts, selecting the
// nearest cast at or before the requested time.
type CastStore struct {
	casts []*SoundVelocityProfile // sorted by ValidFromUs
}

// NewCastStore creates a CastStore from the given casts.
func NewCastStore(casts ...*SoundVelocityProfile) *CastStore {
	s := &CastStore{}
	for _, c := range casts {
		s.Add(c)
	}
	return s
}

// Add inserts a cast, keeping the set sorted by cast time.
func (s *CastStore) Add(cast *SoundVelocityProfile) {
	i := sort.Search(len(s.casts), func(i int) bool {
		return s.casts[i].ValidFromUs > cast.ValidFromUs
	})
	s.casts = append(s.casts, nil)
	copy(s.casts[i+1:], s.casts[i:])
	s.casts[i] = cast
}

// ProfileAt implements SVProvider.
func (s *CastStore) ProfileAt(timestampUs int64) (*SoundVelocityProfile, error) {
	i := sort.Search(len(s.casts), func(i int) bool {
		return s.casts[i].ValidFromUs > timestampUs
	})
	if i == 0 {
		return nil, errors.Wrapf(errors.ErrNoSVProfile, "time %d", timestampUs)
	}
	return s.casts[i-1], nil
}

// Len returns the number of casts.
func (s *CastStore) Len() int {
	return len(s.casts)
}

// All returns the casts in time order. The returned slice is shared; treat
// it as read-only.
func (s *CastStore) All() []*SoundVelocityProfile {
	return s.casts
}

// SaveCasts writes the cast set to a YAML file.
func SaveCasts(path string, s *CastStore) error {
	data, err := yaml.Marshal(s.casts)
	if err != nil {
		return fmt.Errorf("marshal casts: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write casts: %w", err)
	}
	return nil
}

// LoadCasts reads a cast set previously written by SaveCasts. A missing file
// yields an empty store.
func LoadCasts(path string) (*CastStore, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewCastStore(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read casts: %w", err)
	}
	var casts []*SoundVelocityProfile
	if err := yaml.Unmarshal(data, &casts); err != nil {
		return nil, fmt.Errorf("parse casts: %w", err)
	}
	return NewCastStore(casts...), nil
}
