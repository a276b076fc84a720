package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StageStatus is the recorded outcome of one stage for one chunk.
type StageStatus struct {
	State ProcessingState `yaml:"state"`

	// Reason holds the failure reason when State is failed.
	Reason string `yaml:"reason,omitempty"`

	// Stamp is the input-version stamp recorded when the stage last
	// completed. A stamp mismatch on re-run invalidates the chunk.
	Stamp uint64 `yaml:"stamp,omitempty"`

	// ProcessedAtUs is when the stage last completed, Unix microseconds.
	ProcessedAtUs int64 `yaml:"processed_at_us,omitempty"`
}

// ChunkStatus tracks one ping chunk's progress through all stages.
type ChunkStatus struct {
	Seq    int                    `yaml:"seq"`
	Stages map[string]StageStatus `yaml:"stages,omitempty"`
}

// Stage returns the recorded status of one stage.
func (c ChunkStatus) Stage(s Stage) StageStatus {
	if c.Stages == nil {
		return StageStatus{}
	}
	return c.Stages[s.String()]
}

// SetStage records the status of one stage.
func (c *ChunkStatus) SetStage(s Stage, st StageStatus) {
	if c.Stages == nil {
		c.Stages = make(map[string]StageStatus, int(stageCount))
	}
	c.Stages[s.String()] = st
}

// Overall returns the chunk's overall state: failed if any stage failed,
// otherwise the minimum progress across stages.
func (c ChunkStatus) Overall() ProcessingState {
	min := StateDone
	for _, s := range Stages() {
		st := c.Stage(s).State
		if st == StateFailed {
			return StateFailed
		}
		if st < min {
			min = st
		}
	}
	return min
}

// manifest is the persisted chunk index and processing state for one store.
type manifest struct {
	// Axes maps each axis to its chunk index, ordered by sequence number.
	Axes map[Axis][]Chunk `yaml:"axes"`

	// States tracks pipeline progress per ping chunk, keyed by sequence.
	States map[int]*ChunkStatus `yaml:"states,omitempty"`

	// LateRecords counts records rejected for arriving outside the reorder
	// window, per axis. Reported, never fatal.
	LateRecords map[Axis]int64 `yaml:"late_records,omitempty"`
}

func newManifest() *manifest {
	return &manifest{
		Axes:   make(map[Axis][]Chunk),
		States: make(map[int]*ChunkStatus),
	}
}

// status returns the ChunkStatus for a ping chunk, creating it if needed.
func (m *manifest) status(seq int) *ChunkStatus {
	if m.States == nil {
		m.States = make(map[int]*ChunkStatus)
	}
	cs, ok := m.States[seq]
	if !ok {
		cs = &ChunkStatus{Seq: seq}
		m.States[seq] = cs
	}
	return cs
}

// tail returns the last chunk of an axis, or nil.
func (m *manifest) tail(axis Axis) *Chunk {
	chunks := m.Axes[axis]
	if len(chunks) == 0 {
		return nil
	}
	return &chunks[len(chunks)-1]
}

// maxTime returns the newest timestamp appended to an axis, or 0.
func (m *manifest) maxTime(axis Axis) int64 {
	t := m.tail(axis)
	if t == nil {
		return 0
	}
	return t.Range.EndUs - 1
}

const manifestFile = "manifest.yaml"

// saveManifest persists the manifest atomically.
func saveManifest(root string, m *manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return atomicWriteFile(filepath.Join(root, manifestFile), data)
}

// loadManifest reads a persisted manifest. Returns a fresh manifest when
// none exists yet.
func loadManifest(root string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return newManifest(), nil
		}
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Axes == nil {
		m.Axes = make(map[Axis][]Chunk)
	}
	if m.States == nil {
		m.States = make(map[int]*ChunkStatus)
	}
	return &m, nil
}
