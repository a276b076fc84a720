package record

// Installation holds the static mounting geometry for one sonar head,
// measured during survey setup. Lever arms are meters in the vessel frame
// (x forward, y starboard, z down from the reference point); mount angles
// are degrees.
type Installation struct {
	// Transducer lever arms relative to the vessel reference point.
	LeverX float64 `yaml:"lever_x"`
	LeverY float64 `yaml:"lever_y"`
	LeverZ float64 `yaml:"lever_z"`

	// Transducer mounting angles.
	MountRoll  float64 `yaml:"mount_roll"`
	MountPitch float64 `yaml:"mount_pitch"`
	MountYaw   float64 `yaml:"mount_yaw"`

	// WaterlineOffset is the vertical distance from the reference point to
	// the waterline, meters, positive down.
	WaterlineOffset float64 `yaml:"waterline_offset"`
}

// SystemDataset identifies one sonar system/head within a survey. A dual-head
// survey has one SystemDataset per serial number; the pipeline is written
// once against this contract and applied per instance.
type SystemDataset struct {
	// Serial is the system serial number, the dataset key.
	Serial string `yaml:"serial"`

	// Model is the sonar model identifier reported by the parser.
	Model string `yaml:"model"`

	// Installation holds the mounting offsets for this head.
	Installation Installation `yaml:"installation"`
}
