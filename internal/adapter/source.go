package adapter

import "github.com/xtxerr/fathom/internal/record"

// Record is one parsed item from an external parser. The adapter only
// depends on this contract; vendor format decoding lives outside the module.
type Record interface {
	// TimeUs returns the record timestamp in Unix microseconds.
	TimeUs() int64
}

// PingRecord carries one parsed ping.
type PingRecord struct {
	Ping record.Ping
}

func (r PingRecord) TimeUs() int64 { return r.Ping.TimestampUs }

// AttitudeRecord carries one motion sensor sample. Attitude is vessel-wide
// and is appended to every open system dataset.
type AttitudeRecord struct {
	Sample record.AttitudeSample
}

func (r AttitudeRecord) TimeUs() int64 { return r.Sample.TimestampUs }

// NavigationRecord carries one position fix. Vessel-wide, like attitude.
type NavigationRecord struct {
	Sample record.NavigationSample
}

func (r NavigationRecord) TimeUs() int64 { return r.Sample.TimestampUs }

// InstallationRecord carries the system metadata a parser reads from file
// headers. It must precede the serial's first ping to take effect; a ping
// for an unseen serial opens a dataset with bare identity instead.
type InstallationRecord struct {
	Dataset record.SystemDataset
}

func (r InstallationRecord) TimeUs() int64 { return 0 }

// ProfileRecord carries one sound velocity cast.
type ProfileRecord struct {
	Profile record.SoundVelocityProfile
}

func (r ProfileRecord) TimeUs() int64 { return r.Profile.ValidFromUs }

// RecordSource is the external parser contract: a lazy, finite, one-pass
// sequence of records. Next returns io.EOF after the last record. Restart
// only by re-invoking the parser.
type RecordSource interface {
	Next() (Record, error)
}
