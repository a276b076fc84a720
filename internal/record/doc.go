// Package record defines the data model flowing through the conversion and
// correction pipeline: ping records, attitude samples, navigation samples,
// sound velocity profiles, and the system dataset metadata that groups them.
//
// All timestamps are Unix microseconds (int64). Angles are degrees at the
// record boundary; the pipeline converts to radians internally. Depths and
// offsets are meters, positive down for depth.
//
// Records are immutable once ingested. Corrected fields are derived variables
// written back into the store keyed by the same (time, beam) coordinates,
// never mutations of the raw records.
package record
