// Package store implements the chunked, time-indexed, on-disk container for
// survey time series: raw ping records, attitude and navigation samples, and
// the derived variables the correction pipeline writes back.
//
// On-disk layout, one store per system dataset:
//
//	<root>/schema.yaml                     variable declarations + metadata
//	<root>/manifest.yaml                   chunk index + processing state
//	<root>/pings/chunk_000042.parquet      raw ping beam rows
//	<root>/attitude/chunk_000007.parquet   attitude samples
//	<root>/navigation/chunk_000003.parquet navigation samples
//	<root>/<variable>/chunk_000042.parquet derived per-beam variables
//
// The chunk is the unit of I/O and of parallel work: a contiguous slice of
// an axis' time range holding at most ChunkSize entries. Ping chunk
// boundaries never split a single ping's beams.
//
// Every mutation is durable before the call returns. Chunk writes go through
// a temp file followed by rename, so a crash mid-write leaves the previous
// chunk contents intact. Writes are idempotent: rewriting a chunk with the
// same values produces the same file contents.
package store
