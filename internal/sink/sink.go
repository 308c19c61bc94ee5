// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sink implements the offset-addressed write contract shared by a
// local filesystem file and an S3 object (spec.md §4.2): a small abstraction
// around "a byte range goes here", with no notion of a chunk or shard above
// it. The ArrayWriter decides what to write and at which offset; a Sink only
// moves the bytes.
package sink

// Sink is the abstract write contract of spec.md §4.2. All writes to a
// single Sink occur at strictly increasing offsets; offsets are never
// revisited. Write returns false on permanent failure, which the caller
// (ArrayWriter) treats as a fatal stream error — the abstraction does not
// retry transparently except where documented by a concrete implementation
// (the S3 sink retries individual part uploads, not logical writes).
type Sink interface {
	Write(offset uint64, data []byte) bool
	// Close finalizes the sink: flushing any buffered tail, completing a
	// multipart upload if one is in progress, and releasing the underlying
	// handle. Close is idempotent only in the sense that calling it more
	// than once is a caller bug, not a supported path.
	Close() error
}
