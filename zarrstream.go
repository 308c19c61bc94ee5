// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package zarrstream is the public façade over internal/streamcore: a
// streaming writer for the Zarr v2/v3 chunked array formats. Construct a
// Settings value (or load one from YAML with LoadSettings), pass it to New,
// then call Append for every incoming frame and Close exactly once when
// done.
package zarrstream

import (
	"context"

	"github.com/ome-zarr/zarrstream/internal/config"
	"github.com/ome-zarr/zarrstream/internal/streamcore"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// Settings is the full Stream configuration (spec §6's semantic fields):
// store root, data type, geometry, compression, multiscale, and the ambient
// thread pool/logging knobs.
type Settings = config.Settings

// S3Settings targets the sink layer at an S3-compatible object store.
type S3Settings = config.S3Settings

// CompressionSettings selects the per-chunk Blosc-family codec.
type CompressionSettings = config.CompressionSettings

// DimensionSettings is the YAML/code-facing form of one array dimension.
type DimensionSettings = config.DimensionSettings

// ThreadPoolSettings sizes the shared worker pool.
type ThreadPoolSettings = config.ThreadPoolSettings

// LoggingSettings controls the structured logger.
type LoggingSettings = config.LoggingSettings

// Version selects the Zarr format version written to the store.
type Version = config.Version

// The two supported Zarr format versions.
const (
	VersionV2 = config.VersionV2
	VersionV3 = config.VersionV3
)

// DataType enumerates the sample types a Stream can write.
type DataType = config.DataType

// The eleven sample types recognized by spec §6.
const (
	DataTypeU8  = config.DataTypeU8
	DataTypeU16 = config.DataTypeU16
	DataTypeU32 = config.DataTypeU32
	DataTypeU64 = config.DataTypeU64
	DataTypeI8  = config.DataTypeI8
	DataTypeI16 = config.DataTypeI16
	DataTypeI32 = config.DataTypeI32
	DataTypeI64 = config.DataTypeI64
	DataTypeF16 = config.DataTypeF16
	DataTypeF32 = config.DataTypeF32
	DataTypeF64 = config.DataTypeF64
)

// LoadSettings reads and validates a YAML settings file.
func LoadSettings(path string) (*Settings, error) {
	return config.LoadStreamSettings(path)
}

// Kind classifies the failure mode of a Stream operation.
type Kind = zerrors.Kind

// Error is the concrete error type returned across the write path: a Kind,
// a message, and an optionally wrapped cause.
type Error = zerrors.Error

// Kind values, mirrored from internal/zerrors for public use with errors.Is.
const (
	KindInvalidArgument   = zerrors.KindInvalidArgument
	KindInvalidIndex      = zerrors.KindInvalidIndex
	KindOverflow          = zerrors.KindOverflow
	KindNotYetImplemented = zerrors.KindNotYetImplemented
	KindInternalError     = zerrors.KindInternalError
	KindOutOfMemory       = zerrors.KindOutOfMemory
	KindIoError           = zerrors.KindIoError
	KindCompressionError  = zerrors.KindCompressionError
	KindInvalidSettings   = zerrors.KindInvalidSettings
)

// Kind sentinels, usable as the target of errors.Is(err, zarrstream.IoError).
var (
	InvalidArgument   = zerrors.InvalidArgument
	InvalidIndex      = zerrors.InvalidIndex
	Overflow          = zerrors.Overflow
	NotYetImplemented = zerrors.NotYetImplemented
	InternalError     = zerrors.InternalError
	OutOfMemory       = zerrors.OutOfMemory
	IoError           = zerrors.IoError
	CompressionError  = zerrors.CompressionError
	InvalidSettings   = zerrors.InvalidSettings
)

// KindOf extracts the Kind of err, if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	return zerrors.KindOf(err)
}

// Stream is a single dataset's write session: construct once with New, feed
// it frames with Append, and call Close exactly once when the acquisition
// finishes.
type Stream = streamcore.Stream

// New validates settings and constructs a Stream: the ThreadPool,
// SinkFactory, one ArrayWriter per pyramid level, and the root group
// metadata document. Settings are validated synchronously with no side
// effects; a rejected Settings value never creates a directory or object.
func New(ctx context.Context, settings *Settings) (*Stream, error) {
	return streamcore.New(ctx, settings)
}
