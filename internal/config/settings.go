// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config implements the Stream's settings: validation and defaults
// in the style of the teacher's internal/config (agent.go/server.go)
// validate()-and-fill-defaults pattern, plus an optional YAML loader for
// callers that want to express settings as a file rather than construct
// them in code.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ome-zarr/zarrstream/internal/compressor"
	"github.com/ome-zarr/zarrstream/internal/geometry"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// Version selects the Zarr format version (spec.md §6).
type Version int

const (
	VersionV2 Version = 2
	VersionV3 Version = 3
)

// S3Settings targets the sink layer at an S3-compatible object store
// (spec.md §6).
type S3Settings struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// ConnectionPoolSize bounds the number of concurrently borrowed S3
	// client handles (spec.md §4.3). 0 defaults to the thread pool size.
	ConnectionPoolSize int `yaml:"connection_pool_size"`
}

// CompressionSettings mirrors compressor.Params but keeps the wire-facing
// string field names from spec.md §6 and parses the level/shuffle enum.
type CompressionSettings struct {
	Codec   string `yaml:"codec"`
	Level   int    `yaml:"level"`
	Shuffle string `yaml:"shuffle"`
}

// DimensionSettings is the YAML/code-facing form of a geometry.Dimension.
type DimensionSettings struct {
	Name            string `yaml:"name"`
	Kind            string `yaml:"kind"`
	ArraySizePx     uint32 `yaml:"array_size_px"`
	ChunkSizePx     uint32 `yaml:"chunk_size_px"`
	ShardSizeChunks uint32 `yaml:"shard_size_chunks"`
}

func (d DimensionSettings) toGeometry() geometry.Dimension {
	return geometry.Dimension{
		Name:            d.Name,
		Kind:            geometry.Kind(d.Kind),
		ArraySizePx:     d.ArraySizePx,
		ChunkSizePx:     d.ChunkSizePx,
		ShardSizeChunks: d.ShardSizeChunks,
	}
}

// ThreadPoolSettings sizes the shared worker pool (ambient; not in spec.md's
// external-interfaces table but needed to construct a Stream).
type ThreadPoolSettings struct {
	// Workers is the requested worker count; 0 means
	// min(hardware concurrency, unset) i.e. hardware concurrency.
	Workers int `yaml:"workers"`
}

// LoggingSettings controls the structured logger (ambient).
type LoggingSettings struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// Settings is the full Stream configuration (spec.md §6's semantic fields).
type Settings struct {
	StorePath      string               `yaml:"store_path"`
	S3             *S3Settings          `yaml:"s3"`
	CustomMetadata json.RawMessage      `yaml:"custom_metadata"`
	DataType       DataType             `yaml:"data_type"`
	Compression    *CompressionSettings `yaml:"compression"`
	Dimensions     []DimensionSettings  `yaml:"dimensions"`
	Multiscale     bool                 `yaml:"multiscale"`
	Version        Version              `yaml:"version"`

	ThreadPool ThreadPoolSettings `yaml:"thread_pool"`
	Logging    LoggingSettings    `yaml:"logging"`
}

// LoadStreamSettings reads and validates a YAML settings file, matching the
// teacher's LoadAgentConfig/LoadServerConfig shape.
func LoadStreamSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.KindInvalidSettings, err, "reading stream settings %q", path)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, zerrors.Wrap(zerrors.KindInvalidSettings, err, "parsing stream settings %q", path)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate fills defaults and checks every invariant from spec.md §3/§6.
// Settings validation errors are returned synchronously with no side
// effects (spec.md §7).
func (s *Settings) Validate() error {
	s.StorePath = strings.TrimPrefix(s.StorePath, "file://")
	if s.StorePath == "" {
		return zerrors.New(zerrors.KindInvalidSettings, "store_path is required")
	}

	if s.S3 != nil {
		if s.S3.Endpoint == "" || s.S3.Bucket == "" {
			return zerrors.New(zerrors.KindInvalidSettings, "s3.endpoint and s3.bucket are required when s3 is set")
		}
	}

	if err := s.DataType.Validate(); err != nil {
		return err
	}

	switch s.Version {
	case VersionV2, VersionV3:
	default:
		return zerrors.New(zerrors.KindInvalidSettings, "version must be 2 or 3, got %d", s.Version)
	}
	requireShard := s.Version == VersionV3

	dims := make([]geometry.Dimension, len(s.Dimensions))
	for i, d := range s.Dimensions {
		dims[i] = d.toGeometry()
	}
	if err := geometry.ValidateList(dims, requireShard, 0, 0); err != nil {
		return err
	}

	if s.Multiscale {
		n := len(dims)
		for i := 1; i < n-2; i++ {
			if dims[i].ArraySizePx != 1 {
				return zerrors.New(zerrors.KindNotYetImplemented,
					"multiscale requires all interior (non-spatial) dimensions to have array_size_px == 1, dimensions[%d] has %d", i, dims[i].ArraySizePx)
			}
		}
	}

	if s.Compression != nil {
		level, err := normalizeLevel(s.Compression.Level)
		if err != nil {
			return err
		}
		params := compressor.Params{
			Codec:       compressor.Codec(s.Compression.Codec),
			Level:       level,
			Shuffle:     compressor.Shuffle(s.Compression.Shuffle),
			ElementSize: s.DataType.BytesPerSample(),
		}
		if err := params.Validate(); err != nil {
			return err
		}
	}

	if len(s.CustomMetadata) == 0 {
		s.CustomMetadata = json.RawMessage("{}")
	} else if !json.Valid(s.CustomMetadata) {
		return zerrors.New(zerrors.KindInvalidSettings, "custom_metadata is not valid JSON")
	}

	if s.ThreadPool.Workers < 0 {
		return zerrors.New(zerrors.KindInvalidSettings, "thread_pool.workers must be >= 0, got %d", s.ThreadPool.Workers)
	}
	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
	if s.Logging.Format == "" {
		s.Logging.Format = "json"
	}

	return nil
}

// Geometry converts Dimensions to the geometry package's validated form.
func (s *Settings) Geometry() (*geometry.Geometry, error) {
	dims := make([]geometry.Dimension, len(s.Dimensions))
	for i, d := range s.Dimensions {
		dims[i] = d.toGeometry()
	}
	return geometry.New(dims, s.Version == VersionV3)
}

// CompressionParams converts Compression to compressor.Params, or returns
// (Params{}, false) when compression is absent (spec.md: "Absent ⇒ raw").
func (s *Settings) CompressionParams() (compressor.Params, bool) {
	if s.Compression == nil {
		return compressor.Params{}, false
	}
	level, _ := normalizeLevel(s.Compression.Level)
	return compressor.Params{
		Codec:       compressor.Codec(s.Compression.Codec),
		Level:       level,
		Shuffle:     compressor.Shuffle(s.Compression.Shuffle),
		ElementSize: s.DataType.BytesPerSample(),
	}, true
}

func normalizeLevel(level int) (int, error) {
	if level < 0 || level > 9 {
		return 0, zerrors.New(zerrors.KindInvalidSettings, "compression.level must be in [0,9], got %d", level)
	}
	return level, nil
}

// ParseByteSize converts human-readable strings like "256mb", "1gb" to
// bytes. Kept near-verbatim from the teacher's config.ParseByteSize: this is
// pure ambient plumbing with no backup-specific semantics.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	// Ordered longest-suffix-first so "mb" isn't matched as "b".
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
