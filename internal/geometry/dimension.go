// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package geometry implements the pure dimension/chunk/shard math that turns
// a frame stream into chunk and shard indices: Dimension validation,
// chunks-along/shards-along arithmetic, and the row-major lattice/shard
// index decompositions used by the v2 and v3 array writers.
package geometry

import (
	"strings"

	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// Kind labels the semantic role of a Dimension; it has no effect on chunk
// math and only drives OME metadata (axis type, unit).
type Kind string

const (
	KindSpace   Kind = "space"
	KindTime    Kind = "time"
	KindChannel Kind = "channel"
	KindOther   Kind = "other"
)

func (k Kind) valid() bool {
	switch k {
	case KindSpace, KindTime, KindChannel, KindOther:
		return true
	default:
		return false
	}
}

// Dimension describes one axis of the logical array.
type Dimension struct {
	Name            string
	Kind            Kind
	ArraySizePx     uint32 // 0 on dimension 0 only: "grows indefinitely"
	ChunkSizePx     uint32
	ShardSizeChunks uint32 // v3 only; must be > 0 when Version == 3
}

// MinDimensions and MaxDimensions bound the dimension list length.
const (
	MinDimensions = 3
	MaxDimensions = 32
)

// Validate checks the invariants from spec.md §3 for a single Dimension at
// position idx in a list of length n. requireShard is true for v3 streams.
func (d Dimension) Validate(idx, n int, requireShard bool) error {
	if strings.TrimSpace(d.Name) == "" {
		return zerrors.New(zerrors.KindInvalidSettings, "dimensions[%d].name must be non-empty", idx)
	}
	if !d.Kind.valid() {
		return zerrors.New(zerrors.KindInvalidSettings, "dimensions[%d].kind %q is not one of space/time/channel/other", idx, d.Kind)
	}
	if d.ChunkSizePx == 0 {
		return zerrors.New(zerrors.KindInvalidSettings, "dimensions[%d].chunk_size_px must be > 0", idx)
	}
	if idx == 0 {
		if d.ArraySizePx != 0 {
			return zerrors.New(zerrors.KindInvalidSettings, "dimensions[0] (append axis) must have array_size_px == 0, got %d", d.ArraySizePx)
		}
	} else if d.ArraySizePx == 0 {
		return zerrors.New(zerrors.KindInvalidSettings, "dimensions[%d].array_size_px must be > 0", idx)
	}
	if requireShard && d.ShardSizeChunks == 0 {
		return zerrors.New(zerrors.KindInvalidSettings, "dimensions[%d].shard_size_chunks must be > 0 for zarr v3", idx)
	}
	if idx >= n-2 && d.Kind != KindSpace {
		return zerrors.New(zerrors.KindInvalidSettings, "dimensions[%d] is one of the final two (spatial Y/X) dimensions and must have kind=space, got %q", idx, d.Kind)
	}
	return nil
}

// ValidateList checks the whole-list invariants: length bounds and the
// per-dimension rules above. frameHeight/frameWidth, when non-zero, are
// checked against the final two dimensions' array_size_px (0 skips the
// check, used when validating settings before the first frame is known).
func ValidateList(dims []Dimension, requireShard bool, frameHeight, frameWidth uint32) error {
	n := len(dims)
	if n < MinDimensions || n > MaxDimensions {
		return zerrors.New(zerrors.KindInvalidSettings, "dimensions must have between %d and %d entries, got %d", MinDimensions, MaxDimensions, n)
	}
	for i, d := range dims {
		if err := d.Validate(i, n, requireShard); err != nil {
			return err
		}
	}
	y, x := dims[n-2], dims[n-1]
	if frameHeight != 0 && y.ArraySizePx != frameHeight {
		return zerrors.New(zerrors.KindInvalidArgument, "frame height %d does not match dimensions[%d] (Y) array_size_px %d", frameHeight, n-2, y.ArraySizePx)
	}
	if frameWidth != 0 && x.ArraySizePx != frameWidth {
		return zerrors.New(zerrors.KindInvalidArgument, "frame width %d does not match dimensions[%d] (X) array_size_px %d", frameWidth, n-1, x.ArraySizePx)
	}
	return nil
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ChunksAlong is ceil(array_size_px / chunk_size_px), 0 for the append
// dimension (array_size_px == 0 by construction).
func ChunksAlong(d Dimension) uint32 {
	return ceilDiv(d.ArraySizePx, d.ChunkSizePx)
}

// ShardsAlong is ceil(chunks_along(d) / shard_size_chunks), 0 if
// shard_size_chunks is 0 (v2 streams never call this).
func ShardsAlong(d Dimension) uint32 {
	if d.ShardSizeChunks == 0 {
		return 0
	}
	return ceilDiv(ChunksAlong(d), d.ShardSizeChunks)
}
