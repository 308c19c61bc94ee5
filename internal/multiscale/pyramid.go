// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package multiscale implements the optional OME-style resolution pyramid
// (spec.md §4.10): 2x spatial downsampling with 2x2 averaging per level, and
// the pairwise-averaging frame chain that feeds each level's writer.
package multiscale

import (
	"github.com/ome-zarr/zarrstream/internal/geometry"
)

// PyramidDimensions returns the per-level Dimension lists for a multiscale
// pyramid rooted at base (spec.md §4.10): level 0 is base unchanged, and
// each subsequent level halves the trailing Y/X array_size_px (rounding up)
// while leaving every other field unchanged. Generation stops once a level's
// Y or X array_size_px is already below that level's own Y/X
// chunk_size_px — that level is still included (spec.md §8 scenario 5: a
// level smaller than its chunk is still written, as a single ragged chunk),
// but no further level is derived from it.
func PyramidDimensions(base []geometry.Dimension) [][]geometry.Dimension {
	levels := [][]geometry.Dimension{cloneDims(base)}
	cur := base
	for meetsChunkSize(cur) {
		next := downsampleDims(cur)
		levels = append(levels, next)
		cur = next
	}
	return levels
}

func cloneDims(dims []geometry.Dimension) []geometry.Dimension {
	cp := make([]geometry.Dimension, len(dims))
	copy(cp, dims)
	return cp
}

func meetsChunkSize(dims []geometry.Dimension) bool {
	n := len(dims)
	y, x := dims[n-2], dims[n-1]
	return y.ArraySizePx >= y.ChunkSizePx && x.ArraySizePx >= x.ChunkSizePx
}

func downsampleDims(dims []geometry.Dimension) []geometry.Dimension {
	next := cloneDims(dims)
	n := len(next)
	next[n-2].ArraySizePx = ceilHalf(next[n-2].ArraySizePx)
	next[n-1].ArraySizePx = ceilHalf(next[n-1].ArraySizePx)
	return next
}

func ceilHalf(v uint32) uint32 {
	return (v + 1) / 2
}
