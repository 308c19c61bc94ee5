// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package geometry

import (
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// Geometry is the validated, immutable dimension list for one array and the
// derived lattice math over it. Index 0 is always the append axis and is
// excluded from the "non-append cross-section" used by chunks-in-memory and
// the shard lattice.
type Geometry struct {
	Dims []Dimension
}

// New validates dims and returns a Geometry. requireShard is true for v3.
func New(dims []Dimension, requireShard bool) (*Geometry, error) {
	if err := ValidateList(dims, requireShard, 0, 0); err != nil {
		return nil, err
	}
	cp := make([]Dimension, len(dims))
	copy(cp, dims)
	return &Geometry{Dims: cp}, nil
}

// nonAppend returns the dimension slice excluding index 0.
func (g *Geometry) nonAppend() []Dimension { return g.Dims[1:] }

// ChunkElementCount returns the element count of one chunk buffer (all
// dimensions including the append axis, whose chunk_size_px contributes one
// factor — a chunk always spans chunk_size_px[0] append-axis positions).
func (g *Geometry) ChunkElementCount() uint64 {
	var total uint64 = 1
	for _, d := range g.Dims {
		total *= uint64(d.ChunkSizePx)
	}
	return total
}

// FramesPerChunk is chunk_size_px of the append dimension: the number of
// append-axis positions one chunk spans. It equals the number of incoming
// frames per chunk-row only when every interior dimension has size 1 (see
// FramesPerChunkRow).
func (g *Geometry) FramesPerChunk() uint32 {
	return g.Dims[0].ChunkSizePx
}

// InteriorDims returns the dimensions strictly between the append axis
// (index 0) and the two trailing spatial axes (Y, X) — the axes a single
// incoming frame sits at one fixed coordinate along (e.g. channel, z).
func (g *Geometry) InteriorDims() []Dimension {
	n := len(g.Dims)
	return g.Dims[1 : n-2]
}

// InteriorFrameCount is product(array_size_px) over the interior
// dimensions: how many distinct incoming frames share one append-axis
// position before the append axis itself advances (spec.md §4.7/§4.8's
// "product(interior array sizes)").
func (g *Geometry) InteriorFrameCount() uint64 {
	var total uint64 = 1
	for _, d := range g.InteriorDims() {
		total *= uint64(d.ArraySizePx)
	}
	return total
}

// FramesPerChunkRow is the number of raw incoming frames that fill one
// append-axis chunk: chunk_size_px[append] × product(interior array
// sizes). Used for the write/flush rollover check (spec.md §4.7); the
// shape[0] computation divides by InteriorFrameCount instead. Distinct from
// FramesPerChunk, which
// is the append dimension's chunk_size_px alone.
func (g *Geometry) FramesPerChunkRow() uint64 {
	return uint64(g.Dims[0].ChunkSizePx) * g.InteriorFrameCount()
}

// FramesPerShardRow is the number of raw incoming frames that fill one
// append-axis shard: chunk_size_px[append] × shard_size_chunks[append] ×
// product(interior array sizes) — spec.md §4.9's should_rollover formula.
func (g *Geometry) FramesPerShardRow() uint64 {
	return uint64(g.Dims[0].ChunkSizePx) * uint64(g.Dims[0].ShardSizeChunks) * g.InteriorFrameCount()
}

// ChunksInMemory is product(chunks_along(d)) over non-append dimensions: the
// number of chunk buffers kept resident and reused across append positions.
func (g *Geometry) ChunksInMemory() int {
	total := 1
	for _, d := range g.nonAppend() {
		total *= int(ChunksAlong(d))
	}
	return total
}

// ChunksPerShard is shard_size_chunks(append) * product(shard_size_chunks(d))
// over non-append dimensions: the fixed length of one shard's chunk set. A
// shard spans shard_size_chunks(append) distinct append-axis chunk rows, so
// each one needs its own slot in the shard's index table, not just the
// non-append cross-section.
func (g *Geometry) ChunksPerShard() int {
	total := int(g.AppendShardSizeChunks())
	if total == 0 {
		return 0
	}
	for _, d := range g.nonAppend() {
		if d.ShardSizeChunks == 0 {
			return 0
		}
		total *= int(d.ShardSizeChunks)
	}
	return total
}

// ShardsInMemory is product(shards_along(d)) over non-append dimensions: the
// number of distinct shard files/objects per append-axis shard slab.
func (g *Geometry) ShardsInMemory() int {
	total := 1
	for _, d := range g.nonAppend() {
		total *= int(ShardsAlong(d))
	}
	return total
}

// AppendShardSizeChunks is shard_size_chunks of the append dimension: how
// many append-axis chunk-rows compose one shard slab before rollover.
func (g *Geometry) AppendShardSizeChunks() uint32 {
	return g.Dims[0].ShardSizeChunks
}

// decompose turns a flat row-major index over dims (slowest-to-fastest)
// into per-dimension coordinates, using extents as the size of each axis.
func decompose(flat int, extents []int) ([]int, error) {
	coords := make([]int, len(extents))
	rem := flat
	for i := len(extents) - 1; i >= 0; i-- {
		e := extents[i]
		if e <= 0 {
			return nil, zerrors.New(zerrors.KindInternalError, "decompose: zero-extent axis %d", i)
		}
		coords[i] = rem % e
		rem /= e
	}
	if rem != 0 {
		return nil, zerrors.New(zerrors.KindInvalidIndex, "flat index %d out of range for extents %v", flat, extents)
	}
	return coords, nil
}

// recompose is the inverse of decompose: packs per-dimension coordinates
// back into a flat row-major index given the same extents.
func recompose(coords []int, extents []int) int {
	flat := 0
	for i, c := range coords {
		flat = flat*extents[i] + c
	}
	return flat
}

// DecomposeRowMajor and RecomposeRowMajor are the exported forms of
// decompose/recompose, reused by internal/arraywriter to turn a frame's
// position in the incoming stream into interior-dimension coordinates.
func DecomposeRowMajor(flat int, extents []int) ([]int, error) { return decompose(flat, extents) }
func RecomposeRowMajor(coords []int, extents []int) int        { return recompose(coords, extents) }

// ChunkLatticeExtents returns chunks_along(d) for every non-append
// dimension, slowest-to-fastest — the extents used to decompose a flat chunk
// lattice index.
func (g *Geometry) ChunkLatticeExtents() []int {
	nonAppend := g.nonAppend()
	extents := make([]int, len(nonAppend))
	for i, d := range nonAppend {
		extents[i] = int(ChunksAlong(d))
	}
	return extents
}

// ChunkCoords decomposes a flat chunk lattice index into per-(non-append)
// dimension chunk coordinates, row-major slowest-to-fastest.
func (g *Geometry) ChunkCoords(chunkIdx int) ([]int, error) {
	return decompose(chunkIdx, g.ChunkLatticeExtents())
}

// ShardIndexForChunk implements spec.md §4.5: decompose chunkIdx into
// per-dimension chunk coordinates, divide each by shard_size_chunks, and
// reassemble row-major over the shard lattice.
func (g *Geometry) ShardIndexForChunk(chunkIdx int) (int, error) {
	coords, err := g.ChunkCoords(chunkIdx)
	if err != nil {
		return 0, err
	}
	nonAppend := g.nonAppend()
	shardExtents := make([]int, len(nonAppend))
	shardCoords := make([]int, len(nonAppend))
	for i, d := range nonAppend {
		if d.ShardSizeChunks == 0 {
			return 0, zerrors.New(zerrors.KindInternalError, "ShardIndexForChunk: dimension %d has no shard_size_chunks", i+1)
		}
		shardExtents[i] = int(ShardsAlong(d))
		shardCoords[i] = coords[i] / int(d.ShardSizeChunks)
	}
	return recompose(shardCoords, shardExtents), nil
}

// ShardInternalIndex implements spec.md §4.5: same decomposition as
// ShardIndexForChunk, but takes coord mod shard_size_chunks and reassembles
// row-major over shard_size_chunks — the chunk's position within its shard.
// appendLocal is the append-axis chunk row's position within its own
// append-shard group (rowIndex % AppendShardSizeChunks()); it is folded in
// as the slowest-varying coordinate, since a shard groups
// shard_size_chunks(append) distinct append-axis rows as well as the
// non-append cross-section.
func (g *Geometry) ShardInternalIndex(chunkIdx int, appendLocal int) (int, error) {
	coords, err := g.ChunkCoords(chunkIdx)
	if err != nil {
		return 0, err
	}
	nonAppend := g.nonAppend()
	internalExtents := make([]int, len(nonAppend)+1)
	internalCoords := make([]int, len(nonAppend)+1)
	internalExtents[0] = int(g.AppendShardSizeChunks())
	internalCoords[0] = appendLocal
	for i, d := range nonAppend {
		if d.ShardSizeChunks == 0 {
			return 0, zerrors.New(zerrors.KindInternalError, "ShardInternalIndex: dimension %d has no shard_size_chunks", i+1)
		}
		internalExtents[i+1] = int(d.ShardSizeChunks)
		internalCoords[i+1] = coords[i] % int(d.ShardSizeChunks)
	}
	return recompose(internalCoords, internalExtents), nil
}

// ShardLatticeExtents returns shards_along(d) for every non-append
// dimension, slowest-to-fastest — the extents used to decompose a flat
// shard lattice index into the path components of a shard sink.
func (g *Geometry) ShardLatticeExtents() []int {
	nonAppend := g.nonAppend()
	extents := make([]int, len(nonAppend))
	for i, d := range nonAppend {
		extents[i] = int(ShardsAlong(d))
	}
	return extents
}

// ShardCoords decomposes a flat shard lattice index (as returned by
// ShardIndexForChunk) into per-(non-append) dimension shard coordinates,
// row-major slowest-to-fastest — used to build a v3 shard sink's path.
func (g *Geometry) ShardCoords(shardIdx int) ([]int, error) {
	return decompose(shardIdx, g.ShardLatticeExtents())
}

// ChunkLatticeIndex is the inverse of ChunkCoords: it packs per-dimension
// chunk coordinates back into a flat lattice index. Used by tests to check
// that ShardIndexForChunk composed with the lattice index is idempotent.
func (g *Geometry) ChunkLatticeIndex(coords []int) int {
	return recompose(coords, g.ChunkLatticeExtents())
}
