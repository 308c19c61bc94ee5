// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package arraywriter

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/ome-zarr/zarrstream/internal/geometry"
	"github.com/ome-zarr/zarrstream/internal/sinkfactory"
	"github.com/ome-zarr/zarrstream/internal/threadpool"
	"github.com/ome-zarr/zarrstream/internal/zarrmeta"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// NewV3Writer builds a Writer for the v3 format (spec.md §4.9): one sink per
// shard, persisting across the rows that make up a shard slab, with a
// trailing chunk index table written on rollover.
func NewV3Writer(cfg Config, geom *geometry.Geometry, factory *sinkfactory.Factory, pool *threadpool.Pool, logger *slog.Logger) (*Writer, error) {
	return newWriter(cfg, geom, factory, pool, logger, newV3Variant(geom))
}

// v3Variant carries the per-shard cursor and index table state that spans
// multiple flush rows within one shard slab (spec.md §4.9's
// shard_file_offsets / shard_tables).
type v3Variant struct {
	shardFileOffsets []uint64
	shardTables      [][]uint64
}

func newV3Variant(geom *geometry.Geometry) *v3Variant {
	shards := geom.ShardsInMemory()
	tableLen := 2 * geom.ChunksPerShard()
	offsets := make([]uint64, shards)
	tables := make([][]uint64, shards)
	for i := range tables {
		tables[i] = make([]uint64, tableLen)
		resetTable(tables[i])
	}
	return &v3Variant{shardFileOffsets: offsets, shardTables: tables}
}

func resetTable(table []uint64) {
	for i := range table {
		table[i] = math.MaxUint64
	}
}

func (v *v3Variant) metadataRelPath(level int) string {
	return fmt.Sprintf("%d/zarr.json", level)
}

// dataSinkRelPaths builds "<level>/c<appendShardIdx>/<ix>…/<ix>" for every
// shard in the non-append lattice (spec.md §6).
func (v *v3Variant) dataSinkRelPaths(w *Writer, rowIndex uint32) ([]string, error) {
	geom := w.geom
	appendShardIdx := rowIndex / geom.AppendShardSizeChunks()
	extents := geom.ShardLatticeExtents()
	total := 1
	for _, e := range extents {
		total *= e
	}
	paths := make([]string, total)
	for idx := 0; idx < total; idx++ {
		coords, err := geom.ShardCoords(idx)
		if err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(coords)+2)
		parts = append(parts, strconv.Itoa(w.cfg.Level), fmt.Sprintf("c%d", appendShardIdx))
		for _, c := range coords {
			parts = append(parts, strconv.Itoa(c))
		}
		paths[idx] = strings.Join(parts, "/")
	}
	return paths, nil
}

// writeRow implements spec.md §4.9's flush algorithm: group the row's
// completed chunks by shard, append each chunk's bytes at its shard's
// current file offset, and record (offset, nbytes) at the chunk's internal
// index in that shard's table.
func (v *v3Variant) writeRow(w *Writer, rowIndex uint32, compressed [][]byte) (bool, error) {
	geom := w.geom
	appendLocal := int(rowIndex % geom.AppendShardSizeChunks())
	for chunkIdx, buf := range compressed {
		shardIdx, err := geom.ShardIndexForChunk(chunkIdx)
		if err != nil {
			return false, err
		}
		internalIdx, err := geom.ShardInternalIndex(chunkIdx, appendLocal)
		if err != nil {
			return false, err
		}

		offset := v.shardFileOffsets[shardIdx]
		if !w.dataSinks[shardIdx].Write(offset, buf) {
			return false, zerrors.New(zerrors.KindIoError, "shard sink write failed at shard %d offset %d", shardIdx, offset)
		}
		v.shardTables[shardIdx][2*internalIdx] = offset
		v.shardTables[shardIdx][2*internalIdx+1] = uint64(len(buf))
		v.shardFileOffsets[shardIdx] += uint64(len(buf))
	}

	rollover := w.isFinalizing || (rowIndex+1)%geom.AppendShardSizeChunks() == 0
	return rollover, nil
}

// closeRow implements spec.md §4.9's "append the table bytes at the current
// offset after the last chunk of the shard", then resets every shard's
// table and offset for the next slab.
func (v *v3Variant) closeRow(w *Writer) error {
	for i, s := range w.dataSinks {
		table := v.shardTables[i]
		tableBytes := make([]byte, len(table)*8)
		for j, val := range table {
			binary.LittleEndian.PutUint64(tableBytes[j*8:], val)
		}
		if !s.Write(v.shardFileOffsets[i], tableBytes) {
			return zerrors.New(zerrors.KindIoError, "writing shard index table for shard %d", i)
		}
		if err := s.Close(); err != nil {
			return err
		}
		resetTable(table)
		v.shardFileOffsets[i] = 0
	}
	return nil
}

func (v *v3Variant) writeMetadata(w *Writer) error {
	geom := w.geom
	shape := computeShape(geom, w.framesWritten)
	chunkShape := make([]uint32, len(geom.Dims))
	for i, d := range geom.Dims {
		chunkShape[i] = d.ChunkSizePx
	}
	desc := zarrmeta.NewBloscDescriptor(w.cfg.Compression, w.cfg.HasCompression)
	doc := zarrmeta.NewArrayV3(shape, chunkShape, w.cfg.DataType.V3TypeName(), geom.ChunksPerShard(), desc)
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if !w.metadataSink.Write(0, data) {
		return zerrors.New(zerrors.KindIoError, "writing array zarr.json metadata")
	}
	return nil
}
