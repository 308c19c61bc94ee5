// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package arraywriter

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ome-zarr/zarrstream/internal/geometry"
	"github.com/ome-zarr/zarrstream/internal/sinkfactory"
	"github.com/ome-zarr/zarrstream/internal/threadpool"
	"github.com/ome-zarr/zarrstream/internal/zarrmeta"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// NewV2Writer builds a Writer for the v2 format (spec.md §4.8): one sink per
// chunk, a fresh row of sinks on every rollover (should_rollover is
// unconditionally true for v2).
func NewV2Writer(cfg Config, geom *geometry.Geometry, factory *sinkfactory.Factory, pool *threadpool.Pool, logger *slog.Logger) (*Writer, error) {
	return newWriter(cfg, geom, factory, pool, logger, v2Variant{})
}

// v2Variant holds no state of its own: v2 closes its sinks at the end of
// every row, so there is nothing to carry between flushes.
type v2Variant struct{}

func (v2Variant) metadataRelPath(level int) string {
	return fmt.Sprintf("%d/.zarray", level)
}

// dataSinkRelPaths builds "<level>/<rowIndex>/<ix>/…/<ix>" for every chunk
// in the non-append lattice, per spec.md §4.8 ("the append-dim index is the
// outermost path component after level").
func (v2Variant) dataSinkRelPaths(w *Writer, rowIndex uint32) ([]string, error) {
	extents := w.geom.ChunkLatticeExtents()
	total := 1
	for _, e := range extents {
		total *= e
	}
	paths := make([]string, total)
	for idx := 0; idx < total; idx++ {
		coords, err := w.geom.ChunkCoords(idx)
		if err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(coords)+2)
		parts = append(parts, strconv.Itoa(w.cfg.Level), strconv.Itoa(int(rowIndex)))
		for _, c := range coords {
			parts = append(parts, strconv.Itoa(c))
		}
		paths[idx] = strings.Join(parts, "/")
	}
	return paths, nil
}

func (v2Variant) writeRow(w *Writer, rowIndex uint32, compressed [][]byte) (bool, error) {
	for i, buf := range compressed {
		if !w.dataSinks[i].Write(0, buf) {
			return false, zerrors.New(zerrors.KindIoError, "chunk sink write failed at row %d chunk %d", rowIndex, i)
		}
	}
	// should_rollover is always true for v2: every completed row gets its
	// own fresh sinks (spec.md §4.8).
	return true, nil
}

func (v2Variant) closeRow(w *Writer) error {
	for _, s := range w.dataSinks {
		if err := s.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (v2Variant) writeMetadata(w *Writer) error {
	geom := w.geom
	shape := computeShape(geom, w.framesWritten)
	chunks := make([]uint32, len(geom.Dims))
	for i, d := range geom.Dims {
		chunks[i] = d.ChunkSizePx
	}
	desc := zarrmeta.NewBloscDescriptor(w.cfg.Compression, w.cfg.HasCompression)
	doc := zarrmeta.NewZArrayV2(shape, chunks, w.cfg.DataType.V2DtypeString(), desc)
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if !w.metadataSink.Write(0, data) {
		return zerrors.New(zerrors.KindIoError, "writing .zarray metadata")
	}
	return nil
}
