// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package arraywriter implements the ArrayWriter state machine shared by the
// v2 and v3 writers (spec.md §4.7): chunk-buffer lifecycle, scatter of an
// incoming frame into the resident chunk buffers, rollover policy, and the
// flush/finalize barrier. Grounded on internal/server/assembler.go's
// pendingChunks-driven eager/lazy modes (eager mirrors v2's "flush every
// completed row as its own sink", lazy mirrors v3's "accumulate a shard's
// chunks, write the index table at the end") and chunkbuffer.go's
// CAS-guarded capacity bookkeeping and scoped flush barrier.
package arraywriter

import (
	"context"
	"log/slog"

	"github.com/ome-zarr/zarrstream/internal/compressor"
	"github.com/ome-zarr/zarrstream/internal/config"
	"github.com/ome-zarr/zarrstream/internal/geometry"
	"github.com/ome-zarr/zarrstream/internal/sink"
	"github.com/ome-zarr/zarrstream/internal/sinkfactory"
	"github.com/ome-zarr/zarrstream/internal/threadpool"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// Config is the immutable per-level settings a Writer is built from
// (spec.md §3's ArrayWriterConfig), one per resolution level.
type Config struct {
	Level          int
	DataType       config.DataType
	Compression    compressor.Params
	HasCompression bool
}

// variant supplies the v2/v3-specific policy that Writer's common flush
// loop delegates to (spec.md §4.7's flush_impl): sink paths, how a
// completed row is written out, and the array metadata document.
type variant interface {
	metadataRelPath(level int) string
	dataSinkRelPaths(w *Writer, rowIndex uint32) ([]string, error)
	writeRow(w *Writer, rowIndex uint32, compressed [][]byte) (rollover bool, err error)
	closeRow(w *Writer) error
	writeMetadata(w *Writer) error
}

// Writer is the common ArrayWriter state (spec.md §4.7). NewV2Writer and
// NewV3Writer are thin constructors around it, differing only in their variant.
type Writer struct {
	cfg     Config
	geom    *geometry.Geometry
	factory *sinkfactory.Factory
	pool    *threadpool.Pool
	logger  *slog.Logger
	variant variant

	frameBytes         int
	interiorFrameCount uint64
	framesPerChunkRow  uint64

	chunkBuffers [][]byte    // ChunksInMemory() buffers, chunk-lattice order
	dataSinks    []sink.Sink // open data sinks for the row/shard-group in flight; nil between groups
	metadataSink sink.Sink

	framesWritten    uint64
	appendChunkIndex uint32
	isFinalizing     bool
	failed           bool
	failErr          error
}

func newWriter(cfg Config, geom *geometry.Geometry, factory *sinkfactory.Factory, pool *threadpool.Pool, logger *slog.Logger, v variant) (*Writer, error) {
	bytesPerSample := cfg.DataType.BytesPerSample()
	n := len(geom.Dims)
	y, x := geom.Dims[n-2], geom.Dims[n-1]
	frameBytes := int(y.ArraySizePx) * int(x.ArraySizePx) * bytesPerSample

	chunkCount := geom.ChunksInMemory()
	chunkElemBytes := geom.ChunkElementCount() * uint64(bytesPerSample)
	buffers := make([][]byte, chunkCount)
	for i := range buffers {
		buffers[i] = make([]byte, chunkElemBytes)
	}

	metaPath := v.metadataRelPath(cfg.Level)
	sinks, err := factory.MakeMetadataSinks([]string{metaPath})
	if err != nil {
		return nil, err
	}

	return &Writer{
		cfg:                cfg,
		geom:               geom,
		factory:            factory,
		pool:               pool,
		logger:             logger,
		variant:            v,
		frameBytes:         frameBytes,
		interiorFrameCount: geom.InteriorFrameCount(),
		framesPerChunkRow:  geom.FramesPerChunkRow(),
		chunkBuffers:       buffers,
		metadataSink:       sinks[metaPath],
	}, nil
}

// Write implements spec.md §4.7's write(frame): validate size, scatter into
// the resident chunk buffers, and flush when a chunk row completes.
func (w *Writer) Write(frame []byte) error {
	if w.failed {
		return w.failErr
	}
	if len(frame) != w.frameBytes {
		err := zerrors.New(zerrors.KindInvalidArgument, "frame size %d does not match expected %d bytes", len(frame), w.frameBytes)
		w.fail(err)
		return err
	}
	if err := w.scatter(frame); err != nil {
		w.fail(err)
		return err
	}
	w.framesWritten++
	if w.framesWritten%w.framesPerChunkRow == 0 {
		if err := w.flush(); err != nil {
			w.fail(err)
			return err
		}
	}
	return nil
}

// Finalize implements spec.md §4.7's finalize: flush any partial last row,
// force-close an open v3 shard group, write array metadata, close the
// metadata sink.
func (w *Writer) Finalize() error {
	w.isFinalizing = true

	if w.framesWritten%w.framesPerChunkRow != 0 {
		if err := w.flush(); err != nil {
			w.fail(err)
			return err
		}
	} else if w.dataSinks != nil {
		// The last row landed exactly on a chunk-row boundary but, for v3,
		// not necessarily a shard-slab boundary — force the close now.
		if err := w.variant.closeRow(w); err != nil {
			w.fail(err)
			return err
		}
		w.dataSinks = nil
	}

	if err := w.variant.writeMetadata(w); err != nil {
		w.fail(err)
		return err
	}
	if err := w.metadataSink.Close(); err != nil {
		w.fail(err)
		return err
	}
	return nil
}

// Failed reports whether a prior write or flush poisoned the writer
// (spec.md §4.7: "further appends fail fast").
func (w *Writer) Failed() bool { return w.failed }

func (w *Writer) fail(err error) {
	w.failed = true
	if w.failErr == nil {
		w.failErr = err
	}
}

// flush implements spec.md §4.7's flush: compress each resident chunk
// buffer, lazily (re)create the row's data sinks, dispatch the variant's
// write, reset the buffers for reuse, and close the sinks on rollover.
func (w *Writer) flush() error {
	rowIndex := w.appendChunkIndex

	compressed, err := w.compressRow()
	if err != nil {
		return err
	}

	if w.dataSinks == nil {
		relPaths, err := w.variant.dataSinkRelPaths(w, rowIndex)
		if err != nil {
			return err
		}
		sinks, err := w.factory.MakeDataSinks(relPaths)
		if err != nil {
			return err
		}
		w.dataSinks = sinks
	}

	rollover, err := w.variant.writeRow(w, rowIndex, compressed)
	if err != nil {
		return err
	}

	w.resetChunkBuffers()

	if rollover || w.isFinalizing {
		if err := w.variant.closeRow(w); err != nil {
			return err
		}
		w.dataSinks = nil
	}

	w.appendChunkIndex = rowIndex + 1
	return nil
}

// compressRow runs the configured compressor over every chunk buffer in
// parallel jobs on the thread pool (spec.md §4.7's "optionally compress each
// chunk buffer in parallel jobs"), or copies the raw bytes when compression
// is absent.
func (w *Writer) compressRow() ([][]byte, error) {
	out := make([][]byte, len(w.chunkBuffers))

	if !w.cfg.HasCompression {
		for i, buf := range w.chunkBuffers {
			cp := make([]byte, len(buf))
			copy(cp, buf)
			out[i] = cp
		}
		return out, nil
	}

	errs := make([]error, len(w.chunkBuffers))
	jobs := make([]threadpool.Job, len(w.chunkBuffers))
	for i, buf := range w.chunkBuffers {
		i, buf := i, buf
		jobs[i] = func() error {
			compressed, err := compressor.Compress(w.cfg.Compression, buf)
			if err != nil {
				errs[i] = err
				return err
			}
			out[i] = compressed
			return nil
		}
	}
	w.pool.Barrier(context.Background(), jobs)

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (w *Writer) resetChunkBuffers() {
	for _, buf := range w.chunkBuffers {
		for i := range buf {
			buf[i] = 0
		}
	}
}

// scatter implements spec.md §4.7's "scatter frame bytes into the
// appropriate rows of each in-memory chunk buffer at the correct Y,X
// offset": the frame contributes one fixed interior-dimension slice to
// chunks_along(Y) × chunks_along(X) chunks.
func (w *Writer) scatter(frame []byte) error {
	dims := w.geom.Dims
	n := len(dims)
	interior := w.geom.InteriorDims()
	y, x := dims[n-2], dims[n-1]

	framesIntoAppendPos := w.framesWritten % w.interiorFrameCount
	appendPosIndex := w.framesWritten / w.interiorFrameCount
	tLocal := int(appendPosIndex % uint64(dims[0].ChunkSizePx))

	interiorExtents := make([]int, len(interior))
	interiorChunkExtents := make([]int, len(interior))
	for i, d := range interior {
		interiorExtents[i] = int(d.ArraySizePx)
		interiorChunkExtents[i] = int(d.ChunkSizePx)
	}
	interiorAbs, err := geometry.DecomposeRowMajor(int(framesIntoAppendPos), interiorExtents)
	if err != nil {
		return err
	}

	interiorChunkCoords := make([]int, len(interior))
	interiorLocal := make([]int, len(interior))
	for i := range interior {
		interiorChunkCoords[i] = interiorAbs[i] / interiorChunkExtents[i]
		interiorLocal[i] = interiorAbs[i] % interiorChunkExtents[i]
	}
	interiorLocalFlat := geometry.RecomposeRowMajor(interiorLocal, interiorChunkExtents)

	prodInteriorChunk := 1
	for _, e := range interiorChunkExtents {
		prodInteriorChunk *= e
	}

	bytesPerSample := w.cfg.DataType.BytesPerSample()
	chunkY, chunkX := int(y.ChunkSizePx), int(x.ChunkSizePx)
	arrayY, arrayX := int(y.ArraySizePx), int(x.ArraySizePx)
	chunksAlongY := int(geometry.ChunksAlong(y))
	chunksAlongX := int(geometry.ChunksAlong(x))

	nonAppendCoords := make([]int, len(interior)+2)
	copy(nonAppendCoords, interiorChunkCoords)

	for cy := 0; cy < chunksAlongY; cy++ {
		rowsToCopy := chunkY
		if rem := arrayY - cy*chunkY; rem < rowsToCopy {
			rowsToCopy = rem
		}
		for cx := 0; cx < chunksAlongX; cx++ {
			colsToCopy := chunkX
			if rem := arrayX - cx*chunkX; rem < colsToCopy {
				colsToCopy = rem
			}

			nonAppendCoords[len(interior)] = cy
			nonAppendCoords[len(interior)+1] = cx
			chunkIdx := w.geom.ChunkLatticeIndex(nonAppendCoords)
			buf := w.chunkBuffers[chunkIdx]

			nbytes := colsToCopy * bytesPerSample
			for r := 0; r < rowsToCopy; r++ {
				absY := cy*chunkY + r
				srcOff := (absY*arrayX + cx*chunkX) * bytesPerSample
				destOff := ((tLocal*prodInteriorChunk+interiorLocalFlat)*chunkY + r) * chunkX * bytesPerSample
				copy(buf[destOff:destOff+nbytes], frame[srcOff:srcOff+nbytes])
			}
		}
	}
	return nil
}

// computeShape implements spec.md §4.8's shape[0] formula, shared by the v2
// and v3 metadata documents: the append axis collapses frames_written
// across the interior dimensions, followed by every other dimension's
// array_size_px unchanged.
func computeShape(geom *geometry.Geometry, framesWritten uint64) []uint64 {
	interiorFrameCount := geom.InteriorFrameCount()
	var shape0 uint64
	if interiorFrameCount > 0 {
		shape0 = (framesWritten + interiorFrameCount - 1) / interiorFrameCount
	}
	n := len(geom.Dims)
	shape := make([]uint64, n)
	shape[0] = shape0
	for i := 1; i < n; i++ {
		shape[i] = uint64(geom.Dims[i].ArraySizePx)
	}
	return shape
}
