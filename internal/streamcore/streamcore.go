// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package streamcore implements Stream (spec.md §4.11): settings validation,
// ThreadPool/SinkFactory construction, one ArrayWriter per pyramid level,
// frame routing through the multiscale engine, root group metadata, and
// finalize-in-order-on-close. Grounded on internal/agent/daemon.go's
// construct-components/run/shutdown-in-order lifecycle and
// internal/server/server.go's pattern of owning shared pool handles and
// finalizing its children on shutdown.
package streamcore

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ome-zarr/zarrstream/internal/arraywriter"
	"github.com/ome-zarr/zarrstream/internal/config"
	"github.com/ome-zarr/zarrstream/internal/geometry"
	"github.com/ome-zarr/zarrstream/internal/logging"
	"github.com/ome-zarr/zarrstream/internal/multiscale"
	"github.com/ome-zarr/zarrstream/internal/sinkfactory"
	"github.com/ome-zarr/zarrstream/internal/threadpool"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// levelWriter is one pyramid level's writer plus the frame shape it expects,
// shared by the single-level and multiscale code paths.
type levelWriter struct {
	writer *arraywriter.Writer
	dims   []geometry.Dimension
}

// root is the common Write/Finalize surface Stream drives: either a single
// ArrayWriter (no pyramid) or a multiscale.Engine chaining several.
type root interface {
	Write(frame []byte) error
	Finalize() error
}

// Stream is the top-level entry point: construct once per dataset, call
// Append for every incoming frame buffer, Close exactly once when done.
type Stream struct {
	settings *config.Settings
	pool     *threadpool.Pool
	factory  *sinkfactory.Factory

	logger      *slog.Logger
	loggerClose io.Closer
	runID       uuid.UUID

	levels     []levelWriter
	root       root
	frameBytes int

	failed  bool
	failErr error
	closed  bool
}

// New validates settings, builds the logger/ThreadPool/SinkFactory,
// constructs one ArrayWriter per pyramid level, wires them through the
// multiscale engine when enabled, and writes the root group metadata. It
// runs the repeat-start guard (spec.md §12) before creating any sinks.
func New(ctx context.Context, settings *config.Settings) (*Stream, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New()
	logger, loggerClose := logging.NewRunLogger(settings.Logging.Level, settings.Logging.Format, settings.Logging.FilePath, runID.String())

	pool := threadpool.New(settings.ThreadPool.Workers, 256, func(err error) {
		logger.Error("thread pool job failed", "error", err)
	}, logger)

	factory, err := sinkfactory.New(ctx, settings, pool, logger)
	if err != nil {
		pool.AwaitStop()
		loggerClose.Close()
		return nil, err
	}

	if err := guardAgainstReopen(factory, settings); err != nil {
		pool.AwaitStop()
		loggerClose.Close()
		return nil, err
	}

	baseGeom, err := settings.Geometry()
	if err != nil {
		pool.AwaitStop()
		loggerClose.Close()
		return nil, err
	}

	levelDims := [][]geometry.Dimension{baseGeom.Dims}
	if settings.Multiscale {
		levelDims = multiscale.PyramidDimensions(baseGeom.Dims)
	}

	compressionParams, hasCompression := settings.CompressionParams()

	levels := make([]levelWriter, len(levelDims))
	for i, dims := range levelDims {
		geom, err := geometry.New(dims, settings.Version == config.VersionV3)
		if err != nil {
			pool.AwaitStop()
			loggerClose.Close()
			return nil, err
		}
		cfg := arraywriter.Config{
			Level:          i,
			DataType:       settings.DataType,
			Compression:    compressionParams,
			HasCompression: hasCompression,
		}

		var w *arraywriter.Writer
		if settings.Version == config.VersionV3 {
			w, err = arraywriter.NewV3Writer(cfg, geom, factory, pool, logger)
		} else {
			w, err = arraywriter.NewV2Writer(cfg, geom, factory, pool, logger)
		}
		if err != nil {
			pool.AwaitStop()
			loggerClose.Close()
			return nil, err
		}
		levels[i] = levelWriter{writer: w, dims: dims}
	}

	var r root
	if len(levels) == 1 {
		r = levels[0].writer
	} else {
		specs := make([]multiscale.LevelSpec, len(levels))
		for i, lv := range levels {
			n := len(lv.dims)
			specs[i] = multiscale.LevelSpec{
				Writer:   lv.writer,
				Height:   int(lv.dims[n-2].ArraySizePx),
				Width:    int(lv.dims[n-1].ArraySizePx),
				DataType: settings.DataType,
			}
		}
		r = multiscale.NewEngine(specs)
	}

	if err := writeRootGroupMetadata(factory, settings, baseGeom.Dims, len(levels)); err != nil {
		pool.AwaitStop()
		loggerClose.Close()
		return nil, err
	}

	n := len(baseGeom.Dims)
	y, x := baseGeom.Dims[n-2], baseGeom.Dims[n-1]
	frameBytes := int(y.ArraySizePx) * int(x.ArraySizePx) * settings.DataType.BytesPerSample()

	return &Stream{
		settings:    settings,
		pool:        pool,
		factory:     factory,
		logger:      logger,
		loggerClose: loggerClose,
		runID:       runID,
		levels:      levels,
		root:        r,
		frameBytes:  frameBytes,
	}, nil
}

// Append iterates frame-sized slices of buffer, writing each to the level-0
// writer (spec.md §4.11). It returns the number of bytes consumed; a short
// write (less than len(buffer)) indicates the stream failed and no further
// appends will succeed. A buffer whose length is not a whole multiple of
// the frame size is itself an InvalidArgument error.
func (s *Stream) Append(buffer []byte) (int, error) {
	if s.failed {
		return 0, s.failErr
	}
	if s.closed {
		return 0, zerrors.New(zerrors.KindInvalidArgument, "Append called after Close")
	}
	if len(buffer)%s.frameBytes != 0 {
		return 0, zerrors.New(zerrors.KindInvalidArgument, "buffer length %d is not a multiple of the frame size %d", len(buffer), s.frameBytes)
	}

	consumed := 0
	for off := 0; off < len(buffer); off += s.frameBytes {
		frame := buffer[off : off+s.frameBytes]
		if err := s.root.Write(frame); err != nil {
			s.failed = true
			s.failErr = err
			return consumed, err
		}
		consumed += s.frameBytes
	}
	return consumed, nil
}

// Close finalizes every level's writer in order and stops the thread pool.
// It runs even if the stream already failed (spec.md §7: "the finalize step
// still runs to write whatever metadata is available").
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.root.Finalize()
	s.pool.AwaitStop()
	s.loggerClose.Close()
	if err != nil {
		s.failed = true
		if s.failErr == nil {
			s.failErr = err
		}
		return err
	}
	return nil
}

// Failed reports whether a prior Append or Close recorded a fatal error.
func (s *Stream) Failed() bool { return s.failed }
