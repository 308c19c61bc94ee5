// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package multiscale

import (
	"github.com/ome-zarr/zarrstream/internal/config"
)

// writer is the subset of arraywriter.Writer the pyramid engine needs;
// kept as a local interface so tests can drive the chain with a fake.
type writer interface {
	Write(frame []byte) error
	Finalize() error
}

// LevelSpec binds one pyramid level's writer to the frame shape it expects.
type LevelSpec struct {
	Writer   writer
	Height   int
	Width    int
	DataType config.DataType
}

// stage is one level's running state: the writer it feeds and the single
// downsampled frame awaiting its pairwise-average partner (spec.md §4.10:
// "each level holds at most one pending downsampled frame").
type stage struct {
	writer   writer
	height   int
	width    int
	dataType config.DataType
	pending  []byte
}

// Engine chains pyramid levels: a frame written to level k is downsampled
// and, once two downsamples have accumulated, averaged into the frame fed
// to level k+1 (spec.md §4.10). Construction runs strictly in series from
// the caller's point of view, as the spec requires.
type Engine struct {
	stages []*stage
}

// NewEngine builds a pyramid engine over levels, ordered level 0 first. A
// single-level (non-multiscale) stream should just call the level-0 writer
// directly rather than go through Engine.
func NewEngine(levels []LevelSpec) *Engine {
	stages := make([]*stage, len(levels))
	for i, l := range levels {
		stages[i] = &stage{writer: l.Writer, height: l.Height, width: l.Width, dataType: l.DataType}
	}
	return &Engine{stages: stages}
}

// Write feeds frame to level 0, then recursively downsamples and pairwise
// averages into each subsequent level, stopping as soon as a level's
// pending slot absorbs a downsample with no partner yet to average against.
func (e *Engine) Write(frame []byte) error {
	cur := frame
	for i, s := range e.stages {
		if err := s.writer.Write(cur); err != nil {
			return err
		}
		if i+1 >= len(e.stages) {
			return nil
		}

		down := Downsample(cur, s.height, s.width, s.dataType)
		if s.pending == nil {
			s.pending = down
			return nil
		}
		cur = Average(s.pending, down, s.dataType)
		s.pending = nil
	}
	return nil
}

// Finalize finalizes every level's writer in order (spec.md §4.11: "on
// destruction finalize every writer in order"). A level's unpaired pending
// downsample, if any, is simply dropped — it never became a whole frame for
// the next level, matching spec.md §8's "level k writes exactly
// floor(frames_at_level_0 / 2^k) frames".
func (e *Engine) Finalize() error {
	for _, s := range e.stages {
		if err := s.writer.Finalize(); err != nil {
			return err
		}
	}
	return nil
}
