// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package multiscale

import (
	"encoding/binary"
	"testing"

	"github.com/ome-zarr/zarrstream/internal/config"
	"github.com/ome-zarr/zarrstream/internal/geometry"
)

// spec.md §8 scenario 5: 240x135 frames, chunk 240x135 (a single chunk
// spans the whole array) -> level 0 as given, level 1 shape 68x120, level 2
// absent (68x120 is already below the 135x240 chunk size).
func TestPyramidDimensionsScenario5(t *testing.T) {
	base := []geometry.Dimension{
		{Name: "t", Kind: geometry.KindTime, ArraySizePx: 0, ChunkSizePx: 1},
		{Name: "c", Kind: geometry.KindChannel, ArraySizePx: 1, ChunkSizePx: 1},
		{Name: "y", Kind: geometry.KindSpace, ArraySizePx: 135, ChunkSizePx: 135},
		{Name: "x", Kind: geometry.KindSpace, ArraySizePx: 240, ChunkSizePx: 240},
	}
	levels := PyramidDimensions(base)
	if len(levels) != 2 {
		t.Fatalf("got %d levels, want 2", len(levels))
	}
	y1, x1 := levels[1][2], levels[1][3]
	if y1.ArraySizePx != 68 || x1.ArraySizePx != 120 {
		t.Fatalf("level 1 shape = (%d,%d), want (68,120)", y1.ArraySizePx, x1.ArraySizePx)
	}
	// level 1 is already below its chunk size (68<135, 120<240): no level 2.
	if meetsChunkSize(levels[1]) {
		t.Fatalf("level 1 unexpectedly meets chunk size, would generate a level 2")
	}
}

func TestDownsampleEvenDims(t *testing.T) {
	// 4x4 u8 frame, each 2x2 quadrant filled with a distinct constant value.
	frame := make([]byte, 16)
	quadVal := [2][2]byte{{10, 20}, {30, 40}}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			frame[y*4+x] = quadVal[y/2][x/2]
		}
	}
	out := Downsample(frame, 4, 4, config.DataTypeU8)
	if len(out) != 4 {
		t.Fatalf("downsampled length = %d, want 4", len(out))
	}
	want := []byte{10, 20, 30, 40}
	for i, w := range want {
		if out[i] != w {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], w)
		}
	}
}

func TestDownsampleOddDimsPadsByReplication(t *testing.T) {
	// 3x3 u8 frame of all 5s: odd dims pad by replicating the last row/col,
	// so every output pixel should still average to 5.
	frame := make([]byte, 9)
	for i := range frame {
		frame[i] = 5
	}
	out := Downsample(frame, 3, 3, config.DataTypeU8)
	if len(out) != 4 {
		t.Fatalf("downsampled length = %d, want 4 (2x2)", len(out))
	}
	for i, v := range out {
		if v != 5 {
			t.Fatalf("out[%d] = %d, want 5", i, v)
		}
	}
}

func TestAverageU16(t *testing.T) {
	a := make([]byte, 4)
	b := make([]byte, 4)
	binary.NativeEndian.PutUint16(a[0:], 100)
	binary.NativeEndian.PutUint16(a[2:], 200)
	binary.NativeEndian.PutUint16(b[0:], 300)
	binary.NativeEndian.PutUint16(b[2:], 0)
	out := Average(a, b, config.DataTypeU16)
	if got := binary.NativeEndian.Uint16(out[0:]); got != 200 {
		t.Fatalf("avg(100,300) = %d, want 200", got)
	}
	if got := binary.NativeEndian.Uint16(out[2:]); got != 100 {
		t.Fatalf("avg(200,0) = %d, want 100", got)
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1, -1, 0.5, 3.25, 65504, -65504} {
		h := float32ToFloat16(v)
		back := float16ToFloat32(h)
		if back != v {
			t.Fatalf("float16 round trip of %v = %v", v, back)
		}
	}
}

// fakeWriter records every frame it receives and whether Finalize was
// called, standing in for arraywriter.Writer in engine tests.
type fakeWriter struct {
	frames     [][]byte
	finalized  bool
	finalizeAt int
}

var finalizeSeq int

func (f *fakeWriter) Write(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeWriter) Finalize() error {
	f.finalized = true
	finalizeSeq++
	f.finalizeAt = finalizeSeq
	return nil
}

func TestEngineChainsAndAverages(t *testing.T) {
	finalizeSeq = 0
	l0 := &fakeWriter{}
	l1 := &fakeWriter{}
	engine := NewEngine([]LevelSpec{
		{Writer: l0, Height: 2, Width: 2, DataType: config.DataTypeU8},
		{Writer: l1, Height: 1, Width: 1, DataType: config.DataTypeU8},
	})

	// 4 frames at level 0, constant-valued 10,20,30,40. Downsample of a
	// uniform 2x2->1x1 frame is just that constant, so level 1 should see
	// avg(10,20)=15 then avg(30,40)=35.
	for _, v := range []byte{10, 20, 30, 40} {
		frame := []byte{v, v, v, v}
		if err := engine.Write(frame); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if len(l0.frames) != 4 {
		t.Fatalf("level0 got %d frames, want 4", len(l0.frames))
	}
	if len(l1.frames) != 2 {
		t.Fatalf("level1 got %d frames, want 2", len(l1.frames))
	}
	if l1.frames[0][0] != 15 || l1.frames[1][0] != 35 {
		t.Fatalf("level1 frames = %v, want [[15] [35]]", l1.frames)
	}

	if err := engine.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !l0.finalized || !l1.finalized {
		t.Fatal("both levels should be finalized")
	}
	if l0.finalizeAt > l1.finalizeAt {
		t.Fatal("level 0 should finalize before level 1")
	}
}

func TestEngineDropsUnpairedPendingOnFinalize(t *testing.T) {
	finalizeSeq = 0
	l0 := &fakeWriter{}
	l1 := &fakeWriter{}
	engine := NewEngine([]LevelSpec{
		{Writer: l0, Height: 2, Width: 2, DataType: config.DataTypeU8},
		{Writer: l1, Height: 1, Width: 1, DataType: config.DataTypeU8},
	})
	// An odd number of level-0 frames leaves one pending downsample unpaired.
	for _, v := range []byte{10, 20, 30} {
		frame := []byte{v, v, v, v}
		if err := engine.Write(frame); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if len(l1.frames) != 1 {
		t.Fatalf("level1 got %d frames, want 1 (floor(3/2))", len(l1.frames))
	}
	if err := engine.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(l1.frames) != 1 {
		t.Fatalf("Finalize should not flush the unpaired pending frame, got %d frames", len(l1.frames))
	}
}
