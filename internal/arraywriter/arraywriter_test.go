// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package arraywriter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ome-zarr/zarrstream/internal/config"
	"github.com/ome-zarr/zarrstream/internal/geometry"
	"github.com/ome-zarr/zarrstream/internal/sinkfactory"
	"github.com/ome-zarr/zarrstream/internal/threadpool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func testFactory(t *testing.T, dir string) (*sinkfactory.Factory, *threadpool.Pool) {
	t.Helper()
	pool := threadpool.New(2, 4, nil, testLogger())
	t.Cleanup(pool.AwaitStop)
	settings := &config.Settings{StorePath: dir}
	f, err := sinkfactory.New(context.Background(), settings, pool, testLogger())
	if err != nil {
		t.Fatalf("sinkfactory.New: %v", err)
	}
	return f, pool
}

// v2SmallDims is a tiny append/channel/space geometry small enough to check
// scatter byte placement by hand: t chunk 2 (append), c array=1 (degenerate
// interior), y/x array 4 chunk 2 (2x2 chunks per row).
func v2SmallDims() []geometry.Dimension {
	return []geometry.Dimension{
		{Name: "t", Kind: geometry.KindTime, ArraySizePx: 0, ChunkSizePx: 2},
		{Name: "c", Kind: geometry.KindChannel, ArraySizePx: 1, ChunkSizePx: 1},
		{Name: "y", Kind: geometry.KindSpace, ArraySizePx: 4, ChunkSizePx: 2},
		{Name: "x", Kind: geometry.KindSpace, ArraySizePx: 4, ChunkSizePx: 2},
	}
}

func TestV2WriterScatterAndRollover(t *testing.T) {
	dir := t.TempDir()
	factory, pool := testFactory(t, dir)

	geom, err := geometry.New(v2SmallDims(), false)
	if err != nil {
		t.Fatalf("geometry.New: %v", err)
	}

	cfg := Config{Level: 0, DataType: config.DataTypeU8}
	w, err := NewV2Writer(cfg, geom, factory, pool, testLogger())
	if err != nil {
		t.Fatalf("NewV2Writer: %v", err)
	}

	// 5 frames: two full rows (frames 0-1, 2-3) plus one ragged row (frame 4).
	for i := 0; i < 5; i++ {
		frame := make([]byte, 16)
		for j := range frame {
			frame[j] = byte(i + 1)
		}
		if err := w.Write(frame); err != nil {
			t.Fatalf("Write(frame %d): %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if w.Failed() {
		t.Fatalf("writer failed: %v", w.failErr)
	}

	// Row 0 (frames 0,1): chunk (c=0,y=0,x=0) should hold tLocal0=1s, tLocal1=2s.
	data, err := os.ReadFile(filepath.Join(dir, "0", "0", "0", "0", "0"))
	if err != nil {
		t.Fatalf("reading row0 chunk: %v", err)
	}
	want := []byte{1, 1, 1, 1, 2, 2, 2, 2}
	if string(data) != string(want) {
		t.Fatalf("row0 chunk (0,0,0) = %v, want %v", data, want)
	}

	// Row 1 (frames 2,3): same chunk position, values 3 then 4.
	data, err = os.ReadFile(filepath.Join(dir, "0", "1", "0", "0", "0"))
	if err != nil {
		t.Fatalf("reading row1 chunk: %v", err)
	}
	want = []byte{3, 3, 3, 3, 4, 4, 4, 4}
	if string(data) != string(want) {
		t.Fatalf("row1 chunk (0,0,0) = %v, want %v", data, want)
	}

	// Row 2 is ragged (only frame 4, value 5): tLocal1 half stays zero.
	data, err = os.ReadFile(filepath.Join(dir, "0", "2", "0", "0", "0"))
	if err != nil {
		t.Fatalf("reading row2 chunk: %v", err)
	}
	want = []byte{5, 5, 5, 5, 0, 0, 0, 0}
	if string(data) != string(want) {
		t.Fatalf("row2 chunk (0,0,0) = %v, want %v", data, want)
	}

	// 4 chunk files per row x 3 rows = 12 data files.
	count := 0
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Base(path) != ".zarray" {
			count++
		}
		return nil
	})
	if count != 12 {
		t.Fatalf("data chunk file count = %d, want 12", count)
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, "0", ".zarray"))
	if err != nil {
		t.Fatalf("reading .zarray: %v", err)
	}
	var doc struct {
		Shape  []uint64 `json:"shape"`
		Chunks []uint32 `json:"chunks"`
	}
	if err := json.Unmarshal(metaBytes, &doc); err != nil {
		t.Fatalf("unmarshal .zarray: %v", err)
	}
	wantShape := []uint64{5, 1, 4, 4}
	for i, v := range wantShape {
		if doc.Shape[i] != v {
			t.Fatalf(".zarray shape = %v, want %v", doc.Shape, wantShape)
		}
	}
	wantChunks := []uint32{2, 1, 2, 2}
	for i, v := range wantChunks {
		if doc.Chunks[i] != v {
			t.Fatalf(".zarray chunks = %v, want %v", doc.Chunks, wantChunks)
		}
	}
}

func TestV2WriterRejectsWrongFrameSize(t *testing.T) {
	dir := t.TempDir()
	factory, pool := testFactory(t, dir)
	geom, err := geometry.New(v2SmallDims(), false)
	if err != nil {
		t.Fatalf("geometry.New: %v", err)
	}
	w, err := NewV2Writer(Config{Level: 0, DataType: config.DataTypeU8}, geom, factory, pool, testLogger())
	if err != nil {
		t.Fatalf("NewV2Writer: %v", err)
	}
	if err := w.Write(make([]byte, 4)); err == nil {
		t.Fatal("expected error for wrong frame size")
	}
	if !w.Failed() {
		t.Fatal("writer should be marked failed after a bad write")
	}
}

// v3SmallDims: t chunk 1 shard 2 (append); c degenerate interior; y chunk 2
// array 4 shard 1 (2 shards along y); x chunk 2 array 4 shard 2 (1 shard
// along x) — 2 shards in memory, chunks_per_shard = 4 (2 append rows x 2
// non-append chunks per shard).
func v3SmallDims() []geometry.Dimension {
	return []geometry.Dimension{
		{Name: "t", Kind: geometry.KindTime, ArraySizePx: 0, ChunkSizePx: 1, ShardSizeChunks: 2},
		{Name: "c", Kind: geometry.KindChannel, ArraySizePx: 1, ChunkSizePx: 1, ShardSizeChunks: 1},
		{Name: "y", Kind: geometry.KindSpace, ArraySizePx: 4, ChunkSizePx: 2, ShardSizeChunks: 1},
		{Name: "x", Kind: geometry.KindSpace, ArraySizePx: 4, ChunkSizePx: 2, ShardSizeChunks: 2},
	}
}

func TestV3WriterShardGroupingAndIndexTable(t *testing.T) {
	dir := t.TempDir()
	factory, pool := testFactory(t, dir)

	geom, err := geometry.New(v3SmallDims(), true)
	if err != nil {
		t.Fatalf("geometry.New: %v", err)
	}
	if got := geom.ShardsInMemory(); got != 2 {
		t.Fatalf("ShardsInMemory = %d, want 2", got)
	}
	if got := geom.ChunksPerShard(); got != 4 {
		t.Fatalf("ChunksPerShard = %d, want 4", got)
	}

	w, err := NewV3Writer(Config{Level: 0, DataType: config.DataTypeU8}, geom, factory, pool, testLogger())
	if err != nil {
		t.Fatalf("NewV3Writer: %v", err)
	}

	// 5 frames: shard group 0 (rows 0,1 = frames 0,1), group 1 (rows 2,3 =
	// frames 2,3), and one ragged row (frame 4) forced closed by Finalize.
	for i := 0; i < 5; i++ {
		frame := make([]byte, 16)
		for j := range frame {
			frame[j] = byte(i + 1)
		}
		if err := w.Write(frame); err != nil {
			t.Fatalf("Write(frame %d): %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if w.Failed() {
		t.Fatalf("writer failed: %v", w.failErr)
	}

	// Shard (c=0,y=0,x=0) of append-shard-group 0: this shard's non-append
	// cross-section holds 2 chunks (x splits into 2 shard-chunks), and the
	// append axis contributes both rows of the group, so 4 chunks of 4
	// bytes each, plus a 2*chunks_per_shard*8 = 64 byte index table.
	shardPath := filepath.Join(dir, "0", "c0", "0", "0", "0")
	data, err := os.ReadFile(shardPath)
	if err != nil {
		t.Fatalf("reading shard file: %v", err)
	}
	const chunkBytes = 4 // t(1)*c(1)*y(2)*x(2) elements * 1 byte
	const tableBytes = 2 * 4 * 8
	if len(data) != 4*chunkBytes+tableBytes {
		t.Fatalf("shard file size = %d, want %d", len(data), 4*chunkBytes+tableBytes)
	}

	table := data[len(data)-tableBytes:]
	var offsets, lens [4]uint64
	for i := 0; i < 4; i++ {
		offsets[i] = binary.LittleEndian.Uint64(table[i*16:])
		lens[i] = binary.LittleEndian.Uint64(table[i*16+8:])
	}
	for i := 0; i < 4; i++ {
		if offsets[i] == math.MaxUint64 || lens[i] == math.MaxUint64 {
			t.Fatalf("shard table entry %d is an unfilled sentinel", i)
		}
		if lens[i] != chunkBytes {
			t.Fatalf("shard table entry %d length = %d, want %d", i, lens[i], chunkBytes)
		}
	}
	for i := 0; i < 3; i++ {
		if offsets[i]+lens[i] != offsets[i+1] {
			t.Fatalf("shard table entries are not contiguous: %v / %v", offsets, lens)
		}
	}

	// Ragged last group (frame 4 alone, forced closed at Finalize) only ever
	// writes append-local row 0, so the second half of the table (the slots
	// belonging to append-local row 1) stays sentinel.
	raggedPath := filepath.Join(dir, "0", "c2", "0", "0", "0")
	raggedData, err := os.ReadFile(raggedPath)
	if err != nil {
		t.Fatalf("reading ragged shard file: %v", err)
	}
	const raggedChunkBytes = 2 * chunkBytes // only append-local row 0 written
	if len(raggedData) != raggedChunkBytes+tableBytes {
		t.Fatalf("ragged shard file size = %d, want %d", len(raggedData), raggedChunkBytes+tableBytes)
	}
	raggedTable := raggedData[len(raggedData)-tableBytes:]
	for i := 0; i < 2; i++ {
		off := binary.LittleEndian.Uint64(raggedTable[i*16:])
		length := binary.LittleEndian.Uint64(raggedTable[i*16+8:])
		if off == math.MaxUint64 || length == math.MaxUint64 {
			t.Fatalf("ragged shard's append-local-row-0 slot %d should not be a sentinel", i)
		}
	}
	for i := 2; i < 4; i++ {
		off := binary.LittleEndian.Uint64(raggedTable[i*16:])
		length := binary.LittleEndian.Uint64(raggedTable[i*16+8:])
		if off != math.MaxUint64 || length != math.MaxUint64 {
			t.Fatalf("ragged shard's append-local-row-1 slot %d should remain a sentinel, got (%d,%d)", i, off, length)
		}
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, "0", "zarr.json"))
	if err != nil {
		t.Fatalf("reading zarr.json: %v", err)
	}
	var doc struct {
		Shape []uint64 `json:"shape"`
	}
	if err := json.Unmarshal(metaBytes, &doc); err != nil {
		t.Fatalf("unmarshal zarr.json: %v", err)
	}
	wantShape := []uint64{5, 1, 4, 4}
	for i, v := range wantShape {
		if doc.Shape[i] != v {
			t.Fatalf("zarr.json shape = %v, want %v", doc.Shape, wantShape)
		}
	}
}
