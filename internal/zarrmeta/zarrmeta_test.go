// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package zarrmeta

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ome-zarr/zarrstream/internal/compressor"
	"github.com/ome-zarr/zarrstream/internal/geometry"
)

func sampleDims() []geometry.Dimension {
	return []geometry.Dimension{
		{Name: "t", Kind: geometry.KindTime, ArraySizePx: 0, ChunkSizePx: 128},
		{Name: "c", Kind: geometry.KindChannel, ArraySizePx: 1, ChunkSizePx: 1},
		{Name: "y", Kind: geometry.KindSpace, ArraySizePx: 1080, ChunkSizePx: 540},
		{Name: "x", Kind: geometry.KindSpace, ArraySizePx: 1920, ChunkSizePx: 960},
	}
}

func TestNewZArrayV2MatchesScenario1(t *testing.T) {
	z := NewZArrayV2([]uint64{256, 1, 1080, 1920}, []uint32{128, 1, 540, 960}, "<u2", nil)
	if z.ZarrFormat != 2 || z.Order != "C" || z.DimensionSeparator != "/" {
		t.Fatalf("unexpected fixed fields: %+v", z)
	}
	if z.Compressor != nil {
		t.Fatal("expected nil compressor for raw chunk")
	}
	data, err := z.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"shape"`) {
		t.Fatalf("marshaled .zarray missing shape: %s", data)
	}
}

func TestNewBloscDescriptorAbsentIsNil(t *testing.T) {
	if d := NewBloscDescriptor(compressor.Params{}, false); d != nil {
		t.Fatalf("expected nil descriptor, got %+v", d)
	}
}

func TestNewBloscDescriptorPresent(t *testing.T) {
	d := NewBloscDescriptor(compressor.Params{Codec: compressor.CodecZstd, Level: 5, Shuffle: compressor.ShuffleByte}, true)
	if d == nil {
		t.Fatal("expected non-nil descriptor")
	}
	if d.ID != "blosc" || d.Cname != "zstd" || d.Shuffle != 1 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}

func TestLevelScaleSpatialVsInterior(t *testing.T) {
	dims := sampleDims()
	scale := LevelScale(dims, 2)
	want := []float64{1, 1, 4, 4}
	for i, w := range want {
		if scale[i] != w {
			t.Fatalf("scale[%d] = %v, want %v (full: %v)", i, scale[i], w, scale)
		}
	}
}

func TestNewMultiscalesOneDatasetPerLevel(t *testing.T) {
	ms := NewMultiscales("dataset", sampleDims(), 3)
	if len(ms.Datasets) != 3 {
		t.Fatalf("len(Datasets) = %d, want 3", len(ms.Datasets))
	}
	if ms.Datasets[0].Path != "0" || ms.Datasets[2].Path != "2" {
		t.Fatalf("unexpected dataset paths: %+v", ms.Datasets)
	}
	if len(ms.Axes) != len(sampleDims()) {
		t.Fatalf("len(Axes) = %d, want %d", len(ms.Axes), len(sampleDims()))
	}
}

func TestMergeCustomAttributesEmptyIsOmitted(t *testing.T) {
	ms := NewMultiscales("dataset", sampleDims(), 1)
	attrs, err := MergeCustomAttributes(ms, nil)
	if err != nil {
		t.Fatalf("MergeCustomAttributes: %v", err)
	}
	data, err := attrs.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "zarrstream") {
		t.Fatalf("expected no zarrstream key for empty custom metadata: %s", data)
	}
}

func TestMergeCustomAttributesPassthrough(t *testing.T) {
	ms := NewMultiscales("dataset", sampleDims(), 1)
	custom := json.RawMessage(`{"acquisition_id": "abc123"}`)
	attrs, err := MergeCustomAttributes(ms, custom)
	if err != nil {
		t.Fatalf("MergeCustomAttributes: %v", err)
	}
	if attrs.Custom["acquisition_id"] != "abc123" {
		t.Fatalf("custom metadata not preserved: %+v", attrs.Custom)
	}
}

func TestMergeCustomAttributesRejectsInvalidJSON(t *testing.T) {
	ms := NewMultiscales("dataset", sampleDims(), 1)
	if _, err := MergeCustomAttributes(ms, json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error for invalid custom_metadata")
	}
}

func TestNewArrayV3Fields(t *testing.T) {
	a := NewArrayV3([]uint64{10, 8, 6, 48, 64}, []uint32{5, 4, 2, 16, 16}, "uint16", 4, nil)
	if a.ChunkMemoryLayout != "C" || a.ChunkGrid.Type != "regular" {
		t.Fatalf("unexpected fixed fields: %+v", a)
	}
	if len(a.StorageTransformers) != 1 || a.StorageTransformers[0].Extension != "sharding-1.0" {
		t.Fatalf("unexpected storage transformers: %+v", a.StorageTransformers)
	}
	if a.StorageTransformers[0].Configuration.ChunksPerShard != 4 {
		t.Fatalf("chunks_per_shard = %d, want 4", a.StorageTransformers[0].Configuration.ChunksPerShard)
	}
}

func TestNewGroupV3RootCarriesAttributes(t *testing.T) {
	ms := NewMultiscales("dataset", sampleDims(), 1)
	attrs, _ := MergeCustomAttributes(ms, nil)
	g := NewGroupV3(&attrs)
	if g.NodeType != "group" || g.Attributes == nil {
		t.Fatalf("unexpected group document: %+v", g)
	}
	sub := NewGroupV3(nil)
	if sub.Attributes != nil {
		t.Fatal("expected nil attributes for subgroup")
	}
}
