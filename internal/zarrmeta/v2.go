// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package zarrmeta builds the sidecar JSON documents a Zarr reader needs to
// open a dataset written by this module: v2's `.zarray`/`.zattrs`/`.zgroup`
// trio and v3's `zarr.json` array/group documents, plus the OME-style
// multiscale attributes block shared by both versions.
package zarrmeta

import (
	"encoding/json"

	"github.com/ome-zarr/zarrstream/internal/compressor"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// BloscDescriptor is the compressor block embedded in .zarray/zarr.json when
// compression is configured; nil when absent (rendered as null in .zarray,
// omitted from zarr.json), matching spec.md §6
// ("Absent ⇒ raw").
type BloscDescriptor struct {
	ID        string `json:"id"`
	Cname     string `json:"cname"`
	Clevel    int    `json:"clevel"`
	Shuffle   int    `json:"shuffle"`
	Blocksize int    `json:"blocksize"`
}

// shuffleCode maps compressor.Shuffle onto Blosc's integer shuffle enum
// (0 none, 1 byte, 2 bit), the convention numcodecs/Blosc readers expect.
func shuffleCode(s compressor.Shuffle) int {
	switch s {
	case compressor.ShuffleByte:
		return 1
	case compressor.ShuffleBit:
		return 2
	default:
		return 0
	}
}

// NewBloscDescriptor builds the descriptor for a configured compressor, or
// returns nil if params is the zero-value/absent case.
func NewBloscDescriptor(params compressor.Params, present bool) *BloscDescriptor {
	if !present {
		return nil
	}
	return &BloscDescriptor{
		ID:        "blosc",
		Cname:     string(params.Codec),
		Clevel:    params.Level,
		Shuffle:   shuffleCode(params.Shuffle),
		Blocksize: 0,
	}
}

// ZArrayV2 is the `.zarray` document (spec.md §4.8).
type ZArrayV2 struct {
	ZarrFormat         int              `json:"zarr_format"`
	Shape              []uint64         `json:"shape"`
	Chunks             []uint32         `json:"chunks"`
	Dtype              string           `json:"dtype"`
	FillValue          int              `json:"fill_value"`
	Order              string           `json:"order"`
	Filters            any              `json:"filters"`
	DimensionSeparator string           `json:"dimension_separator"`
	Compressor         *BloscDescriptor `json:"compressor"`
}

// NewZArrayV2 builds the array metadata document. shape is the full array
// shape with shape[0] already computed by the caller as
// ceil(frames_written / product(interior array sizes)) per spec.md §4.8;
// chunks is chunk_size_px for every dimension in order.
func NewZArrayV2(shape []uint64, chunks []uint32, dtype string, compressorDesc *BloscDescriptor) ZArrayV2 {
	return ZArrayV2{
		ZarrFormat:         2,
		Shape:              shape,
		Chunks:             chunks,
		Dtype:              dtype,
		FillValue:          0,
		Order:              "C",
		Filters:            nil,
		DimensionSeparator: "/",
		Compressor:         compressorDesc,
	}
}

// Marshal renders the document as the exact bytes written to `.zarray`.
func (z ZArrayV2) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(z, "", "  ")
	if err != nil {
		return nil, zerrors.Wrap(zerrors.KindInternalError, err, "marshaling .zarray")
	}
	return data, nil
}

// ZGroupV2 is the root `.zgroup` document (spec.md §4.8).
type ZGroupV2 struct {
	ZarrFormat int `json:"zarr_format"`
}

// NewZGroupV2 builds the group marker document.
func NewZGroupV2() ZGroupV2 { return ZGroupV2{ZarrFormat: 2} }

// Marshal renders the document as the exact bytes written to `.zgroup`.
func (z ZGroupV2) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(z, "", "  ")
	if err != nil {
		return nil, zerrors.Wrap(zerrors.KindInternalError, err, "marshaling .zgroup")
	}
	return data, nil
}
