// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package zarrmeta

import (
	"encoding/json"

	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// ChunkGrid is the `chunk_grid` field of an array's zarr.json (spec.md §4.9).
type ChunkGrid struct {
	Type       string   `json:"type"`
	Separator  string   `json:"separator"`
	ChunkShape []uint32 `json:"chunk_shape"`
}

// StorageTransformerConfiguration holds the sharding-1.0 extension's single
// parameter (spec.md §4.9).
type StorageTransformerConfiguration struct {
	ChunksPerShard int `json:"chunks_per_shard"`
}

// StorageTransformer describes the indexed-sharding storage transformer
// applied to every chunk write (spec.md §4.9).
type StorageTransformer struct {
	Type          string                           `json:"type"`
	Extension     string                           `json:"extension"`
	Configuration StorageTransformerConfiguration `json:"configuration"`
}

// ArrayV3 is the per-level array `zarr.json` document (spec.md §4.9).
type ArrayV3 struct {
	Shape               []uint64             `json:"shape"`
	ChunkGrid           ChunkGrid            `json:"chunk_grid"`
	ChunkMemoryLayout   string               `json:"chunk_memory_layout"`
	DataType            string               `json:"data_type"`
	Extensions          []any                `json:"extensions"`
	FillValue           int                  `json:"fill_value"`
	Compressor          *BloscDescriptor     `json:"compressor,omitempty"`
	StorageTransformers []StorageTransformer `json:"storage_transformers"`
}

// NewArrayV3 builds the v3 array metadata document. shape/chunkShape follow
// the same construction as v2's NewZArrayV2 argument.
func NewArrayV3(shape []uint64, chunkShape []uint32, dtype string, chunksPerShard int, compressorDesc *BloscDescriptor) ArrayV3 {
	return ArrayV3{
		Shape: shape,
		ChunkGrid: ChunkGrid{
			Type:       "regular",
			Separator:  "/",
			ChunkShape: chunkShape,
		},
		ChunkMemoryLayout: "C",
		DataType:          dtype,
		Extensions:        []any{},
		FillValue:         0,
		Compressor:        compressorDesc,
		StorageTransformers: []StorageTransformer{
			{
				Type:      "indexed",
				Extension: "sharding-1.0",
				Configuration: StorageTransformerConfiguration{
					ChunksPerShard: chunksPerShard,
				},
			},
		},
	}
}

// Marshal renders the document as the exact bytes written to the array's
// `zarr.json`.
func (a ArrayV3) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, zerrors.Wrap(zerrors.KindInternalError, err, "marshaling array zarr.json")
	}
	return data, nil
}

// GroupV3 is a group-node `zarr.json` document (spec.md §4.9). The stream
// writes it only at `<root>`; no `<root>/<level>` group document is written.
type GroupV3 struct {
	NodeType   string      `json:"node_type"`
	Attributes *Attributes `json:"attributes,omitempty"`
}

// NewGroupV3 builds a group document, optionally carrying the OME attributes
// block (only the root group carries multiscales; per-level subgroups, if
// any, pass nil).
func NewGroupV3(attrs *Attributes) GroupV3 {
	return GroupV3{NodeType: "group", Attributes: attrs}
}

// Marshal renders the document as the exact bytes written to `zarr.json`.
func (g GroupV3) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, zerrors.Wrap(zerrors.KindInternalError, err, "marshaling group zarr.json")
	}
	return data, nil
}
