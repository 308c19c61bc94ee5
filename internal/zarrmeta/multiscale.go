// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package zarrmeta

import (
	"encoding/json"

	"github.com/ome-zarr/zarrstream/internal/geometry"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// Axis is one entry of an OME "axes" list (spec.md §4.8: name + type, with
// unit "micrometer" for space axes).
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

// NewAxis builds the Axis document for a Dimension.
func NewAxis(d geometry.Dimension) Axis {
	a := Axis{Name: d.Name, Type: string(d.Kind)}
	if d.Kind == geometry.KindSpace {
		a.Unit = "micrometer"
	}
	return a
}

// CoordinateTransformation is an OME "scale" transform.
type CoordinateTransformation struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

// Dataset is one level's entry in the OME "datasets" list.
type Dataset struct {
	Path                      string                      `json:"path"`
	CoordinateTransformations []CoordinateTransformation `json:"coordinateTransformations"`
}

// Multiscales is the top-level OME multiscale document embedded in
// `.zattrs`/`zarr.json` attributes (spec.md §4.8, §4.10).
type Multiscales struct {
	Version  string    `json:"version"`
	Name     string    `json:"name"`
	Axes     []Axis    `json:"axes"`
	Datasets []Dataset `json:"datasets"`
}

// LevelScale computes the per-axis scale factor for pyramid level, following
// the Open Question decision recorded in DESIGN.md: 2^level on every
// downsampled spatial axis (the final two dimensions), 1 elsewhere —
// including the append axis, which is never downsampled.
func LevelScale(dims []geometry.Dimension, level int) []float64 {
	n := len(dims)
	scale := make([]float64, n)
	factor := float64(uint64(1) << uint(level))
	for i := range dims {
		if i >= n-2 {
			scale[i] = factor
		} else {
			scale[i] = 1
		}
	}
	return scale
}

// NewMultiscales builds the OME document for a pyramid of levelCount levels,
// one Dataset per level path "0", "1", ... matching spec.md §4.10's level
// directory naming.
func NewMultiscales(name string, dims []geometry.Dimension, levelCount int) Multiscales {
	axes := make([]Axis, len(dims))
	for i, d := range dims {
		axes[i] = NewAxis(d)
	}
	datasets := make([]Dataset, levelCount)
	for level := 0; level < levelCount; level++ {
		datasets[level] = Dataset{
			Path: itoa(level),
			CoordinateTransformations: []CoordinateTransformation{
				{Type: "scale", Scale: LevelScale(dims, level)},
			},
		}
	}
	return Multiscales{
		Version:  "0.4",
		Name:     name,
		Axes:     axes,
		Datasets: datasets,
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Attributes is the full attributes document: the OME multiscales block
// plus whatever custom metadata the caller supplied, merged under
// "zarrstream" so a reader can distinguish the two (spec.md §6:
// "custom_metadata ... embedded into group metadata under an OME attributes
// block").
type Attributes struct {
	Multiscales []Multiscales  `json:"multiscales"`
	Custom      map[string]any `json:"zarrstream,omitempty"`
}

// MergeCustomAttributes parses custom (a JSON object, or nil/empty meaning
// "{}" per spec.md §6) and attaches it to an Attributes document alongside
// the OME multiscales block.
func MergeCustomAttributes(ms Multiscales, custom json.RawMessage) (Attributes, error) {
	attrs := Attributes{Multiscales: []Multiscales{ms}}
	if len(custom) == 0 {
		return attrs, nil
	}
	var m map[string]any
	if err := json.Unmarshal(custom, &m); err != nil {
		return Attributes{}, zerrors.Wrap(zerrors.KindInvalidSettings, err, "custom_metadata is not a JSON object")
	}
	if len(m) > 0 {
		attrs.Custom = m
	}
	return attrs, nil
}

// Marshal renders the attributes document as the exact bytes written to
// `.zattrs` (v2) or embedded under "attributes" in `zarr.json` (v3).
func (a Attributes) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, zerrors.Wrap(zerrors.KindInternalError, err, "marshaling attributes")
	}
	return data, nil
}
