// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package multiscale

import (
	"encoding/binary"
	"math"

	"github.com/ome-zarr/zarrstream/internal/config"
)

// Downsample implements spec.md §4.10's per-level downsample: 2x reduction
// in each spatial dimension, replicating the final row/column to pad an odd
// dimension to even before halving, output pixel = unweighted mean of the
// 2x2 source cell (computed in f32, cast back to dtype).
func Downsample(frame []byte, height, width int, dtype config.DataType) []byte {
	outH, outW := (height+1)/2, (width+1)/2
	bps := dtype.BytesPerSample()
	out := make([]byte, outH*outW*bps)

	at := func(y, x int) float32 {
		if y >= height {
			y = height - 1
		}
		if x >= width {
			x = width - 1
		}
		return decodeSample(frame, y*width+x, dtype)
	}

	for oy := 0; oy < outH; oy++ {
		y0 := oy * 2
		for ox := 0; ox < outW; ox++ {
			x0 := ox * 2
			sum := at(y0, x0) + at(y0, x0+1) + at(y0+1, x0) + at(y0+1, x0+1)
			encodeSample(out, oy*outW+ox, dtype, sum/4)
		}
	}
	return out
}

// Average implements spec.md §4.10's pairwise averaging: two same-shaped
// frames averaged pixel-wise.
func Average(a, b []byte, dtype config.DataType) []byte {
	n := len(a) / dtype.BytesPerSample()
	out := make([]byte, len(a))
	for i := 0; i < n; i++ {
		va := decodeSample(a, i, dtype)
		vb := decodeSample(b, i, dtype)
		encodeSample(out, i, dtype, (va+vb)/2)
	}
	return out
}

// decodeSample/encodeSample read and write one sample at index idx (not byte
// offset) in the host's native byte order, matching DataType.V2DtypeString's
// endianness prefix — the bytes a writer stores are never re-ordered, so the
// pyramid must interpret them the same way they were produced.
func decodeSample(buf []byte, idx int, dtype config.DataType) float32 {
	bps := dtype.BytesPerSample()
	b := buf[idx*bps : idx*bps+bps]
	switch dtype {
	case config.DataTypeU8:
		return float32(b[0])
	case config.DataTypeI8:
		return float32(int8(b[0]))
	case config.DataTypeU16:
		return float32(binary.NativeEndian.Uint16(b))
	case config.DataTypeI16:
		return float32(int16(binary.NativeEndian.Uint16(b)))
	case config.DataTypeU32:
		return float32(binary.NativeEndian.Uint32(b))
	case config.DataTypeI32:
		return float32(int32(binary.NativeEndian.Uint32(b)))
	case config.DataTypeU64:
		return float32(binary.NativeEndian.Uint64(b))
	case config.DataTypeI64:
		return float32(int64(binary.NativeEndian.Uint64(b)))
	case config.DataTypeF16:
		return float16ToFloat32(binary.NativeEndian.Uint16(b))
	case config.DataTypeF32:
		return math.Float32frombits(binary.NativeEndian.Uint32(b))
	case config.DataTypeF64:
		return float32(math.Float64frombits(binary.NativeEndian.Uint64(b)))
	default:
		return 0
	}
}

func encodeSample(buf []byte, idx int, dtype config.DataType, v float32) {
	bps := dtype.BytesPerSample()
	b := buf[idx*bps : idx*bps+bps]
	switch dtype {
	case config.DataTypeU8:
		b[0] = byte(clampUint(v, math.MaxUint8))
	case config.DataTypeI8:
		b[0] = byte(int8(clampInt(v, math.MinInt8, math.MaxInt8)))
	case config.DataTypeU16:
		binary.NativeEndian.PutUint16(b, uint16(clampUint(v, math.MaxUint16)))
	case config.DataTypeI16:
		binary.NativeEndian.PutUint16(b, uint16(int16(clampInt(v, math.MinInt16, math.MaxInt16))))
	case config.DataTypeU32:
		binary.NativeEndian.PutUint32(b, uint32(clampUint(v, math.MaxUint32)))
	case config.DataTypeI32:
		binary.NativeEndian.PutUint32(b, uint32(int32(clampInt(v, math.MinInt32, math.MaxInt32))))
	case config.DataTypeU64:
		binary.NativeEndian.PutUint64(b, uint64(clampUint(v, math.MaxUint64)))
	case config.DataTypeI64:
		binary.NativeEndian.PutUint64(b, uint64(int64(clampInt(v, math.MinInt64, math.MaxInt64))))
	case config.DataTypeF16:
		binary.NativeEndian.PutUint16(b, float32ToFloat16(v))
	case config.DataTypeF32:
		binary.NativeEndian.PutUint32(b, math.Float32bits(v))
	case config.DataTypeF64:
		binary.NativeEndian.PutUint64(b, math.Float64bits(float64(v)))
	}
}

func clampUint(v float32, max float64) float64 {
	r := math.Round(float64(v))
	if r < 0 {
		return 0
	}
	if r > max {
		return max
	}
	return r
}

func clampInt(v float32, min, max float64) float64 {
	r := math.Round(float64(v))
	if r < min {
		return min
	}
	if r > max {
		return max
	}
	return r
}

// float16ToFloat32/float32ToFloat16 implement IEEE 754 half precision
// conversion; camera frames are never f16 in practice but spec.md §6 lists
// it as a supported data_type, so the pyramid must round-trip it too.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := (h >> 10) & 0x1f
	frac := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal half -> normalized float32
		e := -1
		for frac&0x400 == 0 {
			frac <<= 1
			e++
		}
		frac &= 0x3ff
		bits := sign | uint32(127-15-e)<<23 | frac<<13
		return math.Float32frombits(bits)
	case 0x1f:
		bits := sign | 0xff<<23 | frac<<13
		return math.Float32frombits(bits)
	default:
		bits := sign | (uint32(exp)-15+127)<<23 | frac<<13
		return math.Float32frombits(bits)
	}
}

func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	frac := bits & 0x7fffff

	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	default:
		return sign | uint16(exp)<<10 | uint16(frac>>13)
	}
}
