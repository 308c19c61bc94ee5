// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"encoding/binary"
	"unsafe"

	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// DataType enumerates the sample types recognized by spec.md §6.
type DataType string

const (
	DataTypeU8  DataType = "u8"
	DataTypeU16 DataType = "u16"
	DataTypeU32 DataType = "u32"
	DataTypeU64 DataType = "u64"
	DataTypeI8  DataType = "i8"
	DataTypeI16 DataType = "i16"
	DataTypeI32 DataType = "i32"
	DataTypeI64 DataType = "i64"
	DataTypeF16 DataType = "f16"
	DataTypeF32 DataType = "f32"
	DataTypeF64 DataType = "f64"
)

type dtypeInfo struct {
	bytes  int
	v2code string // without endianness prefix, e.g. "u2"
	v3name string // zarr v3 endian-less type name
}

var dtypeTable = map[DataType]dtypeInfo{
	DataTypeU8:  {1, "u1", "uint8"},
	DataTypeU16: {2, "u2", "uint16"},
	DataTypeU32: {4, "u4", "uint32"},
	DataTypeU64: {8, "u8", "uint64"},
	DataTypeI8:  {1, "i1", "int8"},
	DataTypeI16: {2, "i2", "int16"},
	DataTypeI32: {4, "i4", "int32"},
	DataTypeI64: {8, "i8", "int64"},
	DataTypeF16: {2, "f2", "float16"},
	DataTypeF32: {4, "f4", "float32"},
	DataTypeF64: {8, "f8", "float64"},
}

// Validate reports whether d is one of the recognized data types.
func (d DataType) Validate() error {
	if _, ok := dtypeTable[d]; !ok {
		return zerrors.New(zerrors.KindInvalidSettings, "data_type %q is not recognized", d)
	}
	return nil
}

// BytesPerSample is the on-wire size of one sample of this type.
func (d DataType) BytesPerSample() int {
	return dtypeTable[d].bytes
}

// V2DtypeString returns the .zarray "dtype" field: a single-byte endianness
// prefix ("<" little, ">" big, "|" not-applicable for 1-byte types) followed
// by the numpy-style type code, per spec.md §4.8/§6.
func (d DataType) V2DtypeString() string {
	info := dtypeTable[d]
	if info.bytes == 1 {
		return "|" + info.v2code
	}
	if nativeEndian == binary.BigEndian {
		return ">" + info.v2code
	}
	return "<" + info.v2code
}

// V3TypeName returns the zarr v3 endian-less data_type name, e.g. "uint16".
func (d DataType) V3TypeName() string {
	return dtypeTable[d].v3name
}

// nativeEndian is the host's byte order, used only to pick the v2 dtype
// endianness prefix (spec.md §6: "little/big-endian prefix").
var nativeEndian = detectNativeEndian()

func detectNativeEndian() binary.ByteOrder {
	var probe uint16 = 1
	b := *(*[2]byte)(unsafe.Pointer(&probe))
	if b[0] == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
