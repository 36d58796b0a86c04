package ggml

import "fmt"

const (
	// FileMagic is the legacy ggml container magic ("ggml" little-endian).
	FileMagic = 0x67676d6c

	// QntVersionFactor splits the on-disk ftype field into
	// quantization version (ftype / factor) and base type (ftype % factor).
	QntVersionFactor = 1000
)

type Type uint32

const (
	TypeF32  Type = 0
	TypeF16  Type = 1
	TypeQ4_0 Type = 2
	TypeQ4_1 Type = 3
	TypeQ5_0 Type = 6
	TypeQ5_1 Type = 7
	TypeQ8_0 Type = 8
	TypeI32  Type = 18
	TypeCount
)

// Ftype is the whole-file weight encoding selector stored in the header,
// after reduction modulo QntVersionFactor.
type Ftype int32

const (
	FtypeAllF32 Ftype = 0
	FtypeF16    Ftype = 1
	FtypeQ4_0   Ftype = 2
	FtypeQ4_1   Ftype = 3
	// FtypeQ4_1SomeF16 marks files where tok_embeddings and output kept F16.
	FtypeQ4_1SomeF16 Ftype = 4
	FtypeQ8_0        Ftype = 7
	FtypeQ5_0        Ftype = 8
	FtypeQ5_1        Ftype = 9
)

// FtypeToType resolves the encoding used for the big weight tensors.
// Returns TypeCount for unrecognized values; callers must treat that as a
// hard load failure.
func FtypeToType(ft Ftype) Type {
	switch ft {
	case FtypeAllF32:
		return TypeF32
	case FtypeF16:
		return TypeF16
	case FtypeQ4_0:
		return TypeQ4_0
	case FtypeQ4_1, FtypeQ4_1SomeF16:
		return TypeQ4_1
	case FtypeQ8_0:
		return TypeQ8_0
	case FtypeQ5_0:
		return TypeQ5_0
	case FtypeQ5_1:
		return TypeQ5_1
	default:
		return TypeCount
	}
}

// TypeSize returns the byte size of one block of the given type.
func TypeSize(t Type) int {
	switch t {
	case TypeF32, TypeI32:
		return 4
	case TypeF16:
		return 2
	case TypeQ4_0:
		return 18
	case TypeQ4_1:
		return 20
	case TypeQ5_0:
		return 22
	case TypeQ5_1:
		return 24
	case TypeQ8_0:
		return 34
	default:
		return 0
	}
}

// BlockSize returns the element count covered by one block.
func BlockSize(t Type) int {
	switch t {
	case TypeF32, TypeF16, TypeI32:
		return 1
	case TypeQ4_0, TypeQ4_1, TypeQ5_0, TypeQ5_1, TypeQ8_0:
		return 32
	default:
		return 0
	}
}

// TypeSizeF is the fractional bytes-per-element used for analytic sizing.
func TypeSizeF(t Type) float64 {
	bs := BlockSize(t)
	if bs == 0 {
		return 0
	}
	return float64(TypeSize(t)) / float64(bs)
}

// RowSize returns the byte size of n contiguous elements of type t.
// n must be a multiple of BlockSize(t) for quantized types.
func RowSize(t Type, n int) int {
	return n / BlockSize(t) * TypeSize(t)
}

func (t Type) String() string {
	switch t {
	case TypeF32:
		return "F32"
	case TypeF16:
		return "F16"
	case TypeQ4_0:
		return "Q4_0"
	case TypeQ4_1:
		return "Q4_1"
	case TypeQ5_0:
		return "Q5_0"
	case TypeQ5_1:
		return "Q5_1"
	case TypeQ8_0:
		return "Q8_0"
	case TypeI32:
		return "I32"
	default:
		return fmt.Sprintf("UNKNOWN_TYPE_%d", uint32(t))
	}
}

// Error types

type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid ggml magic: %x", e.Magic)
}

type ErrBadFtype struct{ Ftype int32 }

func (e ErrBadFtype) Error() string {
	return fmt.Sprintf("bad ftype value %d", e.Ftype)
}
