package ggml

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// Dequantize decodes count elements of type t from raw block data into dst.
// dst must hold count float32s; count must be a multiple of BlockSize(t).
func Dequantize(t Type, data []byte, dst []float32) {
	switch t {
	case TypeF32:
		DequantizeF32(data, dst)
	case TypeF16:
		DequantizeF16(data, dst)
	case TypeQ4_0:
		DequantizeQ4_0(data, dst)
	case TypeQ4_1:
		DequantizeQ4_1(data, dst)
	case TypeQ5_0:
		DequantizeQ5_0(data, dst)
	case TypeQ5_1:
		DequantizeQ5_1(data, dst)
	case TypeQ8_0:
		DequantizeQ8_0(data, dst)
	default:
		panic("dequantize: unsupported type " + t.String())
	}
}

func DequantizeF32(data []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
}

func DequantizeF16(data []byte, dst []float32) {
	for i := range dst {
		dst[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
	}
}

// DequantizeQ4_0 decodes 18-byte blocks of 32 4-bit elements:
// f16 scale d, then 16 nibble bytes. Element j sits in the low nibble of
// byte j, element j+16 in the high nibble, both biased by 8.
func DequantizeQ4_0(data []byte, dst []float32) {
	const qk = 32
	nb := len(dst) / qk
	for i := 0; i < nb; i++ {
		block := data[i*18:]
		d := float16.Frombits(binary.LittleEndian.Uint16(block[0:2])).Float32()
		qs := block[2:18]
		for j := 0; j < qk/2; j++ {
			x0 := int8(qs[j]&0x0F) - 8
			x1 := int8(qs[j]>>4) - 8
			dst[i*qk+j] = float32(x0) * d
			dst[i*qk+j+qk/2] = float32(x1) * d
		}
	}
}

// DequantizeQ4_1 decodes 20-byte blocks: f16 scale d, f16 min m, 16 nibble
// bytes. x = nibble*d + m.
func DequantizeQ4_1(data []byte, dst []float32) {
	const qk = 32
	nb := len(dst) / qk
	for i := 0; i < nb; i++ {
		block := data[i*20:]
		d := float16.Frombits(binary.LittleEndian.Uint16(block[0:2])).Float32()
		m := float16.Frombits(binary.LittleEndian.Uint16(block[2:4])).Float32()
		qs := block[4:20]
		for j := 0; j < qk/2; j++ {
			dst[i*qk+j] = float32(qs[j]&0x0F)*d + m
			dst[i*qk+j+qk/2] = float32(qs[j]>>4)*d + m
		}
	}
}

// DequantizeQ5_0 decodes 22-byte blocks: f16 scale d, u32 of fifth bits,
// 16 nibble bytes. 5-bit values are biased by 16.
func DequantizeQ5_0(data []byte, dst []float32) {
	const qk = 32
	nb := len(dst) / qk
	for i := 0; i < nb; i++ {
		block := data[i*22:]
		d := float16.Frombits(binary.LittleEndian.Uint16(block[0:2])).Float32()
		qh := binary.LittleEndian.Uint32(block[2:6])
		qs := block[6:22]
		for j := 0; j < qk/2; j++ {
			xh0 := uint8((qh >> j) & 1)
			xh1 := uint8((qh >> (j + 16)) & 1)
			x0 := int8(qs[j]&0x0F|xh0<<4) - 16
			x1 := int8(qs[j]>>4|xh1<<4) - 16
			dst[i*qk+j] = float32(x0) * d
			dst[i*qk+j+qk/2] = float32(x1) * d
		}
	}
}

// DequantizeQ5_1 decodes 24-byte blocks: f16 d, f16 m, u32 fifth bits,
// 16 nibble bytes. x = q5*d + m.
func DequantizeQ5_1(data []byte, dst []float32) {
	const qk = 32
	nb := len(dst) / qk
	for i := 0; i < nb; i++ {
		block := data[i*24:]
		d := float16.Frombits(binary.LittleEndian.Uint16(block[0:2])).Float32()
		m := float16.Frombits(binary.LittleEndian.Uint16(block[2:4])).Float32()
		qh := binary.LittleEndian.Uint32(block[4:8])
		qs := block[8:24]
		for j := 0; j < qk/2; j++ {
			xh0 := uint8((qh >> j) & 1)
			xh1 := uint8((qh >> (j + 16)) & 1)
			dst[i*qk+j] = float32(qs[j]&0x0F|xh0<<4)*d + m
			dst[i*qk+j+qk/2] = float32(qs[j]>>4|xh1<<4)*d + m
		}
	}
}

// DequantizeQ8_0 decodes 34-byte blocks: f16 scale d, 32 signed bytes.
func DequantizeQ8_0(data []byte, dst []float32) {
	const qk = 32
	nb := len(dst) / qk
	for i := 0; i < nb; i++ {
		block := data[i*34:]
		d := float16.Frombits(binary.LittleEndian.Uint16(block[0:2])).Float32()
		for j := 0; j < qk; j++ {
			dst[i*qk+j] = float32(int8(block[2+j])) * d
		}
	}
}

// QuantizeQ8_0 encodes src into 34-byte Q8_0 blocks. Used by the model
// writer and fixtures; matches the reference round-to-nearest behavior.
func QuantizeQ8_0(src []float32, data []byte) {
	const qk = 32
	nb := len(src) / qk
	for i := 0; i < nb; i++ {
		amax := float32(0)
		for j := 0; j < qk; j++ {
			v := src[i*qk+j]
			if v < 0 {
				v = -v
			}
			if v > amax {
				amax = v
			}
		}
		d := amax / 127
		id := float32(0)
		if d != 0 {
			id = 1 / d
		}
		block := data[i*34:]
		binary.LittleEndian.PutUint16(block[0:2], float16.Fromfloat32(d).Bits())
		for j := 0; j < qk; j++ {
			block[2+j] = byte(int8(roundHalfAway(src[i*qk+j] * id)))
		}
	}
}

func roundHalfAway(v float32) int {
	if v >= 0 {
		return int(v + 0.5)
	}
	return int(v - 0.5)
}
