package ggml

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/x448/float16"
)

func TestDequantizeF16(t *testing.T) {
	vals := []float32{0, 1, -2.5, 0.125}
	data := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}

	out := make([]float32, len(vals))
	DequantizeF16(data, out)
	for i, v := range vals {
		if out[i] != v {
			t.Errorf("element %d: got %f, want %f", i, out[i], v)
		}
	}
}

func TestDequantizeQ4_0(t *testing.T) {
	// One block: scale 0.5, all nibbles set to 10 -> (10-8)*0.5 = 1.0
	data := make([]byte, 18)
	binary.LittleEndian.PutUint16(data[0:2], float16.Fromfloat32(0.5).Bits())
	for j := 0; j < 16; j++ {
		data[2+j] = 0xAA // both nibbles = 10
	}

	out := make([]float32, 32)
	DequantizeQ4_0(data, out)
	for i, v := range out {
		if v != 1.0 {
			t.Fatalf("element %d: got %f, want 1.0", i, v)
		}
	}
}

func TestDequantizeQ4_1(t *testing.T) {
	// scale 0.25, min -1: nibbles 0 -> -1, nibbles 15 -> 2.75
	data := make([]byte, 20)
	binary.LittleEndian.PutUint16(data[0:2], float16.Fromfloat32(0.25).Bits())
	binary.LittleEndian.PutUint16(data[2:4], float16.Fromfloat32(-1).Bits())
	for j := 0; j < 16; j++ {
		data[4+j] = 0xF0 // low nibble 0, high nibble 15
	}

	out := make([]float32, 32)
	DequantizeQ4_1(data, out)
	for i := 0; i < 16; i++ {
		if out[i] != -1 {
			t.Fatalf("low element %d: got %f, want -1", i, out[i])
		}
	}
	for i := 16; i < 32; i++ {
		if math.Abs(float64(out[i]-2.75)) > 1e-6 {
			t.Fatalf("high element %d: got %f, want 2.75", i, out[i])
		}
	}
}

func TestQ8_0RoundTrip(t *testing.T) {
	src := make([]float32, 64)
	for i := range src {
		src[i] = float32(i%13) - 6
	}

	data := make([]byte, RowSize(TypeQ8_0, len(src)))
	QuantizeQ8_0(src, data)

	out := make([]float32, len(src))
	DequantizeQ8_0(data, out)

	for i := range src {
		if diff := math.Abs(float64(out[i] - src[i])); diff > 0.05 {
			t.Errorf("element %d: got %f, want %f (diff %f)", i, out[i], src[i], diff)
		}
	}
}

func TestDequantizeQ5_0(t *testing.T) {
	// All 5-bit values = 16 -> (16-16)*d = 0 regardless of scale.
	data := make([]byte, 22)
	binary.LittleEndian.PutUint16(data[0:2], float16.Fromfloat32(2.0).Bits())
	binary.LittleEndian.PutUint32(data[2:6], 0xFFFFFFFF) // fifth bit set everywhere
	// nibbles all zero

	out := make([]float32, 32)
	DequantizeQ5_0(data, out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("element %d: got %f, want 0", i, v)
		}
	}
}
