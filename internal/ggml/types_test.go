package ggml

import "testing"

func TestFtypeToType(t *testing.T) {
	cases := []struct {
		ft   Ftype
		want Type
	}{
		{FtypeAllF32, TypeF32},
		{FtypeF16, TypeF16},
		{FtypeQ4_0, TypeQ4_0},
		{FtypeQ4_1, TypeQ4_1},
		{FtypeQ4_1SomeF16, TypeQ4_1},
		{FtypeQ8_0, TypeQ8_0},
		{FtypeQ5_0, TypeQ5_0},
		{FtypeQ5_1, TypeQ5_1},
	}
	for _, c := range cases {
		if got := FtypeToType(c.ft); got != c.want {
			t.Errorf("FtypeToType(%d) = %v, want %v", c.ft, got, c.want)
		}
	}

	// Unknown codes must resolve to TypeCount so the loader can reject them.
	if got := FtypeToType(Ftype(42)); got != TypeCount {
		t.Errorf("FtypeToType(42) = %v, want TypeCount", got)
	}
}

func TestVersionFactorSplit(t *testing.T) {
	// ftype 2002 = quantization version 2, base encoding Q4_0.
	raw := int32(2002)
	if v := raw / QntVersionFactor; v != 2 {
		t.Errorf("qnt version = %d, want 2", v)
	}
	if base := Ftype(raw % QntVersionFactor); FtypeToType(base) != TypeQ4_0 {
		t.Errorf("base ftype %d did not resolve to Q4_0", base)
	}
}

func TestRowSize(t *testing.T) {
	cases := []struct {
		typ  Type
		n    int
		want int
	}{
		{TypeF32, 64, 256},
		{TypeF16, 64, 128},
		{TypeQ4_0, 64, 36},
		{TypeQ4_1, 32, 20},
		{TypeQ5_0, 32, 22},
		{TypeQ5_1, 64, 48},
		{TypeQ8_0, 96, 102},
	}
	for _, c := range cases {
		if got := RowSize(c.typ, c.n); got != c.want {
			t.Errorf("RowSize(%v, %d) = %d, want %d", c.typ, c.n, got, c.want)
		}
	}
}
