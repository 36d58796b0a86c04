package device

import (
	"math"
	"sync"
)

// NormEps matches the reference runtime's layer-norm epsilon.
const NormEps = 1e-5

// Norm normalizes each nEmbd-wide row of x to zero mean / unit variance,
// writing into dst. dst and x may alias.
func Norm(dst, x []float32, nEmbd int) {
	rows := len(x) / nEmbd
	for r := 0; r < rows; r++ {
		row := x[r*nEmbd : (r+1)*nEmbd]
		out := dst[r*nEmbd : (r+1)*nEmbd]

		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(nEmbd)

		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(nEmbd)

		scale := float32(1.0 / math.Sqrt(variance+NormEps))
		for i, v := range row {
			out[i] = (v - float32(mean)) * scale
		}
	}
}

// MulRows scales each nEmbd-wide row of x elementwise by w in place.
func MulRows(x []float32, w []float32) {
	n := len(w)
	for r := 0; r < len(x)/n; r++ {
		row := x[r*n : (r+1)*n]
		for i := range row {
			row[i] *= w[i]
		}
	}
}

// MatMul computes dst = x · Wᵗ for a weight tensor W of shape
// [ne0=in, ne1=out] and n input rows of width ne0. Rows of W are
// dequantized on the fly. Work is split across threads goroutines which
// all join before return.
func MatMul(w *Tensor, x []float32, n int, dst []float32, threads int) {
	in, out := w.Dims()
	if threads < 1 {
		threads = 1
	}
	if threads > out {
		threads = out
	}

	var wg sync.WaitGroup
	chunk := (out + threads - 1) / threads
	for t := 0; t < threads; t++ {
		lo := t * chunk
		hi := lo + chunk
		if hi > out {
			hi = out
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			rowBuf := make([]float32, in)
			for j := lo; j < hi; j++ {
				wrow := w.Row(j, rowBuf)
				for r := 0; r < n; r++ {
					xrow := x[r*in : (r+1)*in]
					var sum float32
					for i, v := range wrow {
						sum += v * xrow[i]
					}
					dst[r*out+j] = sum
				}
			}
		}(lo, hi)
	}
	wg.Wait()
}

// Clamp clips every element of x to [-limit, limit] in place.
func Clamp(x []float32, limit float32) {
	for i, v := range x {
		if v > limit {
			x[i] = limit
		} else if v < -limit {
			x[i] = -limit
		}
	}
}

// GELU applies the tanh-approximation GELU in place.
func GELU(x []float32) {
	const c = 0.7978845608028654 // sqrt(2/pi)
	for i, v := range x {
		f := float64(v)
		x[i] = float32(0.5 * f * (1.0 + math.Tanh(c*(f+0.044715*f*f*f))))
	}
}

// Softmax normalizes x in place with the max-subtraction step.
// -Inf entries map to probability zero.
func Softmax(x []float32) {
	maxVal := float32(math.Inf(-1))
	for _, v := range x {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	for i, v := range x {
		e := float32(math.Exp(float64(v - maxVal)))
		x[i] = e
		sum += float64(e)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Add accumulates src into dst elementwise.
func Add(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

// Dot returns the inner product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i, v := range a {
		sum += v * b[i]
	}
	return sum
}
