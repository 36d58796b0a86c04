package config

import (
	"fmt"
	"runtime"
)

// Params is the runtime configuration surface consumed by the engine and
// decode loop. Model hyperparameters live with the model itself; these are
// the caller-controlled knobs.
type Params struct {
	ModelPath string

	Threads  int
	NCtx     int // requested context length, capped by the model's max_seq_len
	NBatch   int
	NPredict int

	Seed          int64
	Temp          float64
	TopK          int
	TopP          float64
	RepeatLastN   int
	RepeatPenalty float64

	// Scratch sizing. EvalBytes is the initial eval buffer before the
	// bytes-per-token estimate exists; ScratchBytes sizes each of the two
	// per-layer scratch regions. MaxEvalBytes caps regrowth; 0 = unlimited.
	EvalBytes    int
	ScratchBytes int
	MaxEvalBytes int

	LogLevel  string
	LogFormat string

	// FlightAddr, when set, streams generated tokens to an Arrow Flight
	// endpoint in addition to the local sink.
	FlightAddr string
}

func Default() Params {
	return Params{
		Threads:       runtime.NumCPU(),
		NCtx:          512,
		NBatch:        8,
		NPredict:      200,
		Seed:          -1,
		Temp:          0.8,
		TopK:          40,
		TopP:          0.9,
		RepeatLastN:   64,
		RepeatPenalty: 1.02,
		EvalBytes:     32 << 20,
		ScratchBytes:  32 << 20,
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

func (p *Params) Validate() error {
	if p.ModelPath == "" {
		return fmt.Errorf("model path is required")
	}
	if p.Threads <= 0 {
		return fmt.Errorf("invalid threads: %d (must be positive)", p.Threads)
	}
	if p.NCtx <= 0 {
		return fmt.Errorf("invalid n_ctx: %d (must be positive)", p.NCtx)
	}
	if p.NBatch <= 0 {
		return fmt.Errorf("invalid n_batch: %d (must be positive)", p.NBatch)
	}
	if p.NPredict < 0 {
		return fmt.Errorf("invalid n_predict: %d (must be non-negative)", p.NPredict)
	}
	if p.Temp < 0 {
		return fmt.Errorf("invalid temp: %f (must be non-negative)", p.Temp)
	}
	if p.TopK < 0 {
		return fmt.Errorf("invalid top_k: %d (must be non-negative)", p.TopK)
	}
	if p.TopP <= 0 || p.TopP > 1 {
		return fmt.Errorf("invalid top_p: %f (must be in (0, 1])", p.TopP)
	}
	if p.RepeatLastN < -1 {
		return fmt.Errorf("invalid repeat_last_n: %d", p.RepeatLastN)
	}
	if p.RepeatPenalty <= 0 {
		return fmt.Errorf("invalid repeat_penalty: %f (must be positive)", p.RepeatPenalty)
	}
	if p.EvalBytes <= 0 || p.ScratchBytes <= 0 {
		return fmt.Errorf("invalid scratch sizing: eval=%d scratch=%d", p.EvalBytes, p.ScratchBytes)
	}
	return nil
}

// Normalize resolves the sentinel values against the loaded model:
// top_k 0 means the whole vocabulary, repeat_last_n -1 means n_ctx.
func (p *Params) Normalize(nVocab, nCtx int) {
	if p.TopK == 0 {
		p.TopK = nVocab
	}
	if p.RepeatLastN == -1 {
		p.RepeatLastN = nCtx
	}
}
