package config

import (
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	p := Default()
	p.ModelPath = "model.bin"
	if err := p.Validate(); err != nil {
		t.Fatalf("default params should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
		want   string
	}{
		{"missing model", func(p *Params) { p.ModelPath = "" }, "model path"},
		{"zero threads", func(p *Params) { p.Threads = 0 }, "threads"},
		{"negative ctx", func(p *Params) { p.NCtx = -1 }, "n_ctx"},
		{"zero batch", func(p *Params) { p.NBatch = 0 }, "n_batch"},
		{"negative predict", func(p *Params) { p.NPredict = -1 }, "n_predict"},
		{"negative temp", func(p *Params) { p.Temp = -0.1 }, "temp"},
		{"bad top_p", func(p *Params) { p.TopP = 1.5 }, "top_p"},
		{"bad repeat_last_n", func(p *Params) { p.RepeatLastN = -2 }, "repeat_last_n"},
		{"zero penalty", func(p *Params) { p.RepeatPenalty = 0 }, "repeat_penalty"},
		{"zero eval bytes", func(p *Params) { p.EvalBytes = 0 }, "scratch sizing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Default()
			p.ModelPath = "model.bin"
			tc.mutate(&p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	p := Default()
	p.TopK = 0
	p.RepeatLastN = -1
	p.Normalize(50432, 256)
	if p.TopK != 50432 {
		t.Errorf("top_k = %d, want full vocab", p.TopK)
	}
	if p.RepeatLastN != 256 {
		t.Errorf("repeat_last_n = %d, want n_ctx", p.RepeatLastN)
	}
}

func TestTempZeroAllowed(t *testing.T) {
	p := Default()
	p.ModelPath = "model.bin"
	p.Temp = 0
	if err := p.Validate(); err != nil {
		t.Fatalf("temp 0 (greedy) should validate: %v", err)
	}
}
