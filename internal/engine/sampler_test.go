package engine

import (
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/config"
)

func samplerParams() config.Params {
	p := config.Default()
	p.Seed = 42
	return p
}

func TestSampleGreedy(t *testing.T) {
	p := samplerParams()
	p.Temp = 0
	p.RepeatPenalty = 1.0
	s := NewSampler(p)
	logits := []float32{0.1, 2.0, -1.0, 0.5}
	if got := s.Sample(logits, nil); got != 1 {
		t.Errorf("greedy picked %d, want 1", got)
	}
}

func TestSampleGreedyTieLowestID(t *testing.T) {
	p := samplerParams()
	p.Temp = 0
	p.RepeatPenalty = 1.0
	s := NewSampler(p)
	logits := []float32{0.5, 2.0, 2.0, 2.0}
	if got := s.Sample(logits, nil); got != 1 {
		t.Errorf("tie broke to %d, want lowest id 1", got)
	}
}

func TestSampleRepetitionPenalty(t *testing.T) {
	p := samplerParams()
	p.Temp = 0
	p.RepeatPenalty = 2.0
	s := NewSampler(p)
	// id 1 leads but was seen recently; halving drops it below id 2
	logits := []float32{0.1, 2.0, 1.5}
	if got := s.Sample(logits, []int{1}); got != 2 {
		t.Errorf("penalized sample = %d, want 2", got)
	}
}

func TestSampleRepetitionPenaltyNegativeLogit(t *testing.T) {
	p := samplerParams()
	p.Temp = 0
	p.RepeatPenalty = 2.0
	s := NewSampler(p)
	// negative logits are multiplied, pushing them further down
	logits := []float32{-0.7, -0.4}
	if got := s.Sample(logits, []int{1}); got != 0 {
		t.Errorf("sample = %d, want 0 after -0.4 doubles to -0.8", got)
	}
}

func TestSampleRepetitionPenaltyOncePerID(t *testing.T) {
	p := samplerParams()
	p.Temp = 0
	p.RepeatPenalty = 1.1
	s := NewSampler(p)
	// a zero-filled 64-slot window must penalize id 0 exactly once:
	// 2.2/1.1 = 2.0 still beats 1.9, while compounding per occurrence
	// would crush id 0 to ~2.2/1.1^64
	recent := make([]int, 64)
	logits := []float32{2.2, 1.9}
	if got := s.Sample(logits, recent); got != 0 {
		t.Errorf("sample = %d, want 0 (penalty applied once per distinct id)", got)
	}
}

func TestSampleTopKOne(t *testing.T) {
	p := samplerParams()
	p.Temp = 0.8
	p.TopK = 1
	p.TopP = 1.0
	p.RepeatPenalty = 1.0
	s := NewSampler(p)
	logits := []float32{0.1, 3.0, 0.2, 0.3}
	for i := 0; i < 20; i++ {
		if got := s.Sample(logits, nil); got != 1 {
			t.Fatalf("top_k=1 drew %d on trial %d, want 1", got, i)
		}
	}
}

func TestSampleTopPNarrow(t *testing.T) {
	p := samplerParams()
	p.Temp = 1.0
	p.TopK = 40
	p.TopP = 0.1 // nucleus collapses to the single top candidate
	p.RepeatPenalty = 1.0
	s := NewSampler(p)
	logits := []float32{0.0, 5.0, 0.1, 0.2}
	for i := 0; i < 20; i++ {
		if got := s.Sample(logits, nil); got != 1 {
			t.Fatalf("top_p=0.1 drew %d, want 1", got)
		}
	}
}

func TestSampleSeedDeterminism(t *testing.T) {
	logits := []float32{1.0, 1.1, 0.9, 1.05, 0.8}
	p := samplerParams()
	p.Temp = 1.0
	p.RepeatPenalty = 1.0

	a := NewSampler(p)
	b := NewSampler(p)
	for i := 0; i < 50; i++ {
		x := a.Sample(logits, nil)
		y := b.Sample(logits, nil)
		if x != y {
			t.Fatalf("trial %d diverged: %d vs %d", i, x, y)
		}
	}
}

func TestSampleDoesNotMutateLogits(t *testing.T) {
	p := samplerParams()
	p.Temp = 0
	p.RepeatPenalty = 2.0
	s := NewSampler(p)
	logits := []float32{1.0, 2.0}
	s.Sample(logits, []int{1})
	if logits[1] != 2.0 {
		t.Errorf("caller logits mutated: %f", logits[1])
	}
}
