package engine

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Sampler turns a logit vector into a token id. The stages run in a fixed
// order: repetition penalty, temperature, top-k, softmax, top-p, then a
// seeded draw, so the same seed and logits always produce the same token.
type Sampler struct {
	rng           *rand.Rand
	temp          float64
	topK          int
	topP          float64
	repeatPenalty float64
}

// NewSampler builds a sampler from normalized params. A negative seed is
// replaced with the current time.
func NewSampler(p config.Params) *Sampler {
	seed := p.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{
		rng:           rand.New(rand.NewSource(seed)),
		temp:          p.Temp,
		topK:          p.TopK,
		topP:          p.TopP,
		repeatPenalty: p.RepeatPenalty,
	}
}

type candidate struct {
	id    int
	logit float32
}

// Sample draws one token. recent is the rolling window of prior token ids
// subject to the repetition penalty; it may contain duplicates.
func (s *Sampler) Sample(logits []float32, recent []int) int {
	start := time.Now()
	defer func() { metrics.RecordSample(time.Since(start)) }()

	work := make([]float32, len(logits))
	copy(work, logits)

	if s.repeatPenalty != 1.0 {
		// Penalize each distinct id once, however often it recurs in
		// the window.
		seen := make(map[int]struct{}, len(recent))
		for _, id := range recent {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if work[id] > 0 {
				work[id] /= float32(s.repeatPenalty)
			} else {
				work[id] *= float32(s.repeatPenalty)
			}
		}
	}

	if s.temp == 0 {
		return argmax(work)
	}

	invTemp := float32(1.0 / s.temp)
	cands := make([]candidate, len(work))
	for i, v := range work {
		cands[i] = candidate{id: i, logit: v * invTemp}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		return cands[a].logit > cands[b].logit
	})
	if s.topK < len(cands) {
		cands = cands[:s.topK]
	}

	probs := softmaxCandidates(cands)

	if s.topP < 1.0 {
		var cum float64
		cut := len(cands)
		for i, p := range probs {
			cum += p
			if cum >= s.topP {
				cut = i + 1
				break
			}
		}
		cands = cands[:cut]
		probs = probs[:cut]
		inv := 1.0 / cum
		for i := range probs {
			probs[i] *= inv
		}
	}

	r := s.rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r < cum {
			return cands[i].id
		}
	}
	return cands[len(cands)-1].id
}

// argmax returns the index of the largest logit, preferring the lowest id
// on exact ties.
func argmax(logits []float32) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}

func softmaxCandidates(cands []candidate) []float64 {
	maxLogit := cands[0].logit
	for _, c := range cands {
		if c.logit > maxLogit {
			maxLogit = c.logit
		}
	}
	probs := make([]float64, len(cands))
	var sum float64
	for i, c := range cands {
		probs[i] = math.Exp(float64(c.logit - maxLogit))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
