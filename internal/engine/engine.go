package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

// Engine evaluates the network on the CPU. It owns the scratch memory and
// the bytes-per-token estimate; the model is read-only shared state, the
// KV cache and arenas are not, so concurrent Forward calls on one Engine
// are not allowed.
type Engine struct {
	m       *model.Model
	threads int

	eval        *Arena
	scratchAttn *Arena
	scratchFFN  *Arena
	cache       kvCache

	// memPerToken is the measured eval bytes per token, zero until the
	// first Forward establishes it.
	memPerToken int

	slopes []float32
	norm1  [][]float32
	norm2  [][]float32
	normF  []float32
}

func New(m *model.Model, p config.Params) *Engine {
	hp := m.Hparams
	e := &Engine{
		m:           m,
		threads:     p.Threads,
		eval:        NewArena("eval", p.EvalBytes, p.MaxEvalBytes),
		scratchAttn: NewArena("attn", p.ScratchBytes, 0),
		scratchFFN:  NewArena("ffn", p.ScratchBytes, 0),
		cache: kvCache{
			k:     m.CacheK,
			v:     m.CacheV,
			nCtx:  int(hp.NCtx),
			nEmbd: int(hp.DModel),
		},
		slopes: alibiSlopes(int(hp.NHeads), hp.AlibiBiasMax),
		normF:  m.NormF.Float32s(),
	}
	for i := range m.Layers {
		e.norm1 = append(e.norm1, m.Layers[i].Norm1.Float32s())
		e.norm2 = append(e.norm2, m.Layers[i].Norm2.Float32s())
	}
	return e
}

func (e *Engine) NVocab() int { return int(e.m.Hparams.NVocab) }
func (e *Engine) NCtx() int   { return int(e.m.Hparams.NCtx) }

// alibiSlopes computes the per-head attention bias slopes. Head counts
// that are not powers of two interleave a second geometric series starting
// at the half-exponent base.
func alibiSlopes(nHead int, biasMax float32) []float32 {
	floor := 1
	for floor*2 <= nHead {
		floor *= 2
	}
	m0 := math.Pow(2.0, -float64(biasMax)/float64(floor))
	m1 := math.Pow(2.0, -float64(biasMax)/float64(2*floor))

	slopes := make([]float32, nHead)
	for h := 0; h < nHead; h++ {
		if h < floor {
			slopes[h] = float32(math.Pow(m0, float64(h+1)))
		} else {
			slopes[h] = float32(math.Pow(m1, float64(2*(h-floor)+1)))
		}
	}
	return slopes
}

// Forward evaluates tokens with nPast positions already in the KV cache.
// It returns logits for the last position, or for every position when
// logitsAll is set. The returned slice is owned by the caller.
func (e *Engine) Forward(tokens []int, nPast int, logitsAll bool) ([]float32, error) {
	hp := e.m.Hparams
	n := len(tokens)
	nEmbd := int(hp.DModel)
	nVocab := int(hp.NVocab)

	if n == 0 {
		return nil, fmt.Errorf("empty token batch")
	}
	if nPast+n > int(hp.NCtx) {
		return nil, fmt.Errorf("context overflow: n_past %d + batch %d exceeds n_ctx %d",
			nPast, n, hp.NCtx)
	}
	for _, id := range tokens {
		if id < 0 || id >= nVocab {
			return nil, fmt.Errorf("token id %d out of vocabulary range [0, %d)", id, nVocab)
		}
	}

	start := time.Now()
	if e.memPerToken > 0 {
		need := int(1.1 * float64(e.memPerToken*n))
		if err := e.eval.EnsureBytes(need); err != nil {
			return nil, err
		}
	}
	e.eval.Reset()

	inpL, err := e.eval.Alloc(n * nEmbd)
	if err != nil {
		return nil, err
	}
	for i, id := range tokens {
		e.m.Wte.Row(id, inpL[i*nEmbd:(i+1)*nEmbd])
	}
	cur, err := e.eval.Alloc(n * nEmbd)
	if err != nil {
		return nil, err
	}

	for l := 0; l < int(hp.NLayers); l++ {
		if err := e.layerAttention(l, inpL, cur, n, nPast); err != nil {
			return nil, err
		}
		if err := e.layerFFN(l, inpL, cur, n); err != nil {
			return nil, err
		}
	}

	device.Norm(cur, inpL, nEmbd)
	device.MulRows(cur, e.normF)

	rows := 1
	x := cur[(n-1)*nEmbd:]
	if logitsAll {
		rows = n
		x = cur
	}
	logitsBuf, err := e.eval.Alloc(rows * nVocab)
	if err != nil {
		return nil, err
	}
	device.MatMul(e.m.Wte, x, rows, logitsBuf, e.threads)

	if e.memPerToken == 0 {
		e.memPerToken = e.eval.HighWaterBytes() / n
		logger.Log.Debug("eval memory measured", "bytes_per_token", e.memPerToken)
	}
	metrics.RecordEval(n, time.Since(start))

	logits := make([]float32, len(logitsBuf))
	copy(logits, logitsBuf)
	return logits, nil
}

// layerAttention runs pre-norm attention for layer l and adds the result
// into inpL. cur is an n*nEmbd work row owned by the eval arena.
func (e *Engine) layerAttention(l int, inpL, cur []float32, n, nPast int) error {
	hp := e.m.Hparams
	nEmbd := int(hp.DModel)
	nHead := int(hp.NHeads)
	headDim := nEmbd / nHead
	layer := &e.m.Layers[l]

	e.scratchAttn.Reset()

	device.Norm(cur, inpL, nEmbd)
	device.MulRows(cur, e.norm1[l])

	qkv, err := e.scratchAttn.Alloc(n * 3 * nEmbd)
	if err != nil {
		return err
	}
	device.MatMul(layer.WQKV, cur, n, qkv, e.threads)
	if hp.ClipQKV > 0 {
		device.Clamp(qkv, hp.ClipQKV)
	}

	for i := 0; i < n; i++ {
		row := qkv[i*3*nEmbd:]
		e.cache.store(l, nPast+i, row[nEmbd:2*nEmbd], row[2*nEmbd:3*nEmbd])
	}
	e.cache.recordWrites(nPast+n, n)

	attnOut, err := e.scratchAttn.Alloc(n * nEmbd)
	if err != nil {
		return err
	}
	scores, err := e.scratchAttn.Alloc(nPast + n)
	if err != nil {
		return err
	}
	keyBuf, err := e.scratchAttn.Alloc(nEmbd)
	if err != nil {
		return err
	}

	invScale := float32(1.0 / math.Sqrt(float64(headDim)))
	for i := 0; i < n; i++ {
		span := nPast + i + 1 // causal: keys up to and including this position
		q := qkv[i*3*nEmbd : i*3*nEmbd+nEmbd]
		for h := 0; h < nHead; h++ {
			qh := q[h*headDim : (h+1)*headDim]
			for j := 0; j < span; j++ {
				e.cache.keyRow(l, j, keyBuf)
				kh := keyBuf[h*headDim : (h+1)*headDim]
				scores[j] = device.Dot(qh, kh)*invScale + e.slopes[h]*float32(j)
			}
			device.Softmax(scores[:span])
			for d := 0; d < headDim; d++ {
				var sum float32
				for j := 0; j < span; j++ {
					sum += scores[j] * e.cache.valueAt(l, j, h*headDim+d)
				}
				attnOut[i*nEmbd+h*headDim+d] = sum
			}
		}
	}

	proj, err := e.scratchAttn.Alloc(n * nEmbd)
	if err != nil {
		return err
	}
	device.MatMul(layer.OutProj, attnOut, n, proj, e.threads)
	device.Add(inpL, proj)
	return nil
}

// layerFFN runs the pre-norm feed-forward block for layer l and adds the
// result into inpL.
func (e *Engine) layerFFN(l int, inpL, cur []float32, n int) error {
	nEmbd := int(e.m.Hparams.DModel)
	layer := &e.m.Layers[l]

	e.scratchFFN.Reset()

	device.Norm(cur, inpL, nEmbd)
	device.MulRows(cur, e.norm2[l])

	up, err := e.scratchFFN.Alloc(n * 4 * nEmbd)
	if err != nil {
		return err
	}
	device.MatMul(layer.FFNUp, cur, n, up, e.threads)
	device.GELU(up)

	down, err := e.scratchFFN.Alloc(n * nEmbd)
	if err != nil {
		return err
	}
	device.MatMul(layer.FFNDown, up, n, down, e.threads)
	device.Add(inpL, down)
	return nil
}
