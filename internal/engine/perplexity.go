package engine

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// Perplexity scores tokens against the model: the exponential of the mean
// negative log-likelihood of each token given its predecessors. Tokens are
// split into independent windows of n_ctx positions; the first position
// of each window has no prediction and is skipped.
func Perplexity(e *Engine, tokens []int, nBatch int) (float64, error) {
	if len(tokens) < 2 {
		return 0, fmt.Errorf("need at least 2 tokens, have %d", len(tokens))
	}
	nCtx := e.NCtx()
	nVocab := e.NVocab()

	var nll float64
	var count int
	for start := 0; start < len(tokens); start += nCtx {
		end := start + nCtx
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		if len(window) < 2 {
			break
		}

		// Fresh cache positions per window: evaluate in batches with
		// per-position logits.
		logits := make([]float32, 0, len(window)*nVocab)
		nPast := 0
		for off := 0; off < len(window); off += nBatch {
			batchEnd := off + nBatch
			if batchEnd > len(window) {
				batchEnd = len(window)
			}
			out, err := e.Forward(window[off:batchEnd], nPast, true)
			if err != nil {
				return 0, err
			}
			logits = append(logits, out...)
			nPast += batchEnd - off
		}

		// Score only the second half of the window: early positions have
		// too little context to be meaningful.
		for i := len(window) / 2; i+1 < len(window); i++ {
			row := make([]float32, nVocab)
			copy(row, logits[i*nVocab:(i+1)*nVocab])
			device.Softmax(row)
			p := float64(row[window[i+1]])
			if p <= 0 {
				p = math.SmallestNonzeroFloat64
			}
			nll -= math.Log(p)
			count++
		}
	}

	if count == 0 {
		return 0, fmt.Errorf("no scorable positions in %d tokens", len(tokens))
	}
	ppl := math.Exp(nll / float64(count))
	logger.Log.Info("perplexity computed", "tokens", len(tokens), "scored", count, "ppl", ppl)
	return ppl, nil
}
