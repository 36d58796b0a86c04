package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/tokenizer"
)

// EOSToken is the end-of-sequence id; sampling it ends generation.
const EOSToken = 0

type State int

const (
	StateConsumingPrompt State = iota
	StateGenerating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConsumingPrompt:
		return "consuming_prompt"
	case StateGenerating:
		return "generating"
	default:
		return "done"
	}
}

// TokenSink observes every token the loop processes. generated is false
// while the prompt is being consumed. A sink error aborts the run.
type TokenSink interface {
	OnToken(id int, text string, generated bool) error
}

// SinkFunc adapts a function to the TokenSink interface.
type SinkFunc func(id int, text string, generated bool) error

func (f SinkFunc) OnToken(id int, text string, generated bool) error {
	return f(id, text, generated)
}

// Result summarizes one completed generation run.
type Result struct {
	Prompt    []int
	Generated []int
	State     State

	PromptDuration   time.Duration
	GenerateDuration time.Duration
}

// Loop drives prompt consumption and token generation over one engine.
type Loop struct {
	engine  *Engine
	sampler *Sampler
	vocab   *tokenizer.Vocab
	params  config.Params
	sinks   []TokenSink
}

func NewLoop(e *Engine, s *Sampler, v *tokenizer.Vocab, p config.Params, sinks ...TokenSink) *Loop {
	return &Loop{engine: e, sampler: s, vocab: v, params: p, sinks: sinks}
}

// Warmup runs one small throwaway evaluation so the bytes-per-token
// estimate exists before the first real batch.
func (l *Loop) Warmup() error {
	_, err := l.engine.Forward([]int{0, 1, 2, 3}, 0, false)
	return err
}

// Run consumes prompt and generates up to n_predict tokens, feeding every
// token to the attached sinks. The context cancels between evaluations.
func (l *Loop) Run(ctx context.Context, prompt []int) (Result, error) {
	if len(prompt) == 0 {
		return Result{}, fmt.Errorf("empty prompt")
	}
	log := logger.Log.With("decode")

	res := Result{Prompt: prompt, State: StateConsumingPrompt}

	// Rolling window for the repetition penalty, zero-filled so early
	// sampling sees a full window.
	window := make([]int, l.params.RepeatLastN)

	var (
		pending   []int
		logits    []float32
		nPast     int
		consumed  int
		remaining = l.params.NPredict
		startGen  time.Time
	)
	startPrompt := time.Now()

	for res.State != StateDone {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if len(pending) > 0 {
			out, err := l.engine.Forward(pending, nPast, false)
			if err != nil {
				return res, fmt.Errorf("evaluation failed at position %d: %w", nPast, err)
			}
			logits = out
			nPast += len(pending)
			pending = pending[:0]
		}

		if consumed < len(prompt) {
			for consumed < len(prompt) && len(pending) < l.params.NBatch {
				id := prompt[consumed]
				pending = append(pending, id)
				pushWindow(window, id)
				if err := l.emit(id, false); err != nil {
					return res, err
				}
				consumed++
			}
			if consumed == len(prompt) {
				res.PromptDuration = time.Since(startPrompt)
				res.State = StateGenerating
				startGen = time.Now()
			}
			continue
		}

		if remaining <= 0 {
			res.State = StateDone
			break
		}

		id := l.sampler.Sample(logits, window)
		pushWindow(window, id)
		pending = append(pending, id)
		res.Generated = append(res.Generated, id)
		remaining--
		if err := l.emit(id, true); err != nil {
			return res, err
		}
		// The budget-exhausting or EOS token ends the run before it is
		// ever evaluated; feeding it back would waste a forward pass and
		// can overflow the context one position past a full run.
		if id == EOSToken || remaining <= 0 {
			res.State = StateDone
		}
	}

	if !startGen.IsZero() {
		res.GenerateDuration = time.Since(startGen)
	}

	perToken := time.Duration(0)
	if len(res.Generated) > 0 {
		perToken = res.GenerateDuration / time.Duration(len(res.Generated))
	}
	log.Info("generation finished",
		"prompt_tokens", len(prompt),
		"generated_tokens", len(res.Generated),
		"prompt_time", res.PromptDuration.String(),
		"generate_time", res.GenerateDuration.String(),
		"per_token", perToken.String(),
	)
	return res, nil
}

func (l *Loop) emit(id int, generated bool) error {
	text := l.vocab.Token(id)
	for _, s := range l.sinks {
		if err := s.OnToken(id, text, generated); err != nil {
			return fmt.Errorf("token sink: %w", err)
		}
	}
	return nil
}

// pushWindow shifts the FIFO penalty window left and appends id.
func pushWindow(window []int, id int) {
	if len(window) == 0 {
		return
	}
	copy(window, window[1:])
	window[len(window)-1] = id
}
