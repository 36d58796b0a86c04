package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

func newTestLoop(t *testing.T, p config.Params, sinks ...TokenSink) (*Loop, *model.Model) {
	t.Helper()
	m := testModel(t)
	p.Normalize(int(m.Hparams.NVocab), int(m.Hparams.NCtx))
	e := New(m, p)
	return NewLoop(e, NewSampler(p), m.Vocab, p, sinks...), m
}

func TestRunDeterministic(t *testing.T) {
	p := testParams()
	p.NPredict = 6

	run := func() []int {
		loop, _ := newTestLoop(t, p)
		res, err := loop.Run(context.Background(), []int{1, 2, 3})
		if err != nil {
			t.Fatal(err)
		}
		return res.Generated
	}

	a := run()
	b := run()
	if len(a) == 0 {
		t.Fatal("no tokens generated")
	}
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("token %d diverged: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestRunRespectsNPredict(t *testing.T) {
	p := testParams()
	p.NPredict = 4
	p.Temp = 0 // greedy, no chance of early EOS ending the check trivially
	loop, _ := newTestLoop(t, p)
	res, err := loop.Run(context.Background(), []int{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Generated) > 4 {
		t.Errorf("generated %d tokens, budget was 4", len(res.Generated))
	}
	if res.State != StateDone {
		t.Errorf("state = %v, want done", res.State)
	}
}

func TestRunStopsOnEOS(t *testing.T) {
	p := testParams()
	p.NPredict = 12
	p.Temp = 0
	loop, _ := newTestLoop(t, p)
	res, err := loop.Run(context.Background(), []int{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	for i, id := range res.Generated {
		if id == EOSToken && i != len(res.Generated)-1 {
			t.Fatalf("generation continued past EOS at %d", i)
		}
	}
}

func TestRunFillsContextExactly(t *testing.T) {
	// A run needs prompt + NPredict - 1 positions: the last sampled token
	// ends the run without another forward pass. With nCtx 16 this budget
	// lands exactly on the cache boundary and must not overflow.
	p := testParams()
	p.NPredict = 14
	p.Temp = 0
	loop, _ := newTestLoop(t, p)
	res, err := loop.Run(context.Background(), []int{1, 2, 3})
	if err != nil {
		t.Fatalf("run at full context budget failed: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %v, want done", res.State)
	}
	if len(res.Generated) > 14 {
		t.Errorf("generated %d tokens, budget was 14", len(res.Generated))
	}
}

func TestRunSinkObservesAllTokens(t *testing.T) {
	p := testParams()
	p.NPredict = 3

	type seen struct {
		id        int
		text      string
		generated bool
	}
	var got []seen
	sink := SinkFunc(func(id int, text string, generated bool) error {
		got = append(got, seen{id, text, generated})
		return nil
	})

	loop, m := newTestLoop(t, p, sink)
	prompt := []int{1, 2}
	res, err := loop.Run(context.Background(), prompt)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != len(prompt)+len(res.Generated) {
		t.Fatalf("sink saw %d tokens, want %d", len(got), len(prompt)+len(res.Generated))
	}
	for i := range prompt {
		if got[i].generated {
			t.Errorf("prompt token %d flagged as generated", i)
		}
		if got[i].text != m.Vocab.Token(prompt[i]) {
			t.Errorf("token %d text %q, want %q", i, got[i].text, m.Vocab.Token(prompt[i]))
		}
	}
	for i := len(prompt); i < len(got); i++ {
		if !got[i].generated {
			t.Errorf("generated token %d not flagged", i)
		}
	}
}

func TestRunSinkErrorAborts(t *testing.T) {
	p := testParams()
	p.NPredict = 10
	sinkErr := errors.New("downstream full")
	sink := SinkFunc(func(id int, text string, generated bool) error {
		return sinkErr
	})
	loop, _ := newTestLoop(t, p, sink)
	_, err := loop.Run(context.Background(), []int{1, 2})
	if !errors.Is(err, sinkErr) {
		t.Fatalf("err = %v, want wrapped sink error", err)
	}
}

func TestRunEmptyPrompt(t *testing.T) {
	loop, _ := newTestLoop(t, testParams())
	if _, err := loop.Run(context.Background(), nil); err == nil {
		t.Fatal("empty prompt should fail")
	}
}

func TestRunCancelled(t *testing.T) {
	p := testParams()
	p.NPredict = 10
	loop, _ := newTestLoop(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loop.Run(ctx, []int{1, 2}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWarmup(t *testing.T) {
	loop, _ := newTestLoop(t, testParams())
	if err := loop.Warmup(); err != nil {
		t.Fatal(err)
	}
}

func TestPushWindow(t *testing.T) {
	w := []int{0, 0, 0}
	pushWindow(w, 5)
	pushWindow(w, 7)
	if w[0] != 0 || w[1] != 5 || w[2] != 7 {
		t.Errorf("window = %v", w)
	}
	pushWindow(w, 9)
	pushWindow(w, 11)
	if w[0] != 7 || w[1] != 9 || w[2] != 11 {
		t.Errorf("window = %v, oldest entry should drop first", w)
	}
	pushWindow(nil, 1) // zero-length window is a no-op
}

func TestStateString(t *testing.T) {
	if StateConsumingPrompt.String() != "consuming_prompt" ||
		StateGenerating.String() != "generating" ||
		StateDone.String() != "done" {
		t.Error("state names changed")
	}
}
