package flightexport

import (
	"context"
)

// Sink buffers tokens from a generation run and exports them in batches
// of flushEvery tokens. It implements the decode loop's token observer;
// callers flush once the run ends.
type Sink struct {
	ctx        context.Context
	exp        Exporter
	runID      string
	flushEvery int

	pos int
	buf TokenBatch
}

func NewSink(ctx context.Context, exp Exporter, runID string, flushEvery int) *Sink {
	if flushEvery <= 0 {
		flushEvery = 32
	}
	return &Sink{
		ctx:        ctx,
		exp:        exp,
		runID:      runID,
		flushEvery: flushEvery,
		buf:        TokenBatch{RunID: runID},
	}
}

func (s *Sink) OnToken(id int, text string, generated bool) error {
	s.buf.Positions = append(s.buf.Positions, int32(s.pos))
	s.buf.IDs = append(s.buf.IDs, int32(id))
	s.buf.Texts = append(s.buf.Texts, text)
	s.buf.Generated = append(s.buf.Generated, generated)
	s.pos++
	if s.buf.Len() >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

// Flush exports the buffered tokens, if any.
func (s *Sink) Flush() error {
	if s.buf.Len() == 0 {
		return nil
	}
	batch := s.buf
	s.buf = TokenBatch{RunID: s.runID}
	return s.exp.Export(s.ctx, batch)
}
