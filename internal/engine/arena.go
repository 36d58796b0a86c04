package engine

import (
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Arena is a bump allocator for float32 working buffers. The engine owns
// one eval arena that regrows with the bytes-per-token estimate plus two
// fixed scratch regions reused across layers. Alloc past capacity is an
// evaluation error, not a panic.
type Arena struct {
	name string
	buf  []float32
	off  int
	high int
	max  int // element cap for regrowth, 0 = unlimited
}

func NewArena(name string, capBytes, maxBytes int) *Arena {
	a := &Arena{
		name: name,
		buf:  make([]float32, capBytes/4),
		max:  maxBytes / 4,
	}
	metrics.RecordScratch(name, capBytes)
	return a
}

// Alloc carves n float32s out of the arena. The slice is valid until the
// next Reset.
func (a *Arena) Alloc(n int) ([]float32, error) {
	if a.off+n > len(a.buf) {
		return nil, fmt.Errorf("%s arena exhausted: need %d floats, have %d of %d",
			a.name, n, len(a.buf)-a.off, len(a.buf))
	}
	s := a.buf[a.off : a.off+n : a.off+n]
	for i := range s {
		s[i] = 0
	}
	a.off += n
	if a.off > a.high {
		a.high = a.off
	}
	return s, nil
}

// Reset rewinds the arena; high-water tracking survives.
func (a *Arena) Reset() { a.off = 0 }

// HighWaterBytes reports the peak usage since creation, the input to the
// bytes-per-token estimate.
func (a *Arena) HighWaterBytes() int { return a.high * 4 }

func (a *Arena) CapBytes() int { return len(a.buf) * 4 }

// EnsureBytes regrows the arena to at least capBytes. Fails when the
// configured maximum would be exceeded. Outstanding allocations are
// invalidated, so callers regrow only between evaluations.
func (a *Arena) EnsureBytes(capBytes int) error {
	n := capBytes / 4
	if n <= len(a.buf) {
		return nil
	}
	if a.max > 0 && n > a.max {
		return fmt.Errorf("%s arena needs %d bytes, limit is %d", a.name, capBytes, a.max*4)
	}
	a.buf = make([]float32, n)
	a.off = 0
	metrics.RecordScratchRegrow(a.name, capBytes)
	return nil
}
