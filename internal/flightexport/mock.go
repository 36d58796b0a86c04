package flightexport

import (
	"context"
	"fmt"
	"sync"
)

// MemoryExporter collects batches in memory. Used in tests and when no
// flight endpoint is configured but a caller still wants the batches.
type MemoryExporter struct {
	mu      sync.RWMutex
	closed  bool
	batches []TokenBatch
}

func NewMemoryExporter() *MemoryExporter {
	return &MemoryExporter{}
}

func (m *MemoryExporter) Export(ctx context.Context, batch TokenBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("exporter closed")
	}
	m.batches = append(m.batches, batch)
	return nil
}

func (m *MemoryExporter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Batches returns a snapshot of everything exported so far.
func (m *MemoryExporter) Batches() []TokenBatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TokenBatch, len(m.batches))
	copy(out, m.batches)
	return out
}
