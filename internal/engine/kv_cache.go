package engine

import (
	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// CacheOffset maps (layer, pos) to the flat element index of that row in
// the K or V cache tensor. Rows are grouped per layer, n_ctx rows each,
// n_embd elements per row:
//
//	offset = (layer*nCtx + pos) * nEmbd
//
// Every cache read and write goes through this function so the layout is
// stated exactly once.
func CacheOffset(layer, pos, nCtx, nEmbd int) int {
	return (layer*nCtx + pos) * nEmbd
}

// kvCache wraps the model's F16 cache tensors with typed row access.
type kvCache struct {
	k, v  *device.Tensor
	nCtx  int
	nEmbd int
}

// store writes the key and value rows for one position of one layer.
func (c *kvCache) store(layer, pos int, krow, vrow []float32) {
	base := CacheOffset(layer, pos, c.nCtx, c.nEmbd)
	for i := 0; i < c.nEmbd; i++ {
		c.k.SetF16(base+i, krow[i])
		c.v.SetF16(base+i, vrow[i])
	}
}

// keyRow reads the cached key row for (layer, pos) into dst.
func (c *kvCache) keyRow(layer, pos int, dst []float32) []float32 {
	base := CacheOffset(layer, pos, c.nCtx, c.nEmbd)
	for i := 0; i < c.nEmbd; i++ {
		dst[i] = c.k.F16At(base + i)
	}
	return dst
}

// valueAt reads one element of the cached value row for (layer, pos).
func (c *kvCache) valueAt(layer, pos, i int) float32 {
	return c.v.F16At(CacheOffset(layer, pos, c.nCtx, c.nEmbd) + i)
}

// recordWrites reports cache telemetry after a batch of positions lands.
func (c *kvCache) recordWrites(nPast, rows int) {
	metrics.RecordKVWrite(nPast, rows)
}
