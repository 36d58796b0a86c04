package model

import (
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/ggml"
	"github.com/23skdu/longbow-bodkin/internal/tokenizer"
)

// Hparams is the fixed-size header block at the front of the model file,
// in on-disk field order.
type Hparams struct {
	DModel       int32
	MaxSeqLen    int32
	NHeads       int32
	NLayers      int32
	NVocab       int32
	AlibiBiasMax float32
	ClipQKV      float32
	Ftype        int32

	// NCtx is the resolved context length: the configured value capped at
	// MaxSeqLen. Not part of the on-disk header.
	NCtx int32
}

// Layer holds the six weight tensors of one transformer block.
// MPT-style blocks carry no bias vectors.
type Layer struct {
	Norm1   *device.Tensor
	WQKV    *device.Tensor
	OutProj *device.Tensor
	Norm2   *device.Tensor
	FFNUp   *device.Tensor
	FFNDown *device.Tensor
}

// Model is a fully loaded network: weights, KV cache storage and vocabulary,
// all backed by one budgeted device context.
type Model struct {
	Hparams Hparams

	Wte    *device.Tensor
	NormF  *device.Tensor
	Layers []Layer

	// CacheK and CacheV hold n_layer * n_ctx rows of n_embd F16 values each.
	CacheK *device.Tensor
	CacheV *device.Tensor

	Vocab *tokenizer.Vocab

	ctx      *device.Context
	registry map[string]*device.Tensor
}

// Tensor looks up a weight tensor by its on-disk name. The KV cache tensors
// are not registered; they never appear in the file.
func (m *Model) Tensor(name string) (*device.Tensor, bool) {
	t, ok := m.registry[name]
	return t, ok
}

func (m *Model) MemUsed() int { return m.ctx.Used() }

// Field names of the per-layer and global tensors as they appear on disk.
const (
	FieldWte     = "wte"
	FieldNormF   = "norm_f"
	FieldNorm1   = "norm_1"
	FieldWQKV    = "attn.Wqkv"
	FieldOutProj = "attn.out_proj"
	FieldNorm2   = "norm_2"
	FieldFFNUp   = "ffn.up_proj"
	FieldFFNDown = "ffn.down_proj"
)

// TensorKey identifies one weight tensor structurally. Layer is -1 for
// the global tensors (wte, norm_f).
type TensorKey struct {
	Layer int
	Field string
}

func GlobalKey(field string) TensorKey       { return TensorKey{Layer: -1, Field: field} }
func LayerKey(l int, field string) TensorKey { return TensorKey{Layer: l, Field: field} }

// String renders the on-disk tensor name for this key.
func (k TensorKey) String() string {
	if k.Layer < 0 {
		return fmt.Sprintf("transformer.%s.weight", k.Field)
	}
	return fmt.Sprintf("transformer.blocks.%d.%s.weight", k.Layer, k.Field)
}

// register binds name to tensor in the lookup table used when streaming
// tensor records from the file.
func (m *Model) register(key TensorKey, t *device.Tensor) {
	if m.registry == nil {
		m.registry = make(map[string]*device.Tensor)
	}
	m.registry[key.String()] = t
}

// budget computes the exact device context size needed for the model's
// tensors before any allocation happens, so a corrupt header fails fast
// instead of over-allocating.
func (hp Hparams) budget(wtype ggml.Type) int {
	nEmbd := int(hp.DModel)
	nLayer := int(hp.NLayers)
	nCtx := int(hp.NCtx)
	nVocab := int(hp.NVocab)

	total := 0
	charge := func(t ggml.Type, nelems int) {
		total += align16(ggml.RowSize(t, nelems)) + device.TensorOverhead
	}

	charge(wtype, nEmbd*nVocab) // wte
	charge(ggml.TypeF32, nEmbd) // norm_f
	for i := 0; i < nLayer; i++ {
		charge(ggml.TypeF32, nEmbd)  // norm_1
		charge(wtype, 3*nEmbd*nEmbd) // attn.Wqkv
		charge(wtype, nEmbd*nEmbd)   // attn.out_proj
		charge(ggml.TypeF32, nEmbd)  // norm_2
		charge(wtype, 4*nEmbd*nEmbd) // ffn.up_proj
		charge(wtype, 4*nEmbd*nEmbd) // ffn.down_proj
	}
	charge(ggml.TypeF16, nLayer*nCtx*nEmbd) // cache k
	charge(ggml.TypeF16, nLayer*nCtx*nEmbd) // cache v
	return total
}

func align16(n int) int { return (n + 15) &^ 15 }
