package model

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/ggml"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tokenizer"
)

// loadLog resolves the component logger at call time so Setup reconfiguration
// in main is picked up.
func loadLog() *logger.Logger { return logger.Log.With("loader") }

// Load reads a ggml model file from path. nCtx is the requested context
// length; the effective value is capped at the model's max_seq_len.
//
// The load is fail-fast: header, vocabulary and every tensor record are
// validated against the analytic memory budget before and during streaming,
// and the first inconsistency aborts with an error naming the tensor.
func Load(path string, nCtx int) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	start := time.Now()
	m, err := read(bufio.NewReaderSize(f, 1<<20), nCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to load model from %q: %w", path, err)
	}

	metrics.RecordModelLoad(int64(m.MemUsed()), len(m.registry), time.Since(start))
	loadLog().Info("model loaded",
		"path", path,
		"n_embd", m.Hparams.DModel,
		"n_layer", m.Hparams.NLayers,
		"n_vocab", m.Hparams.NVocab,
		"n_ctx", m.Hparams.NCtx,
		"mem_bytes", m.MemUsed(),
		"duration", time.Since(start).String(),
	)
	return m, nil
}

func read(r *bufio.Reader, nCtx int) (*Model, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if magic != ggml.FileMagic {
		return nil, ggml.ErrInvalidMagic{Magic: magic}
	}

	var hp Hparams
	for _, field := range []interface{}{
		&hp.DModel, &hp.MaxSeqLen, &hp.NHeads, &hp.NLayers, &hp.NVocab,
		&hp.AlibiBiasMax, &hp.ClipQKV, &hp.Ftype,
	} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("reading hparams: %w", err)
		}
	}
	if hp.DModel <= 0 || hp.NHeads <= 0 || hp.NLayers <= 0 || hp.NVocab <= 0 || hp.MaxSeqLen <= 0 {
		return nil, fmt.Errorf("invalid hparams: d_model=%d max_seq_len=%d n_heads=%d n_layers=%d n_vocab=%d",
			hp.DModel, hp.MaxSeqLen, hp.NHeads, hp.NLayers, hp.NVocab)
	}
	if hp.DModel%hp.NHeads != 0 {
		return nil, fmt.Errorf("d_model %d not divisible by n_heads %d", hp.DModel, hp.NHeads)
	}

	hp.NCtx = int32(nCtx)
	if hp.NCtx > hp.MaxSeqLen {
		hp.NCtx = hp.MaxSeqLen
	}

	qntVersion := hp.Ftype / ggml.QntVersionFactor
	hp.Ftype %= ggml.QntVersionFactor
	wtype := ggml.FtypeToType(ggml.Ftype(hp.Ftype))
	if wtype == ggml.TypeCount {
		return nil, ggml.ErrBadFtype{Ftype: hp.Ftype}
	}

	loadLog().Debug("header",
		"d_model", hp.DModel,
		"max_seq_len", hp.MaxSeqLen,
		"n_heads", hp.NHeads,
		"n_layers", hp.NLayers,
		"n_vocab", hp.NVocab,
		"alibi_bias_max", hp.AlibiBiasMax,
		"clip_qkv", hp.ClipQKV,
		"ftype", hp.Ftype,
		"qnt_version", qntVersion,
		"wtype", wtype.String(),
	)

	vocab, err := readVocab(r, int(hp.NVocab))
	if err != nil {
		return nil, err
	}

	m := &Model{Hparams: hp, Vocab: vocab}
	if err := m.allocate(wtype); err != nil {
		return nil, err
	}
	if err := m.readTensors(r); err != nil {
		return nil, err
	}
	return m, nil
}

func readVocab(r *bufio.Reader, n int) (*tokenizer.Vocab, error) {
	vocab := tokenizer.NewVocab(n)
	for i := 0; i < n; i++ {
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("reading vocab entry %d: %w", i, err)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading vocab entry %d: %w", i, err)
		}
		vocab.Add(i, tokenizer.TranscodeToken(buf))
	}
	return vocab, nil
}

// allocate sizes the device context analytically, creates every weight
// tensor plus the KV cache, and registers the weights by on-disk name.
func (m *Model) allocate(wtype ggml.Type) error {
	hp := m.Hparams
	nEmbd := int(hp.DModel)
	nLayer := int(hp.NLayers)
	nCtx := int(hp.NCtx)
	nVocab := int(hp.NVocab)

	m.ctx = device.NewContext(hp.budget(wtype))

	var err error
	alloc2D := func(key TensorKey, t ggml.Type, ne0, ne1 int) *device.Tensor {
		if err != nil {
			return nil
		}
		var tns *device.Tensor
		tns, err = m.ctx.NewTensor2D(t, ne0, ne1)
		if err != nil {
			err = fmt.Errorf("allocating %s: %w", key, err)
			return nil
		}
		m.register(key, tns)
		return tns
	}
	alloc1D := func(key TensorKey, ne0 int) *device.Tensor {
		if err != nil {
			return nil
		}
		var tns *device.Tensor
		tns, err = m.ctx.NewTensor1D(ggml.TypeF32, ne0)
		if err != nil {
			err = fmt.Errorf("allocating %s: %w", key, err)
			return nil
		}
		m.register(key, tns)
		return tns
	}

	m.Wte = alloc2D(GlobalKey(FieldWte), wtype, nEmbd, nVocab)
	m.NormF = alloc1D(GlobalKey(FieldNormF), nEmbd)

	m.Layers = make([]Layer, nLayer)
	for i := range m.Layers {
		l := &m.Layers[i]
		l.Norm1 = alloc1D(LayerKey(i, FieldNorm1), nEmbd)
		l.WQKV = alloc2D(LayerKey(i, FieldWQKV), wtype, nEmbd, 3*nEmbd)
		l.OutProj = alloc2D(LayerKey(i, FieldOutProj), wtype, nEmbd, nEmbd)
		l.Norm2 = alloc1D(LayerKey(i, FieldNorm2), nEmbd)
		l.FFNUp = alloc2D(LayerKey(i, FieldFFNUp), wtype, nEmbd, 4*nEmbd)
		l.FFNDown = alloc2D(LayerKey(i, FieldFFNDown), wtype, 4*nEmbd, nEmbd)
	}
	if err != nil {
		return err
	}

	nCache := nLayer * nCtx * nEmbd
	if m.CacheK, err = m.ctx.NewTensor1D(ggml.TypeF16, nCache); err != nil {
		return fmt.Errorf("allocating kv cache: %w", err)
	}
	if m.CacheV, err = m.ctx.NewTensor1D(ggml.TypeF16, nCache); err != nil {
		return fmt.Errorf("allocating kv cache: %w", err)
	}
	loadLog().Debug("memory reserved", "bytes", m.ctx.Used(), "tensors", m.ctx.Tensors())
	return nil
}

// readTensors streams {header, name, payload} records until EOF, matching
// each against the pre-allocated registry.
func (m *Model) readTensors(r *bufio.Reader) error {
	var totalBytes int64
	for {
		var nDims, nameLen, typeCode int32
		if err := binary.Read(r, binary.LittleEndian, &nDims); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("reading tensor header: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return fmt.Errorf("reading tensor header: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &typeCode); err != nil {
			return fmt.Errorf("reading tensor header: %w", err)
		}
		if nDims < 1 || nDims > 2 {
			return fmt.Errorf("unsupported tensor rank %d in model file", nDims)
		}

		ne := [2]int32{1, 1}
		nelements := 1
		for i := int32(0); i < nDims; i++ {
			if err := binary.Read(r, binary.LittleEndian, &ne[i]); err != nil {
				return fmt.Errorf("reading tensor dims: %w", err)
			}
			nelements *= int(ne[i])
		}

		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return fmt.Errorf("reading tensor name: %w", err)
		}
		name := string(nameBuf)

		tensor, ok := m.registry[name]
		if !ok {
			return fmt.Errorf("unknown tensor '%s' in model file", name)
		}
		if tensor.NElements() != nelements {
			return fmt.Errorf("tensor '%s' has wrong size in model file", name)
		}
		if int(ne[0]) != tensor.NE(0) || int(ne[1]) != tensor.NE(1) {
			return fmt.Errorf("tensor '%s' has wrong shape in model file: got [%d, %d], expected [%d, %d]",
				name, ne[0], ne[1], tensor.NE(0), tensor.NE(1))
		}

		ttype := ggml.Type(typeCode)
		if ggml.BlockSize(ttype) == 0 {
			return fmt.Errorf("tensor '%s' has unknown type %d in model file", name, typeCode)
		}
		if ggml.RowSize(ttype, nelements) != tensor.NBytes() {
			return fmt.Errorf("tensor '%s' has wrong size in model file: got %d, expected %d",
				name, ggml.RowSize(ttype, nelements), tensor.NBytes())
		}

		if _, err := io.ReadFull(r, tensor.Data()); err != nil {
			return fmt.Errorf("reading tensor '%s' data: %w", name, err)
		}
		totalBytes += int64(tensor.NBytes())
		loadLog().Debug("tensor", "name", name, "type", ttype.String(),
			"ne0", ne[0], "ne1", ne[1], "bytes", tensor.NBytes())
	}
	loadLog().Debug("tensor data read", "bytes", totalBytes)
	return nil
}
