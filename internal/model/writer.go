package model

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/23skdu/longbow-bodkin/internal/ggml"
)

// TensorData is one on-disk tensor record for Write.
type TensorData struct {
	Name string
	Type ggml.Type
	NE   []int32
	Data []byte
}

// Write serializes a complete model file: magic, header, vocabulary and
// tensor records. Used by the fixture generator and the loader tests;
// hp.NCtx is ignored since it is not an on-disk field.
func Write(w io.Writer, hp Hparams, vocab []string, tensors []TensorData) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(ggml.FileMagic)); err != nil {
		return err
	}
	for _, field := range []interface{}{
		hp.DModel, hp.MaxSeqLen, hp.NHeads, hp.NLayers, hp.NVocab,
		hp.AlibiBiasMax, hp.ClipQKV, hp.Ftype,
	} {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	for _, tok := range vocab {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(tok))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(tok)); err != nil {
			return err
		}
	}
	for _, t := range tensors {
		if err := writeTensor(w, t); err != nil {
			return fmt.Errorf("writing tensor %q: %w", t.Name, err)
		}
	}
	return nil
}

func writeTensor(w io.Writer, t TensorData) error {
	nelements := 1
	for _, d := range t.NE {
		nelements *= int(d)
	}
	if want := ggml.RowSize(t.Type, nelements); len(t.Data) != want {
		return fmt.Errorf("payload is %d bytes, want %d", len(t.Data), want)
	}
	for _, v := range []int32{int32(len(t.NE)), int32(len(t.Name)), int32(t.Type)} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, d := range t.NE {
		if err := binary.Write(w, binary.LittleEndian, d); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte(t.Name)); err != nil {
		return err
	}
	_, err := w.Write(t.Data)
	return err
}

// F32Bytes packs float32 values into the little-endian layout Write expects.
func F32Bytes(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
