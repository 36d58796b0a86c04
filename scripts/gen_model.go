package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/23skdu/longbow-bodkin/internal/ggml"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

// Generates a tiny F32 model file for smoke testing the loader and
// decode loop without a real checkpoint.
func main() {
	out := flag.String("o", "tiny.bin", "output path")
	nLayers := flag.Int("layers", 2, "transformer blocks")
	dModel := flag.Int("d", 32, "embedding width")
	nHeads := flag.Int("heads", 4, "attention heads")
	flag.Parse()

	hp := model.Hparams{
		DModel:       int32(*dModel),
		MaxSeqLen:    int32(64),
		NHeads:       int32(*nHeads),
		NLayers:      int32(*nLayers),
		NVocab:       32,
		AlibiBiasMax: 8.0,
		Ftype:        int32(ggml.FtypeAllF32),
	}

	vocab := make([]string, hp.NVocab)
	vocab[0] = "<|endoftext|>"
	for i := 1; i < len(vocab); i++ {
		vocab[i] = string(rune('a' + (i-1)%26))
	}

	fill := func(n, seed int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = float32((i*31+seed*17+7)%13-6) / 60.0
		}
		return v
	}
	ones := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = 1
		}
		return v
	}

	nEmbd := int(hp.DModel)
	var tensors []model.TensorData
	add := func(name string, ne0, ne1 int, vals []float32) {
		tensors = append(tensors, model.TensorData{
			Name: name, Type: ggml.TypeF32,
			NE:   []int32{int32(ne0), int32(ne1)},
			Data: model.F32Bytes(vals),
		})
	}
	add(model.GlobalKey(model.FieldWte).String(), nEmbd, int(hp.NVocab), fill(nEmbd*int(hp.NVocab), 1))
	add(model.GlobalKey(model.FieldNormF).String(), nEmbd, 1, ones(nEmbd))
	for i := 0; i < int(hp.NLayers); i++ {
		add(model.LayerKey(i, model.FieldNorm1).String(), nEmbd, 1, ones(nEmbd))
		add(model.LayerKey(i, model.FieldWQKV).String(), nEmbd, 3*nEmbd, fill(3*nEmbd*nEmbd, 10+i))
		add(model.LayerKey(i, model.FieldOutProj).String(), nEmbd, nEmbd, fill(nEmbd*nEmbd, 20+i))
		add(model.LayerKey(i, model.FieldNorm2).String(), nEmbd, 1, ones(nEmbd))
		add(model.LayerKey(i, model.FieldFFNUp).String(), nEmbd, 4*nEmbd, fill(4*nEmbd*nEmbd, 30+i))
		add(model.LayerKey(i, model.FieldFFNDown).String(), 4*nEmbd, nEmbd, fill(4*nEmbd*nEmbd, 40+i))
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := model.Write(f, hp, vocab, tensors); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s: %d layers, d_model %d, %d tensors\n", *out, *nLayers, *dModel, len(tensors))
}
