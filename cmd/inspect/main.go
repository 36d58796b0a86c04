package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

// Prints the header and tensor inventory of a model file.
func main() {
	path := flag.String("model", "", "Path to ggml model file")
	flag.Parse()
	logger.Setup("warn", "console")

	if *path == "" {
		fmt.Fprintln(os.Stderr, "Error: -model flag is required")
		os.Exit(1)
	}

	m, err := model.Load(*path, 512)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hp := m.Hparams
	fmt.Printf("d_model:        %d\n", hp.DModel)
	fmt.Printf("max_seq_len:    %d\n", hp.MaxSeqLen)
	fmt.Printf("n_heads:        %d\n", hp.NHeads)
	fmt.Printf("n_layers:       %d\n", hp.NLayers)
	fmt.Printf("n_vocab:        %d\n", hp.NVocab)
	fmt.Printf("alibi_bias_max: %g\n", hp.AlibiBiasMax)
	fmt.Printf("clip_qkv:       %g\n", hp.ClipQKV)
	fmt.Printf("ftype:          %d\n", hp.Ftype)
	fmt.Printf("vocab entries:  %d\n", m.Vocab.Size())
	fmt.Printf("memory:         %d bytes\n", m.MemUsed())
	fmt.Println()

	keys := []model.TensorKey{
		model.GlobalKey(model.FieldWte),
		model.GlobalKey(model.FieldNormF),
	}
	for i := 0; i < int(hp.NLayers); i++ {
		for _, f := range []string{
			model.FieldNorm1, model.FieldWQKV, model.FieldOutProj,
			model.FieldNorm2, model.FieldFFNUp, model.FieldFFNDown,
		} {
			keys = append(keys, model.LayerKey(i, f))
		}
	}
	for _, k := range keys {
		t, ok := m.Tensor(k.String())
		if !ok {
			continue
		}
		ne0, ne1 := t.Dims()
		fmt.Printf("%-50s %-5s [%d, %d]  %d bytes\n",
			k.String(), t.Type.String(), ne0, ne1, t.NBytes())
	}
}
