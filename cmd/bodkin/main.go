package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/engine"
	"github.com/23skdu/longbow-bodkin/internal/flightexport"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/model"
	"github.com/23skdu/longbow-bodkin/internal/monitoring"
)

var (
	modelPath     = flag.String("model", "", "Path to ggml model file")
	prompt        = flag.String("prompt", "Once upon a time", "Prompt to generate from")
	threads       = flag.Int("threads", config.Default().Threads, "Worker threads for matrix multiplies")
	nCtx          = flag.Int("ctx", 512, "Context length (capped at the model's max_seq_len)")
	nBatch        = flag.Int("batch", 8, "Prompt batch size")
	nPredict      = flag.Int("n", 200, "Number of tokens to generate")
	seed          = flag.Int64("seed", -1, "RNG seed, negative for time-based")
	temp          = flag.Float64("temp", 0.8, "Sampling temperature, 0 for greedy")
	topK          = flag.Int("top-k", 40, "Top-K cutoff, 0 for full vocabulary")
	topP          = flag.Float64("top-p", 0.9, "Top-P nucleus cutoff")
	repeatLastN   = flag.Int("repeat-last-n", 64, "Penalty window size, -1 for n_ctx")
	repeatPenalty = flag.Float64("repeat-penalty", 1.02, "Repetition penalty")
	perplexity    = flag.Bool("perplexity", false, "Score the prompt instead of generating")
	flightAddr    = flag.String("flight", "", "Arrow Flight endpoint to stream tokens to")
	metricsAddr   = flag.String("metrics", ":9090", "Address to serve Prometheus metrics")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat     = flag.String("log-format", "console", "Log format: console or json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	p := config.Default()
	p.ModelPath = *modelPath
	p.Threads = *threads
	p.NCtx = *nCtx
	p.NBatch = *nBatch
	p.NPredict = *nPredict
	p.Seed = *seed
	p.Temp = *temp
	p.TopK = *topK
	p.TopP = *topP
	p.RepeatLastN = *repeatLastN
	p.RepeatPenalty = *repeatPenalty
	p.FlightAddr = *flightAddr
	p.LogLevel = *logLevel
	p.LogFormat = *logFormat
	if err := p.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	health := monitoring.NewHealth()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", health.Handler())
		logger.Log.Info("metrics serving", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Log.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := model.Load(p.ModelPath, p.NCtx)
	if err != nil {
		logger.Log.Error("model load failed", "error", err)
		os.Exit(1)
	}
	health.SetModel(p.ModelPath, m)
	p.Normalize(int(m.Hparams.NVocab), int(m.Hparams.NCtx))

	eng := engine.New(m, p)

	tokens := m.Vocab.Encode(*prompt)
	if len(tokens) == 0 {
		logger.Log.Error("prompt produced no tokens")
		os.Exit(1)
	}
	logger.Log.Info("prompt encoded", "tokens", len(tokens))

	if *perplexity {
		ppl, err := engine.Perplexity(eng, tokens, p.NBatch)
		if err != nil {
			logger.Log.Error("perplexity failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("perplexity: %.4f\n", ppl)
		return
	}

	sinks := []engine.TokenSink{
		engine.SinkFunc(func(id int, text string, generated bool) error {
			if generated {
				fmt.Print(text)
			}
			return nil
		}),
	}

	var flightSink *flightexport.Sink
	if p.FlightAddr != "" {
		exp, err := flightexport.NewFlightExporter(p.FlightAddr)
		if err != nil {
			logger.Log.Error("flight exporter failed", "error", err)
			os.Exit(1)
		}
		defer exp.Close()
		runID := fmt.Sprintf("bodkin-%d", time.Now().Unix())
		flightSink = flightexport.NewSink(ctx, exp, runID, 32)
		sinks = append(sinks, flightSink)
	}

	loop := engine.NewLoop(eng, engine.NewSampler(p), m.Vocab, p, sinks...)
	if err := loop.Warmup(); err != nil {
		logger.Log.Error("warmup failed", "error", err)
		os.Exit(1)
	}

	res, err := loop.Run(ctx, tokens)
	fmt.Println()
	if err != nil {
		logger.Log.Error("generation failed", "error", err)
		os.Exit(1)
	}
	if flightSink != nil {
		if err := flightSink.Flush(); err != nil {
			logger.Log.Warn("final flight flush failed", "error", err)
		}
	}

	tps := 0.0
	if res.GenerateDuration > 0 {
		tps = float64(len(res.Generated)) / res.GenerateDuration.Seconds()
	}
	logger.Log.Info("done",
		"generated", len(res.Generated),
		"tokens_per_second", fmt.Sprintf("%.2f", tps),
	)
}
