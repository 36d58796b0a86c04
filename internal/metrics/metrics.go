package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	ModelLoadDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bodkin_model_load_duration_seconds",
		Help: "Time taken to load and validate the model file",
	})

	ModelSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bodkin_model_size_bytes",
		Help: "Total bytes of tensor data loaded",
	})

	ModelTensorCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bodkin_model_tensor_count",
		Help: "Number of weight tensors in the loaded model",
	})

	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bodkin_eval_duration_seconds",
		Help:    "Duration of forward-pass evaluations",
		Buckets: prometheus.DefBuckets,
	})

	EvalBatchTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bodkin_eval_batch_tokens",
		Help:    "Number of tokens evaluated per forward pass",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
	})

	TokensSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_tokens_sampled_total",
		Help: "Total number of tokens drawn by the sampler",
	})

	SampleDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "bodkin_sample_duration_seconds",
		Help: "Duration of single sampling steps",
	})

	ScratchBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bodkin_scratch_bytes",
		Help: "Current capacity of each scratch region",
	}, []string{"region"})

	ScratchRegrowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_scratch_regrow_total",
		Help: "Number of times a scratch region was regrown",
	}, []string{"region"})

	KVCachePosition = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bodkin_kv_cache_position",
		Help: "Current number of cached positions (n_past)",
	})

	KVCacheWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_kv_cache_writes_total",
		Help: "Total key/value rows written to the cache",
	})

	TokenizerUnknownBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_tokenizer_unknown_bytes_total",
		Help: "Input bytes skipped because no vocabulary entry matched",
	})
)

func RecordModelLoad(bytes int64, tensors int, duration time.Duration) {
	ModelLoadDuration.Set(duration.Seconds())
	ModelSizeBytes.Set(float64(bytes))
	ModelTensorCount.Set(float64(tensors))
}

func RecordEval(tokens int, duration time.Duration) {
	EvalDuration.Observe(duration.Seconds())
	EvalBatchTokens.Observe(float64(tokens))
}

func RecordSample(duration time.Duration) {
	TokensSampledTotal.Inc()
	totalTokens.Add(1)
	SampleDuration.Observe(duration.Seconds())
}

func RecordScratch(region string, capacity int) {
	ScratchBytes.WithLabelValues(region).Set(float64(capacity))
}

func RecordScratchRegrow(region string, capacity int) {
	ScratchRegrowTotal.WithLabelValues(region).Inc()
	ScratchBytes.WithLabelValues(region).Set(float64(capacity))
}

func RecordKVWrite(nPast, rows int) {
	KVCachePosition.Set(float64(nPast))
	KVCacheWritesTotal.Add(float64(rows))
}

func RecordUnknownBytes(n int) {
	if n > 0 {
		TokenizerUnknownBytes.Add(float64(n))
	}
}

// TotalTokens reports the number of tokens sampled since process start.
func TotalTokens() int64 {
	return totalTokens.Load()
}
