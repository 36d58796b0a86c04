package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

// HealthStatus is the JSON document served on the health endpoint.
type HealthStatus struct {
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Uptime    string     `json:"uptime"`
	System    SystemInfo `json:"system"`
	Model     ModelInfo  `json:"model"`
	Tokens    int64      `json:"tokens_sampled"`
}

type SystemInfo struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
}

type ModelInfo struct {
	Loaded   bool   `json:"loaded"`
	Path     string `json:"path,omitempty"`
	NLayers  int32  `json:"n_layers,omitempty"`
	NHeads   int32  `json:"n_heads,omitempty"`
	DModel   int32  `json:"d_model,omitempty"`
	NVocab   int32  `json:"n_vocab,omitempty"`
	NCtx     int32  `json:"n_ctx,omitempty"`
	MemBytes int    `json:"mem_bytes,omitempty"`
}

// Health tracks process state for the health endpoint.
type Health struct {
	mu    sync.RWMutex
	start time.Time
	model ModelInfo
}

func NewHealth() *Health {
	return &Health{start: time.Now()}
}

// SetModel records the loaded model's shape for reporting.
func (h *Health) SetModel(path string, m *model.Model) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hp := m.Hparams
	h.model = ModelInfo{
		Loaded:   true,
		Path:     path,
		NLayers:  hp.NLayers,
		NHeads:   hp.NHeads,
		DModel:   hp.DModel,
		NVocab:   hp.NVocab,
		NCtx:     hp.NCtx,
		MemBytes: m.MemUsed(),
	}
}

func (h *Health) snapshot() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status := "starting"
	if h.model.Loaded {
		status = "ok"
	}
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.start).String(),
		System: SystemInfo{
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			NumCPU:    runtime.NumCPU(),
		},
		Model:  h.model,
		Tokens: metrics.TotalTokens(),
	}
}

// Handler serves the health document.
func (h *Health) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.snapshot())
	}
}
