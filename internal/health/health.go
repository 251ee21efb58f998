// Package health implements the operational HTTP surface: liveness,
// readiness, and a real Prometheus /metrics endpoint, mirroring the
// teacher's core.Orion health server with the metrics stub wired for real.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker reports the freshness of the pipeline's three long-lived legs.
// The Service implements this by tracking its own last-seen timestamps.
type Checker interface {
	LastWaveformAt() time.Time
	LastPickAt() time.Time
	LastPredictAt() time.Time
}

// Server is the health/metrics HTTP surface from spec.md section 9.4.
type Server struct {
	checker Checker
	started time.Time

	mu        sync.RWMutex
	staleness time.Duration
}

// New builds a health Server. staleness is how long since the last observed
// waveform activity before readiness reports degraded; the last pick and
// predict times are reported but do not affect the status.
func New(checker Checker, staleness time.Duration) *Server {
	return &Server{checker: checker, started: time.Now(), staleness: staleness}
}

// Handler returns the mux serving /health, /readiness, and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.liveness)
	mux.HandleFunc("/readiness", s.readiness)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

type readinessStatus struct {
	Status            string    `json:"status"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	LastWaveformAt    time.Time `json:"last_waveform_at"`
	LastPickAt        time.Time `json:"last_pick_at"`
	LastPredictAt     time.Time `json:"last_predict_at"`
	WaveformStaleSecs float64   `json:"waveform_stale_seconds"`
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	lastWave := s.checker.LastWaveformAt()

	status := readinessStatus{
		Status:            "ready",
		UptimeSeconds:     int64(now.Sub(s.started).Seconds()),
		LastWaveformAt:    lastWave,
		LastPickAt:        s.checker.LastPickAt(),
		LastPredictAt:     s.checker.LastPredictAt(),
		WaveformStaleSecs: now.Sub(lastWave).Seconds(),
	}

	code := http.StatusOK
	if !lastWave.IsZero() && now.Sub(lastWave) > s.staleness {
		status.Status = "degraded"
	}
	if lastWave.IsZero() {
		status.Status = "starting"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
