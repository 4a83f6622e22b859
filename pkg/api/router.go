package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/docbroker/internal/logger"
	brokermetrics "github.com/marmos91/docbroker/internal/metrics"
	"github.com/marmos91/docbroker/internal/pool"
	"github.com/marmos91/docbroker/pkg/metrics"
)

// NewRouter wires the admin endpoints:
//
//   - GET /healthz  - liveness probe
//   - GET /metrics  - prometheus exposition (404 when metrics are disabled)
//   - GET /stats    - pool and telemetry counters as JSON
//
// collector may be nil when telemetry is disabled.
func NewRouter(p *pool.Pool, collector *brokermetrics.Collector) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		if !metrics.IsEnabled() {
			http.NotFound(w, req)
			return
		}
		promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, req)
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeStats(w, p, collector)
	})

	return r
}

type poolStats struct {
	Active       int    `json:"active"`
	Idle         int    `json:"idle"`
	TotalCreated uint64 `json:"total_created"`
	Exhausted    uint64 `json:"exhausted"`
}

type telemetryStats struct {
	QueueDepth int    `json:"queue_depth"`
	Flushed    uint64 `json:"flushed"`
	Dropped    uint64 `json:"dropped"`
}

type statsResponse struct {
	Pool      poolStats       `json:"pool"`
	Telemetry *telemetryStats `json:"telemetry,omitempty"`
}

func writeStats(w http.ResponseWriter, p *pool.Pool, collector *brokermetrics.Collector) {
	ps := p.Stats()
	resp := statsResponse{
		Pool: poolStats{
			Active:       ps.Active,
			Idle:         ps.Idle,
			TotalCreated: ps.TotalCreated,
			Exhausted:    ps.Exhausted,
		},
	}
	if collector != nil {
		resp.Telemetry = &telemetryStats{
			QueueDepth: collector.Depth(),
			Flushed:    collector.Flushed(),
			Dropped:    collector.Dropped(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Debug("stats encode failed", logger.Err(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
