package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brokermetrics "github.com/marmos91/docbroker/internal/metrics"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/pool"
	"github.com/marmos91/docbroker/internal/store/memory"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	st := memory.New()
	p := pool.New(context.Background(), st, pool.Config{MaxConnections: 2})
	t.Cleanup(p.Close)

	sink, err := brokermetrics.NewStoreSink(context.Background(), st, model.Location{Database: "telemetry", Collection: "metrics"})
	require.NoError(t, err)
	collector := brokermetrics.NewCollector(sink, brokermetrics.Config{})
	t.Cleanup(collector.Close)

	return NewRouter(p, collector)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestStats(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Pool struct {
			Active       int    `json:"active"`
			Idle         int    `json:"idle"`
			TotalCreated uint64 `json:"total_created"`
		} `json:"pool"`
		Telemetry *struct {
			QueueDepth int    `json:"queue_depth"`
			Dropped    uint64 `json:"dropped"`
		} `json:"telemetry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Pool.Active)
	require.NotNil(t, stats.Telemetry)
	assert.Equal(t, 0, stats.Telemetry.QueueDepth)
}

func TestMetricsDisabled(t *testing.T) {
	// The registry gate stays closed in this test binary, so the exposition
	// endpoint answers 404.
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
