package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/ledger"
)

type fixedStats struct {
	stats ledger.Stats
}

func (f fixedStats) Stats() ledger.Stats { return f.stats }

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(fixedStats{}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestProgressReportsCounters(t *testing.T) {
	t.Parallel()

	srv := NewServer(fixedStats{stats: ledger.Stats{Found: 10, Success: 4, Failure: 1}}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 10, body["found"])
	require.EqualValues(t, 5, body["processed"])
	require.EqualValues(t, 4, body["success"])
	require.EqualValues(t, 1, body["failed"])
	require.InDelta(t, 50.0, body["percent"], 0.01)
}

func TestProgressOmitsPercentWithoutURLs(t *testing.T) {
	t.Parallel()

	srv := NewServer(fixedStats{}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, ok := body["percent"]
	require.False(t, ok)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	t.Parallel()

	srv := NewServer(fixedStats{}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}
