// ABOUTME: Tests for relay metric instruments using a manual reader.
// ABOUTME: Verifies observer callbacks land in the expected instruments.

package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return sums
}

func TestMetrics_ObserverCallbacks(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetricsFromMeter(provider.Meter("test"))
	require.NoError(t, err)

	m.SessionOpened("a")
	m.SessionOpened("a")
	m.SessionReplaced("a")
	m.SessionTimedOut("a")
	m.RowsLoaded(t.Context(), 510)
	m.ChunkReceived(t.Context(), false)
	m.ChunkReceived(t.Context(), true)
	m.StreamFinished(t.Context(), time.Now().Add(-time.Second), true, "ok")

	sums := collect(t, reader)
	assert.Equal(t, int64(2), sums["sqlrelay.sessions.opened"])
	assert.Equal(t, int64(1), sums["sqlrelay.sessions.replaced"])
	assert.Equal(t, int64(1), sums["sqlrelay.sessions.timed_out"])
	assert.Equal(t, int64(510), sums["sqlrelay.bulk.rows"])
	assert.Equal(t, int64(2), sums["sqlrelay.chunks.received"])
	assert.Equal(t, int64(1), sums["sqlrelay.stream.duration_seconds"])
}

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(t.Context(), Config{}, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, shutdown(t.Context()))
}

func TestHTTPMiddleware_PassesThrough(t *testing.T) {
	h := HTTPMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
