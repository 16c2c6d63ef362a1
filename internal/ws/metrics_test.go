package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	b := NewBroadcaster(reg, time.Second, zerolog.Nop())
	openTestConn(t, reg, "user-1", Options{})
	openTestConn(t, reg, "user-2", Options{})
	b.Publish(NewUserEvent("x@example.com"))

	rr := httptest.NewRecorder()
	MetricsHandler(b).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rr.Body)
	require.NoError(t, err)

	require.Contains(t, families, "herald_ws_connections")
	assert.Equal(t, 2.0, families["herald_ws_connections"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, families["herald_ws_events_published_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 2.0, families["herald_ws_deliveries_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Zero(t, families["herald_ws_delivery_failures_total"].GetMetric()[0].GetCounter().GetValue())
}
