package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	require.NotNil(t, collector)
	assert.NotNil(t, collector.connections, "connections gauge should be initialized")
	assert.NotNil(t, collector.envelopes, "envelopes counter should be initialized")
	assert.NotNil(t, collector.fanout, "fanout histogram should be initialized")
}

func TestNilCollectorIsNoop(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.ConnectionOpened("student")
		collector.ConnectionClosed("student")
		collector.Admission("teacher", "ok")
		collector.Envelope("ping")
		collector.AuthorityViolation()
		collector.Malformed()
		collector.RateLimited()
		collector.Broadcast(3, 1)
		collector.Reclaimed("connection", 2)
		collector.SetActiveClassrooms(4)
	})
}

func TestCounters(t *testing.T) {
	collector := NewCollector(nil)

	collector.ConnectionOpened("student")
	collector.ConnectionOpened("student")
	collector.ConnectionClosed("student")
	collector.AuthorityViolation()
	collector.Broadcast(5, 2)
	collector.Reclaimed("classroom", 1)
	collector.SetActiveClassrooms(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.connections.WithLabelValues("student")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.authorityDrops))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.deliveries))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.deliveryFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.reclaimed.WithLabelValues("classroom")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.activeClassrooms))
}

func TestHandlerServesMetrics(t *testing.T) {
	collector := NewCollector(nil)
	collector.Envelope("classroom_message")

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `classhub_envelopes_total{kind="classroom_message"} 1`))
}
