// ABOUTME: Tests for the Prometheus collectors and their nil-safety
// ABOUTME: Uses testutil to read counters back from the private registry

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened("ws")
		m.ConnectionClosed("ws")
		m.AdmissionFailed("grpc")
		m.ChannelJoin("project", "joined")
		m.EventPublished("task-added")
		m.EventDelivered()
		m.EventDropped("queue_full")
		m.Mutation("create-task", "http", "ok", time.Millisecond)
		m.NotifierMail("reminder", "sent")
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()

	m.ConnectionOpened("ws")
	m.ConnectionOpened("ws")
	m.ConnectionClosed("ws")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("ws")))

	m.EventDropped("queue_full")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped.WithLabelValues("queue_full")))

	m.Mutation("delete-task", "realtime", "forbidden", 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("delete-task", "realtime", "forbidden")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.EventPublished("task-added")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `taskboard_events_published_total{event="task-added"} 1`)
}
