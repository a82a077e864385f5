package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAccumulate(t *testing.T) {
	m := NewMetrics()

	m.IncAPIRequests("crm.item.add")
	m.IncAPIRequests("crm.item.add")
	m.IncAPIRequests("crm.item.list")
	m.IncShiftsCreated()
	m.UpdateLatency("crm.item.add", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.apiRequests.WithLabelValues("crm.item.add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shiftsCreated))

	stats := m.GetStats()
	assert.Equal(t, 3.0, stats["foreman_crm_requests_total"])
	assert.Equal(t, 1.0, stats["foreman_shifts_created_total"])
	assert.NotContains(t, stats, "foreman_crm_request_duration_seconds")
}

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.IncActiveSessions()

	assert.Equal(t, 1.0, a.GetStats()["foreman_active_sessions"])
	assert.Equal(t, 0.0, b.GetStats()["foreman_active_sessions"])
}
