package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	endpoint string
	message  string
}

type eventRecorder struct {
	events []recordedEvent
}

func (r *eventRecorder) CircuitBreakerEvent(endpoint, message string, fields map[string]interface{}) {
	r.events = append(r.events, recordedEvent{endpoint: endpoint, message: message})
}

func newTestManager(events EventLogger) (*HealthManager, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	hm := NewHealthManager(DefaultConfig(), events)
	hm.now = func() time.Time { return now }
	return hm, &now
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	events := &eventRecorder{}
	hm, _ := newTestManager(events)

	hm.RecordFailure("http://a")
	assert.True(t, hm.IsHealthy("http://a"))

	hm.RecordFailure("http://a")
	assert.False(t, hm.IsHealthy("http://a"))

	health, ok := hm.Snapshot("http://a")
	require.True(t, ok)
	assert.True(t, health.CircuitOpen)
	assert.Equal(t, 2, health.FailureCount)
	require.Len(t, events.events, 2)
	assert.Equal(t, "Circuit breaker opened", events.events[1].message)
}

func TestCircuitRetriesAfterBackoff(t *testing.T) {
	hm, now := newTestManager(nil)
	hm.RecordFailure("http://a")
	hm.RecordFailure("http://a")

	*now = now.Add(31 * time.Second)

	assert.True(t, hm.IsHealthy("http://a"))
}

func TestBackoffIsCapped(t *testing.T) {
	hm, now := newTestManager(nil)
	for i := 0; i < 50; i++ {
		hm.RecordFailure("http://a")
	}

	health, _ := hm.Snapshot("http://a")
	assert.Equal(t, now.Add(5*time.Minute), health.NextRetryTime)
}

func TestSuccessClosesCircuit(t *testing.T) {
	hm, _ := newTestManager(nil)
	hm.RecordFailure("http://a")
	hm.RecordFailure("http://a")

	hm.RecordSuccess("http://a")

	assert.True(t, hm.IsHealthy("http://a"))
	health, _ := hm.Snapshot("http://a")
	assert.Zero(t, health.FailureCount)
	assert.Equal(t, 1, health.SuccessCount)
}

func TestSelectHealthyEndpointSkipsOpenCircuits(t *testing.T) {
	hm, _ := newTestManager(nil)
	endpoints := []string{"http://a", "http://b"}
	hm.InitializeEndpoints(endpoints)
	hm.RecordFailure("http://a")
	hm.RecordFailure("http://a")

	idx := 0
	assert.Equal(t, "http://b", hm.SelectHealthyEndpoint(endpoints, &idx))
	assert.Equal(t, "http://b", hm.SelectHealthyEndpoint(endpoints, &idx))
}

func TestSelectHealthyEndpointLastResort(t *testing.T) {
	events := &eventRecorder{}
	hm, _ := newTestManager(events)
	endpoints := []string{"http://a"}
	hm.RecordFailure("http://a")
	hm.RecordFailure("http://a")

	idx := 0
	assert.Equal(t, "http://a", hm.SelectHealthyEndpoint(endpoints, &idx))
	assert.Equal(t, "No healthy endpoints found, using fallback", events.events[len(events.events)-1].message)

	assert.Equal(t, "", hm.SelectHealthyEndpoint(nil, &idx))
}

func TestReorderBySuccess(t *testing.T) {
	hm, _ := newTestManager(nil)
	endpoints := []string{"http://a", "http://b"}
	hm.InitializeEndpoints(endpoints)
	hm.RecordFailure("http://a")
	hm.RecordSuccess("http://b")

	changed := hm.ReorderBySuccess(endpoints)

	assert.True(t, changed)
	assert.Equal(t, []string{"http://b", "http://a"}, endpoints)

	// A second call inside the interval is a no-op
	assert.False(t, hm.ReorderBySuccess(endpoints))
}
