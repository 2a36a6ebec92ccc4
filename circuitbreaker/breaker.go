package circuitbreaker

import (
	"time"
)

// RecordFailure marks an endpoint as failed and potentially opens its circuit
func (hm *HealthManager) RecordFailure(endpoint string) {
	hm.healthMutex.Lock()
	defer hm.healthMutex.Unlock()

	health, exists := hm.healthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		hm.healthMap[endpoint] = health
	}

	now := hm.now()
	health.FailureCount++
	health.TotalRequests++
	health.LastFailureTime = now

	if health.FailureCount < hm.config.FailureThreshold {
		hm.logEvent(endpoint, "Endpoint failure recorded", map[string]interface{}{
			"failures":  health.FailureCount,
			"threshold": hm.config.FailureThreshold,
		})
		return
	}

	// Linear backoff per failure over the threshold, capped at max
	failuresOverThreshold := health.FailureCount - hm.config.FailureThreshold + 1
	backoff := time.Duration(int64(hm.config.BackoffDuration) * int64(failuresOverThreshold))
	if backoff > hm.config.MaxBackoffDuration {
		backoff = hm.config.MaxBackoffDuration
	}

	health.CircuitOpen = true
	health.NextRetryTime = now.Add(backoff)

	hm.logEvent(endpoint, "Circuit breaker opened", map[string]interface{}{
		"failures": health.FailureCount,
		"retry_in": backoff.String(),
	})
}

// RecordSuccess marks an endpoint as successful and closes its circuit
func (hm *HealthManager) RecordSuccess(endpoint string) {
	hm.healthMutex.Lock()
	defer hm.healthMutex.Unlock()

	health, exists := hm.healthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		hm.healthMap[endpoint] = health
	}

	health.SuccessCount++
	health.TotalRequests++
	health.LastSuccessTime = hm.now()

	if health.CircuitOpen {
		health.CircuitOpen = false
		health.FailureCount = 0
		health.NextRetryTime = time.Time{}
		hm.logEvent(endpoint, "Circuit breaker closed", nil)
	} else if health.FailureCount > 0 {
		health.FailureCount = 0
		hm.logEvent(endpoint, "Endpoint recovered", nil)
	}
}

// SelectHealthyEndpoint returns the next healthy endpoint from a list,
// advancing currentIndex round-robin. When every circuit is open it still
// returns the next endpoint as a last resort.
func (hm *HealthManager) SelectHealthyEndpoint(endpoints []string, currentIndex *int) string {
	if len(endpoints) == 0 {
		return ""
	}
	if *currentIndex < 0 || *currentIndex >= len(endpoints) {
		*currentIndex = 0
	}

	for attempts := 0; attempts < len(endpoints); attempts++ {
		endpoint := endpoints[*currentIndex]
		*currentIndex = (*currentIndex + 1) % len(endpoints)

		if hm.IsHealthy(endpoint) {
			return endpoint
		}
	}

	endpoint := endpoints[*currentIndex]
	*currentIndex = (*currentIndex + 1) % len(endpoints)
	hm.logEvent(endpoint, "No healthy endpoints found, using fallback", nil)
	return endpoint
}
