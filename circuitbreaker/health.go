package circuitbreaker

import (
	"sync"
	"time"
)

// EndpointHealth tracks the health status of an endpoint
type EndpointHealth struct {
	URL              string    `json:"url"`
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	TotalRequests    int       `json:"total_requests"`
	LastFailureTime  time.Time `json:"last_failure_time"`
	LastSuccessTime  time.Time `json:"last_success_time"`
	CircuitOpen      bool      `json:"circuit_open"`
	NextRetryTime    time.Time `json:"next_retry_time"`
	LastReorderCheck time.Time `json:"last_reorder_check"`
}

// Config controls circuit breaker behavior
type Config struct {
	FailureThreshold   int           `json:"failure_threshold"`    // Number of failures before opening circuit
	BackoffDuration    time.Duration `json:"backoff_duration"`     // How long to wait before retrying failed endpoint
	MaxBackoffDuration time.Duration `json:"max_backoff_duration"` // Maximum backoff time
	ReorderInterval    time.Duration `json:"reorder_interval"`     // Minimum time between success-rate reorders
}

// DefaultConfig returns sensible defaults for circuit breaker
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   2,
		BackoffDuration:    30 * time.Second,
		MaxBackoffDuration: 5 * time.Minute,
		ReorderInterval:    5 * time.Minute,
	}
}

// EventLogger receives circuit state changes
type EventLogger interface {
	CircuitBreakerEvent(endpoint, message string, fields map[string]interface{})
}

// HealthManager manages endpoint health tracking. It is safe for concurrent use.
type HealthManager struct {
	config      Config
	healthMap   map[string]*EndpointHealth
	healthMutex sync.RWMutex
	events      EventLogger
	now         func() time.Time
}

// NewHealthManager creates a new health manager
func NewHealthManager(config Config, events EventLogger) *HealthManager {
	return &HealthManager{
		config:    config,
		healthMap: make(map[string]*EndpointHealth),
		events:    events,
		now:       time.Now,
	}
}

// InitializeEndpoints initializes health tracking for all endpoints
func (hm *HealthManager) InitializeEndpoints(endpoints []string) {
	hm.healthMutex.Lock()
	defer hm.healthMutex.Unlock()

	for _, endpoint := range endpoints {
		if _, exists := hm.healthMap[endpoint]; !exists {
			hm.healthMap[endpoint] = &EndpointHealth{URL: endpoint}
		}
	}
}

// IsHealthy checks if an endpoint is available (circuit closed or backoff elapsed)
func (hm *HealthManager) IsHealthy(endpoint string) bool {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	health, exists := hm.healthMap[endpoint]
	if !exists {
		return true // Unknown endpoints are assumed healthy
	}

	if health.CircuitOpen {
		return hm.now().After(health.NextRetryTime)
	}
	return true
}

// Snapshot returns a copy of an endpoint's health record
func (hm *HealthManager) Snapshot(endpoint string) (EndpointHealth, bool) {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	health, exists := hm.healthMap[endpoint]
	if !exists {
		return EndpointHealth{}, false
	}
	return *health, true
}

// CalculateSuccessRate calculates the success rate for an endpoint
func (hm *HealthManager) CalculateSuccessRate(endpoint string) float64 {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	health, exists := hm.healthMap[endpoint]
	if !exists || health.TotalRequests == 0 {
		return 0.5 // Default neutral rate for new endpoints
	}

	return float64(health.SuccessCount) / float64(health.TotalRequests)
}

func (hm *HealthManager) logEvent(endpoint, message string, fields map[string]interface{}) {
	if hm.events != nil {
		hm.events.CircuitBreakerEvent(endpoint, message, fields)
	}
}
