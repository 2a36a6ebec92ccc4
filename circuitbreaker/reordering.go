package circuitbreaker

import (
	"sort"
)

// ReorderBySuccess sorts endpoints in place: healthy before unhealthy, then
// by success rate. It runs at most once per ReorderInterval and reports
// whether the order changed.
func (hm *HealthManager) ReorderBySuccess(endpoints []string) bool {
	if len(endpoints) <= 1 {
		return false
	}

	now := hm.now()
	hm.healthMutex.RLock()
	shouldReorder := false
	for _, health := range hm.healthMap {
		if now.Sub(health.LastReorderCheck) > hm.config.ReorderInterval {
			shouldReorder = true
			break
		}
	}
	hm.healthMutex.RUnlock()

	if !shouldReorder {
		return false
	}

	type endpointScore struct {
		url         string
		successRate float64
		isHealthy   bool
	}
	scores := make([]endpointScore, len(endpoints))
	for i, endpoint := range endpoints {
		scores[i] = endpointScore{
			url:         endpoint,
			successRate: hm.CalculateSuccessRate(endpoint),
			isHealthy:   hm.IsHealthy(endpoint),
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].isHealthy != scores[j].isHealthy {
			return scores[i].isHealthy
		}
		return scores[i].successRate > scores[j].successRate
	})

	hasChanged := false
	for i, score := range scores {
		if endpoints[i] != score.url {
			hasChanged = true
		}
		endpoints[i] = score.url
	}

	hm.healthMutex.Lock()
	for _, health := range hm.healthMap {
		health.LastReorderCheck = now
	}
	hm.healthMutex.Unlock()

	if hasChanged {
		hm.logEvent(endpoints[0], "Reordered endpoints by success rate", map[string]interface{}{
			"order": endpoints,
		})
	}
	return hasChanged
}
