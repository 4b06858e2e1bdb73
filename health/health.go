// Package health tracks per-component health and serves /healthz.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the health state of one component or of the whole process.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"subStatuses,omitempty"`
}

// Monitor tracks the health of named components. Safe for concurrent
// use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// SetHealthy marks a component healthy.
func (m *Monitor) SetHealthy(name, message string) {
	m.set(Status{Component: name, Healthy: true, Message: message})
}

// SetUnhealthy marks a component unhealthy.
func (m *Monitor) SetUnhealthy(name, message string) {
	m.set(Status{Component: name, Healthy: false, Message: message})
}

func (m *Monitor) set(status Status) {
	status.Timestamp = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.Component] = status
}

// Get returns one component's status.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Aggregate rolls all component statuses into one. The system is
// healthy only when every component is.
func (m *Monitor) Aggregate(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := Status{Component: systemName, Healthy: true, Timestamp: time.Now().UTC()}
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		status := m.statuses[name]
		agg.SubStatuses = append(agg.SubStatuses, status)
		if !status.Healthy {
			agg.Healthy = false
			agg.Message = "one or more components unhealthy"
		}
	}
	return agg
}

// HTTPHandler serves the aggregated status as JSON. Unhealthy responds
// 503 so load balancers can act on the status code alone.
func (m *Monitor) HTTPHandler(systemName string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := m.Aggregate(systemName)
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
