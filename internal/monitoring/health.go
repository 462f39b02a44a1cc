package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const maxRecentErrors = 10

type HealthChecker struct {
	mu           sync.RWMutex
	startTime    time.Time
	lastDecision time.Time
	breakerState string
	errors       []string
}

type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	LastDecision time.Time `json:"last_decision,omitempty"`
	BreakerState string    `json:"breaker_state,omitempty"`
	Uptime       string    `json:"uptime"`
	Errors       []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		errors:    make([]string, 0),
	}
}

// RecordDecision notes the time of the last sizing decision
func (h *HealthChecker) RecordDecision(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastDecision = at
}

// SetBreakerState notes the current circuit breaker state
func (h *HealthChecker) SetBreakerState(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakerState = state
}

// RecordError keeps the most recent errors for the health report
func (h *HealthChecker) RecordError(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, err.Error())
	if len(h.errors) > maxRecentErrors {
		h.errors = h.errors[len(h.errors)-maxRecentErrors:]
	}
}

func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

// Status builds the health report and its HTTP status code
func (h *HealthChecker) Status() (HealthStatus, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	switch {
	case len(h.errors) > 0:
		status, code = "unhealthy", http.StatusInternalServerError
	case h.breakerState == "HALTED":
		// trading is halted but the engine itself is fine
		status = "halted"
	}

	errs := make([]string, len(h.errors))
	copy(errs, h.errors)
	return HealthStatus{
		Status:       status,
		Timestamp:    time.Now(),
		LastDecision: h.lastDecision,
		BreakerState: h.breakerState,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Errors:       errs,
	}, code
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health, code := h.Status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
