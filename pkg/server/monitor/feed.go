package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/tinytrim/pkg/config"
)

// FeedMonitor tracks feed connectivity and reconnect failures.
type FeedMonitor struct {
	mu                sync.RWMutex
	now               func() time.Time
	connected         bool
	lastMessage       string
	lastChange        time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewFeedMonitor creates a monitor that has not seen the feed yet.
func NewFeedMonitor() *FeedMonitor {
	return &FeedMonitor{now: time.Now}
}

// RecordSuccess records a connected feed check.
func (m *FeedMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccess = m.now()
	m.lastAttempt = m.lastSuccess
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a failed reconnect attempt.
func (m *FeedMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = m.now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// RecordConnectivity records a connectivity change reported by the source.
func (m *FeedMonitor) RecordConnectivity(connected bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
	m.lastMessage = message
	m.lastChange = m.now()
}

// IsHealthy is false after more than FeedMaxConsecutiveFailures failed
// reconnects in a row.
func (m *FeedMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

// MUST be called with lock held
func (m *FeedMonitor) healthyLocked() bool {
	return m.consecutiveErrors <= config.FeedMaxConsecutiveFailures
}

// FeedStatus is the feed section of the health response.
type FeedStatus struct {
	Healthy           bool   `json:"healthy"`
	Connected         bool   `json:"connected"`
	Message           string `json:"message,omitempty"`
	LastChange        string `json:"last_change,omitempty"`
	LastSuccess       string `json:"last_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current feed status for health checks.
func (m *FeedMonitor) Status() FeedStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := FeedStatus{
		Healthy:   m.healthyLocked(),
		Connected: m.connected,
		Message:   m.lastMessage,
	}
	if !m.lastChange.IsZero() {
		status.LastChange = m.lastChange.Format(time.RFC3339)
	}
	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}
	return status
}
