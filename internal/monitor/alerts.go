package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/propforge/sentinel/internal/idgen"
	"github.com/propforge/sentinel/internal/metrics"
)

// Severity classifies an alert. Ordering matters: LOW alerts self-resolve,
// everything above requires an explicit ResolveAlert call.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertType identifies the detector that raised an alert.
type AlertType string

const (
	AlertBruteForce         AlertType = "brute_force"
	AlertSuspiciousActivity AlertType = "suspicious_activity"
	AlertFraudDetected      AlertType = "fraud_detected"
	AlertDataBreach         AlertType = "data_breach"
	AlertAccountTakeover    AlertType = "account_takeover"
)

// Alert is a security alert raised by one of the monitor's detectors.
type Alert struct {
	ID         string         `json:"id"`
	Type       AlertType      `json:"type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt time.Time      `json:"resolvedAt,omitzero"`
}

// alertManager owns the alert set and the per-alert auto-resolution
// timers. All access goes through its mutex.
type alertManager struct {
	mu      sync.Mutex
	alerts  map[string]*Alert
	timers  map[string]*time.Timer
	lowTTL  time.Duration
	logger  *slog.Logger
	onRaise func(Alert)
}

func newAlertManager(lowTTL time.Duration, logger *slog.Logger) *alertManager {
	return &alertManager{
		alerts: make(map[string]*Alert),
		timers: make(map[string]*time.Timer),
		lowTTL: lowTTL,
		logger: logger,
	}
}

// Create raises a new alert. LOW-severity alerts schedule their own
// resolution after the configured TTL; the timer is cancelled if the
// alert is resolved explicitly first.
func (m *alertManager) Create(typ AlertType, sev Severity, message string, metadata map[string]any) Alert {
	a := &Alert{
		ID:        idgen.WithPrefix("alr_"),
		Type:      typ,
		Severity:  sev,
		Message:   message,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.alerts[a.ID] = a
	if sev == SeverityLow && m.lowTTL > 0 {
		id := a.ID
		m.timers[id] = time.AfterFunc(m.lowTTL, func() { m.autoResolve(id) })
	}
	copied := *a
	onRaise := m.onRaise
	m.mu.Unlock()

	metrics.AlertsTotal.WithLabelValues(string(typ), string(sev)).Inc()
	m.logger.Warn("security alert raised",
		"alert_id", a.ID, "type", typ, "severity", sev, "message", message)

	if onRaise != nil {
		onRaise(copied)
	}
	return copied
}

// Resolve marks an alert resolved and cancels any pending auto-resolution
// timer. Returns false if the alert is unknown or already resolved.
func (m *alertManager) Resolve(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok || a.Resolved {
		return false
	}
	a.Resolved = true
	a.ResolvedAt = time.Now()

	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}

	m.logger.Info("security alert resolved", "alert_id", id, "type", a.Type)
	return true
}

func (m *alertManager) autoResolve(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.timers, id)
	a, ok := m.alerts[id]
	if !ok || a.Resolved {
		return
	}
	a.Resolved = true
	a.ResolvedAt = time.Now()
	m.logger.Info("low-severity alert auto-resolved", "alert_id", id, "type", a.Type)
}

// Active returns unresolved alerts, newest first.
func (m *alertManager) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// threatStats returns the number of unresolved HIGH/CRITICAL alerts and
// the timestamp of the newest unresolved alert of any severity.
func (m *alertManager) threatStats() (threats int, last time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.Resolved {
			continue
		}
		if a.Severity == SeverityHigh || a.Severity == SeverityCritical {
			threats++
		}
		if a.Timestamp.After(last) {
			last = a.Timestamp
		}
	}
	return threats, last
}

// sweep evicts alerts resolved longer than retention ago. Returns the
// number evicted.
func (m *alertManager) sweep(now time.Time, retention time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-retention)
	evicted := 0
	for id, a := range m.alerts {
		if a.Resolved && a.ResolvedAt.Before(cutoff) {
			delete(m.alerts, id)
			evicted++
		}
	}
	return evicted
}

// Stop cancels all pending auto-resolution timers.
func (m *alertManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
