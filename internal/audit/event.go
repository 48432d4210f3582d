// Package audit provides the structured security-event log: an event
// model, pluggable sinks, and an asynchronous dispatcher that batches
// writes without ever blocking the request path.
package audit

import (
	"time"
)

// EventType identifies the kind of security event.
type EventType string

const (
	EventAccessDenied       EventType = "ACCESS_DENIED"
	EventBruteForce         EventType = "BRUTE_FORCE_DETECTED"
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	EventAccountLocked      EventType = "ACCOUNT_LOCKED"
	EventPaymentFraud       EventType = "PAYMENT_FRAUD_SUSPECTED"
	EventIPBlocked          EventType = "IP_BLOCKED"
)

// RiskLevel grades an event for downstream triage.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// UserContext identifies the principal an event concerns. Only a stable
// identifier is carried; credentials never appear in events.
type UserContext struct {
	ID string `json:"id"`
}

// RequestContext carries the request attributes relevant to the event.
type RequestContext struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// Event is one immutable security-event payload. Producers hand events
// to a dispatcher and never read them back.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Message   string          `json:"message"`
	RiskLevel RiskLevel       `json:"riskLevel"`
	Timestamp time.Time       `json:"timestamp"`
	User      *UserContext    `json:"user,omitempty"`
	Request   *RequestContext `json:"request,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
}
