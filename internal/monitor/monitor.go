// Package monitor implements the adaptive security-monitoring engine:
// per-IP and per-user behavior tracking, risk scoring, brute-force
// blocking, payment fraud screening, and alert management.
//
// The engine is in-memory and single-process. State is lost on restart;
// the audit log is the durable record of what happened.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/propforge/sentinel/internal/audit"
	"github.com/propforge/sentinel/internal/metrics"
	"github.com/propforge/sentinel/internal/traces"
)

// Deny reasons returned to callers.
const (
	ReasonIPBlocked   = "IP blocked due to suspicious activity"
	ReasonRateLimited = "Rate limit exceeded"
)

// ErrAdminResetDisabled is returned by ClearAllLocks when the
// configuration does not permit administrative resets.
var ErrAdminResetDisabled = errors.New("administrative reset is disabled")

// Config holds the engine's policy knobs. Values come from deployment
// configuration; the engine never inspects environment variables itself.
type Config struct {
	// EnforceRateLimiting gates the whole auth monitor. When false,
	// MonitorAuthAttempt allows everything without touching state.
	EnforceRateLimiting bool

	MaxAttempts   int           // failed logins per IP before brute-force trip
	Window        time.Duration // metrics / failed-attempt evaluation window
	BlockDuration time.Duration // brute-force and admin IP block duration

	APIRateLimit     int           // requests per IP per APIWindow
	APIWindow        time.Duration
	APIBlockDuration time.Duration

	LockoutThreshold int           // failed logins per user before account lock
	LockoutDuration  time.Duration

	LowAlertTTL            time.Duration // LOW alerts self-resolve after this
	ResolvedAlertRetention time.Duration // resolved alerts evicted after this
	IPIdleTTL              time.Duration // unblocked idle IP records evicted after this
	SweepInterval          time.Duration

	// AllowAdminReset enables ClearAllLocks. Must be false in production.
	AllowAdminReset bool
}

// DefaultConfig returns the production policy defaults.
func DefaultConfig() Config {
	return Config{
		EnforceRateLimiting:    true,
		MaxAttempts:            5,
		Window:                 5 * time.Minute,
		BlockDuration:          15 * time.Minute,
		APIRateLimit:           1000,
		APIWindow:              time.Minute,
		APIBlockDuration:       5 * time.Minute,
		LockoutThreshold:       5,
		LockoutDuration:        time.Hour,
		LowAlertTTL:            time.Hour,
		ResolvedAlertRetention: 7 * 24 * time.Hour,
		IPIdleTTL:              24 * time.Hour,
		SweepInterval:          time.Hour,
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = d.BlockDuration
	}
	if c.APIRateLimit <= 0 {
		c.APIRateLimit = d.APIRateLimit
	}
	if c.APIWindow <= 0 {
		c.APIWindow = d.APIWindow
	}
	if c.APIBlockDuration <= 0 {
		c.APIBlockDuration = d.APIBlockDuration
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = d.LockoutThreshold
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = d.LockoutDuration
	}
	if c.LowAlertTTL <= 0 {
		c.LowAlertTTL = d.LowAlertTTL
	}
	if c.ResolvedAlertRetention <= 0 {
		c.ResolvedAlertRetention = d.ResolvedAlertRetention
	}
	if c.IPIdleTTL <= 0 {
		c.IPIdleTTL = d.IPIdleTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
}

// EventSink receives security events. Implementations must not block;
// delivery is fire-and-forget from the engine's point of view.
type EventSink interface {
	Emit(e *audit.Event)
}

type nopSink struct{}

func (nopSink) Emit(*audit.Event) {}

// AuthAttempt describes one authentication attempt.
type AuthAttempt struct {
	Email     string
	IP        string
	Success   bool
	UserAgent string
	Metadata  map[string]any
}

// AuthDecision is the engine's verdict on an auth attempt.
type AuthDecision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	RiskScore int    `json:"riskScore"`
}

// PaymentAttempt describes one proposed payment transaction.
type PaymentAttempt struct {
	UserID        string
	Amount        float64
	Currency      string
	IP            string
	PaymentMethod string
	Metadata      map[string]any
}

// PaymentDecision is the engine's verdict on a payment.
type PaymentDecision struct {
	Allowed              bool `json:"allowed"`
	RequiresVerification bool `json:"requiresVerification"`
	RiskScore            int  `json:"riskScore"`
}

// APIUsage describes one API request observation.
type APIUsage struct {
	Endpoint     string
	UserID       string
	IP           string
	ResponseTime time.Duration
	StatusCode   int
}

// AccessAction is the kind of data access observed.
type AccessAction string

const (
	ActionRead   AccessAction = "READ"
	ActionWrite  AccessAction = "WRITE"
	ActionDelete AccessAction = "DELETE"
	ActionExport AccessAction = "EXPORT"
)

// DataAccess describes one data-access observation.
type DataAccess struct {
	ResourceType string
	ResourceID   string
	Action       AccessAction
	UserID       string
	IP           string
	Authorized   bool
}

// SecurityMetrics is a point-in-time aggregation over the tracking
// store and the live alert set.
type SecurityMetrics struct {
	FailedLoginAttempts int64     `json:"failedLoginAttempts"`
	SuspiciousRequests  int64     `json:"suspiciousRequests"`
	BlockedIPs          int       `json:"blockedIPs"`
	ActiveThreats       int       `json:"activeThreats"`
	RiskScore           int       `json:"riskScore"`
	LastThreatDetected  time.Time `json:"lastThreatDetected,omitzero"`
	TrackedIPs          int       `json:"trackedIPs"`
}

// Service is the monitoring engine. It exclusively owns the tracking
// store and alert set; handlers hold a reference and call its methods.
type Service struct {
	cfg     Config
	store   *TrackingStore
	alerts  *alertManager
	geo     GeoRiskProvider
	sink    EventSink
	logger  *slog.Logger
	now     func() time.Time
	onBlock func(ip, reason string)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithGeoRisk sets the geographic risk provider.
func WithGeoRisk(p GeoRiskProvider) Option {
	return func(s *Service) { s.geo = p }
}

// WithEventSink sets the audit event sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithAlertHook registers a callback invoked for every raised alert
// (used to stream alerts to connected clients).
func WithAlertHook(fn func(Alert)) Option {
	return func(s *Service) { s.alerts.onRaise = fn }
}

// WithBlockHook registers a callback invoked whenever an IP is blocked.
func WithBlockHook(fn func(ip, reason string)) Option {
	return func(s *Service) { s.onBlock = fn }
}

// withClock overrides the engine clock. Test-only.
func withClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.store.now = now
	}
}

// NewService creates the monitoring engine.
func NewService(cfg Config, opts ...Option) *Service {
	cfg.withDefaults()

	s := &Service{
		cfg:    cfg,
		geo:    NopGeoRisk{},
		sink:   nopSink{},
		logger: slog.Default(),
		now:    time.Now,
	}
	s.store = NewTrackingStore(time.Now)
	s.alerts = newAlertManager(cfg.LowAlertTTL, s.logger)

	for _, opt := range opts {
		opt(s)
	}
	s.alerts.logger = s.logger
	return s
}

// Close cancels pending alert auto-resolution timers.
func (s *Service) Close() {
	s.alerts.Stop()
}

// MonitorAuthAttempt evaluates one authentication attempt. Request
// counters are updated on every call; failure accounting is frozen
// while the verdict is a denial, so an IP that tripped the brute-force
// block resumes at the count that tripped it once the block expires.
func (s *Service) MonitorAuthAttempt(ctx context.Context, att AuthAttempt) AuthDecision {
	if !s.cfg.EnforceRateLimiting {
		return AuthDecision{Allowed: true}
	}

	_, span := traces.StartSpan(ctx, "monitor.AuthAttempt",
		traces.IP(att.IP), traces.Principal(att.Email))
	defer span.End()

	now := s.now()
	var d AuthDecision

	s.store.WithIP(att.IP, func(r *IPRecord) {
		r.LastSeen = now
		r.RequestCount++

		if r.BlockedAt(now) {
			d = AuthDecision{Allowed: false, Reason: ReasonIPBlocked, RiskScore: 100}
			s.emit(&audit.Event{
				Type:      audit.EventAccessDenied,
				Message:   "authentication attempt from blocked IP",
				RiskLevel: audit.RiskHigh,
				User:      &audit.UserContext{ID: att.Email},
				Request:   &audit.RequestContext{IP: att.IP, UserAgent: att.UserAgent},
				Metadata:  map[string]any{"blockReason": r.BlockReason},
			})
			return
		}

		if !att.Success && r.FailedLoginCount >= int64(s.cfg.MaxAttempts) {
			r.Blocked = true
			r.BlockExpiry = now.Add(s.cfg.BlockDuration)
			r.BlockReason = "brute force detected"
			d = AuthDecision{Allowed: false, Reason: ReasonRateLimited, RiskScore: 100}

			a := s.alerts.Create(AlertBruteForce, SeverityHigh,
				fmt.Sprintf("Brute force detected from %s", att.IP),
				map[string]any{"ip": att.IP, "failedLogins": r.FailedLoginCount})
			span.SetAttributes(traces.AlertID(a.ID))
			s.emit(&audit.Event{
				Type:      audit.EventBruteForce,
				Message:   "brute force detected, IP blocked",
				RiskLevel: audit.RiskHigh,
				User:      &audit.UserContext{ID: att.Email},
				Request:   &audit.RequestContext{IP: att.IP, UserAgent: att.UserAgent},
				Metadata:  map[string]any{"failedLogins": r.FailedLoginCount},
			})
			metrics.IPBlocksTotal.WithLabelValues("brute_force").Inc()
			s.notifyBlock(att.IP, r.BlockReason)
			return
		}

		var knownIP, lockedNow bool
		var userFails, userTags int
		s.store.WithUser(att.Email, func(u *UserProfile) {
			u.LockedAt(now)
			knownIP = u.KnowsIP(att.IP)
			if att.Success {
				u.FailedLoginAttempts = 0
				u.LastLogin = now
				u.RememberIP(att.IP)
			} else {
				u.FailedLoginAttempts++
				if u.FailedLoginAttempts >= s.cfg.LockoutThreshold && !u.AccountLocked {
					u.AccountLocked = true
					u.LockExpiry = now.Add(s.cfg.LockoutDuration)
					lockedNow = true
				}
			}
			userFails = u.FailedLoginAttempts
			userTags = len(u.Suspicious)
		})

		if att.Success {
			r.RiskScore -= 5
			if r.RiskScore < 0 {
				r.RiskScore = 0
			}
		} else {
			r.FailedLoginCount++
			r.RiskScore = clampScore(r.RiskScore + 10)
		}

		if lockedNow {
			// The lock is recorded and reported, not enforced here;
			// callers that want a hard gate check the profile's lock state.
			s.emit(&audit.Event{
				Type:      audit.EventAccountLocked,
				Message:   "account locked after repeated failures",
				RiskLevel: audit.RiskHigh,
				User:      &audit.UserContext{ID: att.Email},
				Request:   &audit.RequestContext{IP: att.IP, UserAgent: att.UserAgent},
				Metadata:  map[string]any{"failedAttempts": userFails},
			})
		}

		score := AuthRiskScore(AuthRiskInput{
			IPFailedLogins:   r.FailedLoginCount,
			IPSuspicious:     len(r.Suspicious),
			UserFailedLogins: userFails,
			UserSuspicious:   userTags,
			KnownIP:          knownIP,
			Hour:             now.Hour(),
			GeoRisk:          s.geo.GeoRisk(att.IP),
		})

		if score > 70 {
			var fired []string
			if score > 80 {
				fired = append(fired, "high-risk-score")
			}
			if r.FailedLoginCount > 3 {
				fired = append(fired, "multiple-failed-logins")
			}
			if !knownIP {
				fired = append(fired, "unknown-ip")
			}
			for _, tag := range fired {
				r.AddTag(tag)
			}
			if len(fired) > 0 {
				s.emit(&audit.Event{
					Type:      audit.EventSuspiciousActivity,
					Message:   "suspicious authentication activity",
					RiskLevel: audit.RiskMedium,
					User:      &audit.UserContext{ID: att.Email},
					Request:   &audit.RequestContext{IP: att.IP, UserAgent: att.UserAgent},
					Metadata:  map[string]any{"riskScore": score},
					Tags:      fired,
				})
			}
		}

		d = AuthDecision{Allowed: true, RiskScore: score}
	})

	span.SetAttributes(traces.RiskScore(d.RiskScore))
	if d.Allowed {
		metrics.AuthDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.AuthDecisionsTotal.WithLabelValues("denied").Inc()
	}
	return d
}

// MonitorPaymentTransaction screens one proposed payment. The payment
// method is reduced to its last 4 characters before it reaches any
// alert or event payload.
func (s *Service) MonitorPaymentTransaction(ctx context.Context, p PaymentAttempt) PaymentDecision {
	_, span := traces.StartSpan(ctx, "monitor.PaymentTransaction",
		traces.IP(p.IP), traces.Principal(p.UserID))
	defer span.End()

	now := s.now()
	var d PaymentDecision

	s.store.WithIP(p.IP, func(r *IPRecord) {
		r.LastSeen = now
		r.RequestCount++

		var knownIP bool
		var userFails, userTags int
		s.store.WithUser(p.UserID, func(u *UserProfile) {
			knownIP = u.KnowsIP(p.IP)
			userFails = u.FailedLoginAttempts
			userTags = len(u.Suspicious)
		})

		auth := AuthRiskScore(AuthRiskInput{
			IPFailedLogins:   r.FailedLoginCount,
			IPSuspicious:     len(r.Suspicious),
			UserFailedLogins: userFails,
			UserSuspicious:   userTags,
			KnownIP:          knownIP,
			Hour:             now.Hour(),
			GeoRisk:          s.geo.GeoRisk(p.IP),
		})
		score := PaymentRiskScore(auth, p.Amount)

		d = PaymentDecision{
			Allowed:              true,
			RequiresVerification: score > 60 || p.Amount > 100_000,
			RiskScore:            score,
		}
		if score <= 85 {
			return
		}

		d.Allowed = false
		masked := maskTail(p.PaymentMethod, 4)
		r.AddTag("payment-fraud-suspected")

		a := s.alerts.Create(AlertFraudDetected, SeverityCritical,
			fmt.Sprintf("Payment fraud suspected for user %s", p.UserID),
			map[string]any{
				"userId":        p.UserID,
				"amount":        p.Amount,
				"currency":      p.Currency,
				"ip":            p.IP,
				"paymentMethod": masked,
				"riskScore":     score,
			})
		span.SetAttributes(traces.AlertID(a.ID))
		s.emit(&audit.Event{
			Type:      audit.EventPaymentFraud,
			Message:   "payment blocked on fraud risk",
			RiskLevel: audit.RiskCritical,
			User:      &audit.UserContext{ID: p.UserID},
			Request:   &audit.RequestContext{IP: p.IP},
			Metadata: map[string]any{
				"amount":        p.Amount,
				"currency":      p.Currency,
				"paymentMethod": masked,
				"riskScore":     score,
			},
		})
	})

	if !d.Allowed {
		s.store.WithUser(p.UserID, func(u *UserProfile) {
			u.AddTag("payment-fraud-suspected")
			u.RiskScore = clampScore(u.RiskScore + 10)
		})
	}

	span.SetAttributes(traces.RiskScore(d.RiskScore))
	switch {
	case !d.Allowed:
		metrics.PaymentDecisionsTotal.WithLabelValues("blocked").Inc()
	case d.RequiresVerification:
		metrics.PaymentDecisionsTotal.WithLabelValues("verification").Inc()
	default:
		metrics.PaymentDecisionsTotal.WithLabelValues("allowed").Inc()
	}
	return d
}

// MonitorAPIUsage records one API request against the per-IP usage
// window, blocking the IP when the window limit is exceeded and tagging
// fast error responses (a probing signature).
func (s *Service) MonitorAPIUsage(ctx context.Context, u APIUsage) {
	_, span := traces.StartSpan(ctx, "monitor.APIUsage",
		traces.IP(u.IP), traces.Endpoint(u.Endpoint))
	defer span.End()

	now := s.now()

	s.store.WithIP(u.IP, func(r *IPRecord) {
		r.LastSeen = now
		r.RequestCount++

		if r.windowStart.IsZero() || now.Sub(r.windowStart) >= s.cfg.APIWindow {
			r.windowStart = now
			r.windowRequests = 0
		}
		r.windowRequests++

		if u.StatusCode >= 400 && u.ResponseTime < 100*time.Millisecond {
			r.AddTag("fast-error-response")
		}

		if r.windowRequests > int64(s.cfg.APIRateLimit) && !r.BlockedAt(now) {
			r.Blocked = true
			r.BlockExpiry = now.Add(s.cfg.APIBlockDuration)
			r.BlockReason = "API rate limit exceeded"

			a := s.alerts.Create(AlertSuspiciousActivity, SeverityMedium,
				fmt.Sprintf("API flood from %s", u.IP),
				map[string]any{"ip": u.IP, "requests": r.windowRequests, "endpoint": u.Endpoint})
			span.SetAttributes(traces.AlertID(a.ID))
			s.emit(&audit.Event{
				Type:      audit.EventIPBlocked,
				Message:   "IP blocked for API flooding",
				RiskLevel: audit.RiskMedium,
				Request:   &audit.RequestContext{IP: u.IP, Endpoint: u.Endpoint},
				Metadata:  map[string]any{"requests": r.windowRequests},
			})
			metrics.IPBlocksTotal.WithLabelValues("api_rate").Inc()
			s.notifyBlock(u.IP, r.BlockReason)
		}
	})
}

// MonitorDataAccess records one data-access observation. Unauthorized
// EXPORT and DELETE raise a HIGH data_breach alert.
func (s *Service) MonitorDataAccess(ctx context.Context, a DataAccess) {
	_, span := traces.StartSpan(ctx, "monitor.DataAccess",
		traces.IP(a.IP), traces.Principal(a.UserID))
	defer span.End()

	now := s.now()

	s.store.WithIP(a.IP, func(r *IPRecord) {
		r.LastSeen = now
		r.RequestCount++
		if !a.Authorized {
			r.AddTag("unauthorized-access")
		}
	})

	if a.Authorized {
		return
	}

	s.store.WithUser(a.UserID, func(u *UserProfile) {
		u.AddTag("unauthorized-" + strings.ToLower(string(a.Action)))
	})

	level := audit.RiskMedium
	if a.Action == ActionExport || a.Action == ActionDelete {
		level = audit.RiskHigh
		alert := s.alerts.Create(AlertDataBreach, SeverityHigh,
			fmt.Sprintf("Unauthorized %s on %s", a.Action, a.ResourceType),
			map[string]any{
				"resourceType": a.ResourceType,
				"resourceId":   a.ResourceID,
				"userId":       a.UserID,
				"ip":           a.IP,
			})
		span.SetAttributes(traces.AlertID(alert.ID))
	}
	s.emit(&audit.Event{
		Type:      audit.EventAccessDenied,
		Message:   "unauthorized data access",
		RiskLevel: level,
		User:      &audit.UserContext{ID: a.UserID},
		Request:   &audit.RequestContext{IP: a.IP},
		Metadata: map[string]any{
			"resourceType": a.ResourceType,
			"resourceId":   a.ResourceID,
			"action":       string(a.Action),
		},
	})
}

// Metrics returns a read-only snapshot aggregated over IP records seen
// inside the current window plus the live alert set.
func (s *Service) Metrics() SecurityMetrics {
	now := s.now()
	cutoff := now.Add(-s.cfg.Window)

	var m SecurityMetrics
	var scoreSum, inWindow int
	s.store.RangeIPs(func(r *IPRecord) bool {
		m.TrackedIPs++
		if r.Blocked && now.Before(r.BlockExpiry) {
			m.BlockedIPs++
		}
		if r.LastSeen.After(cutoff) {
			m.FailedLoginAttempts += r.FailedLoginCount
			m.SuspiciousRequests += int64(len(r.Suspicious))
			scoreSum += r.RiskScore
			inWindow++
		}
		return true
	})
	if inWindow > 0 {
		m.RiskScore = scoreSum / inWindow
	}
	m.ActiveThreats, m.LastThreatDetected = s.alerts.threatStats()

	metrics.TrackedIPs.Set(float64(m.TrackedIPs))
	return m
}

// ActiveAlerts returns unresolved alerts, newest first.
func (s *Service) ActiveAlerts() []Alert {
	return s.alerts.Active()
}

// ResolveAlert marks an alert resolved. Returns false for unknown or
// already-resolved IDs.
func (s *Service) ResolveAlert(id string) bool {
	return s.alerts.Resolve(id)
}

// BlockIP administratively blocks an IP for the configured duration.
func (s *Service) BlockIP(ip, reason string) {
	now := s.now()
	s.store.WithIP(ip, func(r *IPRecord) {
		r.Blocked = true
		r.BlockExpiry = now.Add(s.cfg.BlockDuration)
		r.BlockReason = reason
	})

	s.emit(&audit.Event{
		Type:      audit.EventIPBlocked,
		Message:   "IP blocked by administrator",
		RiskLevel: audit.RiskHigh,
		Request:   &audit.RequestContext{IP: ip},
		Metadata:  map[string]any{"reason": reason},
	})
	metrics.IPBlocksTotal.WithLabelValues("admin").Inc()
	s.notifyBlock(ip, reason)
	s.logger.Warn("IP blocked", "ip", ip, "reason", reason)
}

// ClearAllLocks removes every IP block and account lock. Returns
// ErrAdminResetDisabled unless the configuration allows resets.
func (s *Service) ClearAllLocks() (int, error) {
	if !s.cfg.AllowAdminReset {
		return 0, ErrAdminResetDisabled
	}
	cleared := s.store.ClearLocks()
	s.logger.Info("administrative reset cleared locks", "records", cleared)
	return cleared, nil
}

// sweep evicts stale unblocked IP records and old resolved alerts.
func (s *Service) sweep(now time.Time) (evictedIPs, evictedAlerts int) {
	cutoff := now.Add(-s.cfg.IPIdleTTL)

	var stale []string
	s.store.RangeIPs(func(r *IPRecord) bool {
		if !r.Blocked && r.LastSeen.Before(cutoff) {
			stale = append(stale, r.Address)
		}
		return true
	})
	for _, addr := range stale {
		ok := s.store.EvictIP(addr, func(r *IPRecord) bool {
			return !r.Blocked && r.LastSeen.Before(cutoff)
		})
		if ok {
			evictedIPs++
		}
	}

	evictedAlerts = s.alerts.sweep(now, s.cfg.ResolvedAlertRetention)

	metrics.SweepEvictionsTotal.WithLabelValues("ip").Add(float64(evictedIPs))
	metrics.SweepEvictionsTotal.WithLabelValues("alert").Add(float64(evictedAlerts))
	metrics.TrackedIPs.Set(float64(s.store.IPCount()))
	return evictedIPs, evictedAlerts
}

func (s *Service) emit(e *audit.Event) {
	s.sink.Emit(e)
}

func (s *Service) notifyBlock(ip, reason string) {
	if s.onBlock != nil {
		s.onBlock(ip, reason)
	}
}

// maskTail reduces a sensitive value to its last n characters.
func maskTail(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return "****" + v[len(v)-n:]
}
