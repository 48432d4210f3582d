package monitor

// GeoRiskProvider supplies a geographic risk contribution for an IP.
// The default implementation returns 0; deployments with a geo-IP feed
// plug their own in via WithGeoRisk.
type GeoRiskProvider interface {
	GeoRisk(ip string) int
}

// NopGeoRisk is the default no-op provider.
type NopGeoRisk struct{}

func (NopGeoRisk) GeoRisk(string) int { return 0 }

// AuthRiskInput carries the tracking-state snapshot an auth score is
// computed from. Pure data so scoring stays directly unit-testable.
type AuthRiskInput struct {
	IPFailedLogins   int64
	IPSuspicious     int
	UserFailedLogins int
	UserSuspicious   int
	KnownIP          bool
	Hour             int // local hour of the attempt, 0-23
	GeoRisk          int
}

// AuthRiskScore computes the risk score for an authentication attempt.
// Pure function of its inputs, result clamped to [0, 100].
func AuthRiskScore(in AuthRiskInput) int {
	score := int(min64(in.IPFailedLogins*10, 50))
	score += in.IPSuspicious * 5

	if !in.KnownIP {
		score += 20
	}

	userFails := in.UserFailedLogins * 5
	if userFails > 25 {
		userFails = 25
	}
	score += userFails
	score += in.UserSuspicious * 3

	// Off-hours heuristic
	if in.Hour < 6 || in.Hour > 22 {
		score += 10
	}

	score += in.GeoRisk

	return clampScore(score)
}

// PaymentRiskScore layers amount-based risk on top of an auth score.
// Thresholds are absolute transaction amounts, not percentiles.
func PaymentRiskScore(authScore int, amount float64) int {
	score := authScore
	switch {
	case amount > 500_000:
		score += 30
	case amount > 100_000:
		score += 20
	case amount > 50_000:
		score += 10
	}
	return clampScore(score)
}

// clampScore bounds a score to [0, 100].
func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
