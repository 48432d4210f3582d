package monitor

import (
	"sync"
	"time"
)

const (
	maxSuspiciousTags = 20
	maxKnownIPs       = 10
)

// IPRecord is the per-IP tracking state. Fields are only read or
// written while the record's lock is held (via TrackingStore.WithIP).
type IPRecord struct {
	mu      sync.Mutex
	evicted bool

	Address          string
	FirstSeen        time.Time
	LastSeen         time.Time
	RequestCount     int64
	FailedLoginCount int64
	Suspicious       []string
	RiskScore        int
	Blocked          bool
	BlockExpiry      time.Time
	BlockReason      string

	// API usage window, reset when the window rolls over
	windowStart    time.Time
	windowRequests int64
}

// AddTag appends a suspicious-activity tag, evicting the oldest entry
// once the cap is reached. Caller holds the record lock.
func (r *IPRecord) AddTag(tag string) {
	r.Suspicious = append(r.Suspicious, tag)
	if len(r.Suspicious) > maxSuspiciousTags {
		r.Suspicious = r.Suspicious[len(r.Suspicious)-maxSuspiciousTags:]
	}
}

// BlockedAt reports whether the block is active at the given time and
// lazily clears an expired block. Caller holds the record lock.
func (r *IPRecord) BlockedAt(now time.Time) bool {
	if !r.Blocked {
		return false
	}
	if now.Before(r.BlockExpiry) {
		return true
	}
	r.Blocked = false
	r.BlockExpiry = time.Time{}
	r.BlockReason = ""
	return false
}

// UserProfile is the per-user tracking state. Same locking discipline
// as IPRecord: access only through TrackingStore.WithUser.
type UserProfile struct {
	mu      sync.Mutex
	evicted bool

	ID                  string
	LastLogin           time.Time
	FailedLoginAttempts int
	KnownIPs            []string
	Suspicious          []string
	RiskScore           int
	AccountLocked       bool
	LockExpiry          time.Time
}

// KnowsIP reports whether the IP was seen on a prior successful login.
// Caller holds the record lock.
func (p *UserProfile) KnowsIP(ip string) bool {
	for _, known := range p.KnownIPs {
		if known == ip {
			return true
		}
	}
	return false
}

// RememberIP records an IP seen on a successful login, FIFO-evicting
// the oldest once the cap is reached. Caller holds the record lock.
func (p *UserProfile) RememberIP(ip string) {
	if p.KnowsIP(ip) {
		return
	}
	p.KnownIPs = append(p.KnownIPs, ip)
	if len(p.KnownIPs) > maxKnownIPs {
		p.KnownIPs = p.KnownIPs[len(p.KnownIPs)-maxKnownIPs:]
	}
}

// AddTag appends a suspicious-activity tag. Caller holds the record lock.
func (p *UserProfile) AddTag(tag string) {
	p.Suspicious = append(p.Suspicious, tag)
	if len(p.Suspicious) > maxSuspiciousTags {
		p.Suspicious = p.Suspicious[len(p.Suspicious)-maxSuspiciousTags:]
	}
}

// LockedAt reports whether the account lock is active at the given time
// and lazily clears an expired lock. Caller holds the record lock.
func (p *UserProfile) LockedAt(now time.Time) bool {
	if !p.AccountLocked {
		return false
	}
	if now.Before(p.LockExpiry) {
		return true
	}
	p.AccountLocked = false
	p.LockExpiry = time.Time{}
	return false
}

// TrackingStore holds per-IP and per-user records. Records are created
// lazily on first access and every mutation runs under the record's own
// lock, so different keys update fully in parallel.
type TrackingStore struct {
	ips   sync.Map // map[string]*IPRecord
	users sync.Map // map[string]*UserProfile
	now   func() time.Time
}

// NewTrackingStore creates an empty tracking store.
func NewTrackingStore(now func() time.Time) *TrackingStore {
	if now == nil {
		now = time.Now
	}
	return &TrackingStore{now: now}
}

// WithIP runs fn with the record for addr locked, creating a zero-state
// record on first access. If the record was evicted between load and
// lock, the lookup retries so fn never sees a dead record.
func (s *TrackingStore) WithIP(addr string, fn func(r *IPRecord)) {
	for {
		v, loaded := s.ips.Load(addr)
		if !loaded {
			t := s.now()
			v, _ = s.ips.LoadOrStore(addr, &IPRecord{Address: addr, FirstSeen: t, LastSeen: t})
		}
		rec := v.(*IPRecord)
		rec.mu.Lock()
		if rec.evicted {
			rec.mu.Unlock()
			continue
		}
		fn(rec)
		rec.mu.Unlock()
		return
	}
}

// WithUser runs fn with the profile for id locked, creating a zero-state
// profile on first access.
func (s *TrackingStore) WithUser(id string, fn func(p *UserProfile)) {
	for {
		v, loaded := s.users.Load(id)
		if !loaded {
			v, _ = s.users.LoadOrStore(id, &UserProfile{ID: id})
		}
		p := v.(*UserProfile)
		p.mu.Lock()
		if p.evicted {
			p.mu.Unlock()
			continue
		}
		fn(p)
		p.mu.Unlock()
		return
	}
}

// RangeIPs calls fn for each IP record with its lock held. Return false
// from fn to stop iteration. Evicted records are skipped.
func (s *TrackingStore) RangeIPs(fn func(r *IPRecord) bool) {
	s.ips.Range(func(_, v any) bool {
		rec := v.(*IPRecord)
		rec.mu.Lock()
		if rec.evicted {
			rec.mu.Unlock()
			return true
		}
		keep := fn(rec)
		rec.mu.Unlock()
		return keep
	})
}

// EvictIP removes the record for addr if cond holds under the record
// lock. Reports whether the record was evicted.
func (s *TrackingStore) EvictIP(addr string, cond func(r *IPRecord) bool) bool {
	v, ok := s.ips.Load(addr)
	if !ok {
		return false
	}
	rec := v.(*IPRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.evicted || !cond(rec) {
		return false
	}
	rec.evicted = true
	s.ips.Delete(addr)
	return true
}

// ClearLocks removes every IP block and account lock and resets failure
// counters. Returns the number of records touched.
func (s *TrackingStore) ClearLocks() int {
	cleared := 0
	s.ips.Range(func(_, v any) bool {
		rec := v.(*IPRecord)
		rec.mu.Lock()
		if !rec.evicted && (rec.Blocked || rec.FailedLoginCount > 0) {
			rec.Blocked = false
			rec.BlockExpiry = time.Time{}
			rec.BlockReason = ""
			rec.FailedLoginCount = 0
			cleared++
		}
		rec.mu.Unlock()
		return true
	})
	s.users.Range(func(_, v any) bool {
		p := v.(*UserProfile)
		p.mu.Lock()
		if !p.evicted && (p.AccountLocked || p.FailedLoginAttempts > 0) {
			p.AccountLocked = false
			p.LockExpiry = time.Time{}
			p.FailedLoginAttempts = 0
			cleared++
		}
		p.mu.Unlock()
		return true
	})
	return cleared
}

// IPCount returns the number of tracked IP records.
func (s *TrackingStore) IPCount() int {
	n := 0
	s.ips.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
