package monitor

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestWithIPCreatesRecordOnFirstUse(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s := NewTrackingStore(func() time.Time { return base })

	s.WithIP("1.1.1.1", func(r *IPRecord) {
		if r.Address != "1.1.1.1" {
			t.Errorf("address = %q", r.Address)
		}
		if !r.FirstSeen.Equal(base) || !r.LastSeen.Equal(base) {
			t.Errorf("seen timestamps = %v / %v, want %v", r.FirstSeen, r.LastSeen, base)
		}
	})
	if n := s.IPCount(); n != 1 {
		t.Errorf("IP count = %d, want 1", n)
	}
}

func TestWithIPConcurrentIncrements(t *testing.T) {
	s := NewTrackingStore(nil)

	const workers = 20
	const perWorker = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.WithIP("2.2.2.2", func(r *IPRecord) {
					r.RequestCount++
				})
			}
		}()
	}
	wg.Wait()

	s.WithIP("2.2.2.2", func(r *IPRecord) {
		if want := int64(workers * perWorker); r.RequestCount != want {
			t.Errorf("request count = %d, want %d", r.RequestCount, want)
		}
	})
}

func TestAddTagCapsAndEvictsOldest(t *testing.T) {
	s := NewTrackingStore(nil)

	s.WithIP("3.3.3.3", func(r *IPRecord) {
		for i := 0; i < 25; i++ {
			r.AddTag(fmt.Sprintf("tag-%d", i))
		}
		if len(r.Suspicious) != maxSuspiciousTags {
			t.Fatalf("tag count = %d, want %d", len(r.Suspicious), maxSuspiciousTags)
		}
		if r.Suspicious[0] != "tag-5" {
			t.Errorf("oldest retained tag = %q, want tag-5", r.Suspicious[0])
		}
		if last := r.Suspicious[len(r.Suspicious)-1]; last != "tag-24" {
			t.Errorf("newest tag = %q, want tag-24", last)
		}
	})
}

func TestRememberIPCapsAndDedupes(t *testing.T) {
	s := NewTrackingStore(nil)

	s.WithUser("u@example.com", func(p *UserProfile) {
		for i := 0; i < 12; i++ {
			p.RememberIP(fmt.Sprintf("10.0.0.%d", i))
		}
		p.RememberIP("10.0.0.11") // already known, no-op
		if len(p.KnownIPs) != maxKnownIPs {
			t.Fatalf("known IPs = %d, want %d", len(p.KnownIPs), maxKnownIPs)
		}
		if p.KnowsIP("10.0.0.0") || p.KnowsIP("10.0.0.1") {
			t.Error("oldest IPs not evicted")
		}
		if !p.KnowsIP("10.0.0.11") {
			t.Error("newest IP not retained")
		}
	})
}

func TestBlockedAtClearsExpiredBlock(t *testing.T) {
	s := NewTrackingStore(nil)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	s.WithIP("4.4.4.4", func(r *IPRecord) {
		r.Blocked = true
		r.BlockExpiry = base.Add(time.Minute)
		r.BlockReason = "test"

		if !r.BlockedAt(base) {
			t.Error("block not active before expiry")
		}
		if r.BlockedAt(base.Add(2 * time.Minute)) {
			t.Error("block active after expiry")
		}
		if r.Blocked || r.BlockReason != "" {
			t.Error("expired block not cleared")
		}
	})
}

func TestLockedAtClearsExpiredLock(t *testing.T) {
	s := NewTrackingStore(nil)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	s.WithUser("v@example.com", func(p *UserProfile) {
		p.AccountLocked = true
		p.LockExpiry = base.Add(time.Hour)

		if !p.LockedAt(base) {
			t.Error("lock not active before expiry")
		}
		if p.LockedAt(base.Add(2 * time.Hour)) {
			t.Error("lock active after expiry")
		}
		if p.AccountLocked {
			t.Error("expired lock not cleared")
		}
	})
}

func TestEvictIPHonorsCondition(t *testing.T) {
	s := NewTrackingStore(nil)

	s.WithIP("5.5.5.5", func(r *IPRecord) {
		r.Blocked = true
		r.RequestCount = 7
	})

	if s.EvictIP("5.5.5.5", func(r *IPRecord) bool { return !r.Blocked }) {
		t.Fatal("evicted a record the condition rejected")
	}
	if !s.EvictIP("5.5.5.5", func(r *IPRecord) bool { return true }) {
		t.Fatal("eviction failed")
	}
	if s.EvictIP("5.5.5.5", func(r *IPRecord) bool { return true }) {
		t.Error("evicting twice reported success")
	}

	// A later access gets a fresh record, not the evicted one.
	s.WithIP("5.5.5.5", func(r *IPRecord) {
		if r.RequestCount != 0 {
			t.Errorf("fresh record carried old state: count %d", r.RequestCount)
		}
	})
}

func TestClearLocksResetsState(t *testing.T) {
	s := NewTrackingStore(nil)

	s.WithIP("6.6.6.6", func(r *IPRecord) {
		r.Blocked = true
		r.FailedLoginCount = 4
	})
	s.WithIP("6.6.6.7", func(r *IPRecord) {}) // clean, should not count
	s.WithUser("w@example.com", func(p *UserProfile) {
		p.AccountLocked = true
		p.FailedLoginAttempts = 9
	})

	if cleared := s.ClearLocks(); cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}

	s.WithIP("6.6.6.6", func(r *IPRecord) {
		if r.Blocked || r.FailedLoginCount != 0 {
			t.Errorf("IP state after clear: blocked=%v fails=%d", r.Blocked, r.FailedLoginCount)
		}
	})
	s.WithUser("w@example.com", func(p *UserProfile) {
		if p.AccountLocked || p.FailedLoginAttempts != 0 {
			t.Errorf("user state after clear: locked=%v fails=%d", p.AccountLocked, p.FailedLoginAttempts)
		}
	})
}

func TestRangeIPsSkipsEvicted(t *testing.T) {
	s := NewTrackingStore(nil)

	for i := 0; i < 3; i++ {
		s.WithIP(fmt.Sprintf("7.7.7.%d", i), func(r *IPRecord) {})
	}
	s.EvictIP("7.7.7.1", func(*IPRecord) bool { return true })

	var seen []string
	s.RangeIPs(func(r *IPRecord) bool {
		seen = append(seen, r.Address)
		return true
	})
	if len(seen) != 2 {
		t.Errorf("ranged over %d records, want 2 (%v)", len(seen), seen)
	}
	for _, addr := range seen {
		if addr == "7.7.7.1" {
			t.Error("evicted record surfaced in range")
		}
	}
}
