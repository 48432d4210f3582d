package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Sweeper periodically evicts stale tracking records and old resolved
// alerts. The sweep takes the same per-record locks as the request
// path, so a record is never evicted mid-update.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	lastRun  atomic.Int64 // unix nanos of the last completed sweep
}

// NewSweeper creates a cleanup sweeper.
// interval is typically 1 hour in production, shorter in demos.
func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.run()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.run()
		}
	}
}

// Stop signals the sweeper to stop.
func (w *Sweeper) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

// LastRun returns the time of the last completed sweep, zero if none.
func (w *Sweeper) LastRun() time.Time {
	n := w.lastRun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (w *Sweeper) run() {
	now := time.Now()
	ips, alerts := w.svc.sweep(now)
	w.lastRun.Store(now.UnixNano())
	if ips > 0 || alerts > 0 {
		w.logger.Info("cleanup sweep completed", "evicted_ips", ips, "evicted_alerts", alerts)
	}
}
