package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/propforge/sentinel/internal/idgen"
)

const (
	dispatcherChanSize  = 4096
	dispatcherBatchSize = 100
	dispatcherFlushMs   = 500
)

// Dispatcher asynchronously batches security events to a Sink.
// Emit is non-blocking: when the channel is full the event is dropped
// and a counter incremented, so the request path never stalls on the
// audit log.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	ch      chan *Event
	stop    chan struct{}
	running atomic.Bool
	dropped atomic.Int64
}

// NewDispatcher creates an async event dispatcher.
func NewDispatcher(sink Sink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sink:   sink,
		logger: logger,
		ch:     make(chan *Event, dispatcherChanSize),
		stop:   make(chan struct{}),
	}
}

// Emit enqueues an event, stamping ID and timestamp if unset.
func (d *Dispatcher) Emit(e *Event) {
	if e.ID == "" {
		e.ID = idgen.WithPrefix("evt_")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns the number of events dropped due to a full channel.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Start begins draining the channel and flushing batches. Call in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.running.Store(true)
	defer d.running.Store(false)

	ticker := time.NewTicker(time.Duration(dispatcherFlushMs) * time.Millisecond)
	defer ticker.Stop()

	var buf []*Event

	for {
		select {
		case <-ctx.Done():
			d.flush(buf)
			return
		case <-d.stop:
			d.flush(buf)
			return
		case e := <-d.ch:
			buf = append(buf, e)
			if len(buf) >= dispatcherBatchSize {
				d.flush(buf)
				buf = nil
			}
		case <-ticker.C:
			if len(buf) > 0 {
				d.flush(buf)
				buf = nil
			}
		}
	}
}

// Stop signals the dispatcher to flush remaining events and exit.
func (d *Dispatcher) Stop() {
	select {
	case d.stop <- struct{}{}:
	default:
	}
}

// Running reports whether the dispatch loop is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

func (d *Dispatcher) flush(buf []*Event) {
	if len(buf) == 0 {
		return
	}
	d.safeFlush(buf)
}

func (d *Dispatcher) safeFlush(buf []*Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in audit dispatcher flush", "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.sink.WriteBatch(ctx, buf); err != nil {
		d.logger.Error("audit dispatcher flush failed", "error", err, "count", len(buf))
	}
}
