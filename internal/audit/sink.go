package audit

import (
	"context"
	"log/slog"
)

// Sink receives batches of security events. Implementations may block;
// the dispatcher isolates callers from sink latency.
type Sink interface {
	WriteBatch(ctx context.Context, events []*Event) error
}

// SlogSink writes each event as a structured log line.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that logs events via slog.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) WriteBatch(_ context.Context, events []*Event) error {
	for _, e := range events {
		attrs := []any{
			"event_id", e.ID,
			"event_type", string(e.Type),
			"risk_level", string(e.RiskLevel),
		}
		if e.User != nil {
			attrs = append(attrs, "user_id", e.User.ID)
		}
		if e.Request != nil && e.Request.IP != "" {
			attrs = append(attrs, "ip", e.Request.IP)
		}
		if len(e.Tags) > 0 {
			attrs = append(attrs, "tags", e.Tags)
		}
		switch e.RiskLevel {
		case RiskHigh, RiskCritical:
			s.logger.Warn(e.Message, attrs...)
		default:
			s.logger.Info(e.Message, attrs...)
		}
	}
	return nil
}

// MultiSink fans a batch out to several sinks. A failing sink does not
// prevent delivery to the others; the first error is returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) WriteBatch(ctx context.Context, events []*Event) error {
	var first error
	for _, s := range m.sinks {
		if err := s.WriteBatch(ctx, events); err != nil && first == nil {
			first = err
		}
	}
	return first
}
