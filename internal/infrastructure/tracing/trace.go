package tracing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Header carries the trace id on requests and responses
const Header = "X-Trace-ID"

const spanBuffer = 1000

// Span is one traced request
type Span struct {
	TraceID   string
	Name      string
	StartTime time.Time
	Duration  time.Duration
	Status    int
	Tags      map[string]string
	Err       error
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	if value == "" {
		return
	}
	s.Tags[key] = value
}

// Tracer logs finished spans from a background collector so request
// handling never waits on the logger
type Tracer struct {
	logger *zap.Logger
	spans  chan *Span
	done   chan struct{}
}

// New creates a tracer and starts its collector
func New(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		logger: logger,
		spans:  make(chan *Span, spanBuffer),
		done:   make(chan struct{}),
	}
	go t.collect()
	return t
}

// Start begins a span. An empty traceID gets a fresh one.
func (t *Tracer) Start(ctx context.Context, name, traceID string) (*Span, context.Context) {
	if traceID == "" {
		traceID = NewTraceID()
	}
	span := &Span{
		TraceID:   traceID,
		Name:      name,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}
	return span, WithTraceID(ctx, traceID)
}

// Finish records the span's duration and hands it to the collector.
// Spans are dropped when the buffer is full.
func (t *Tracer) Finish(span *Span) {
	span.Duration = time.Since(span.StartTime)
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span", zap.String("trace_id", span.TraceID))
	}
}

// Close stops the collector after draining queued spans
func (t *Tracer) Close() {
	close(t.spans)
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		t.log(span)
	}
}

func (t *Tracer) log(span *Span) {
	fields := make([]zap.Field, 0, 4+len(span.Tags))
	fields = append(fields,
		zap.String("trace_id", span.TraceID),
		zap.String("operation", span.Name),
		zap.Int("status", span.Status),
		zap.Duration("duration", span.Duration),
	)
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	switch {
	case span.Err != nil:
		t.logger.Error("Request failed", append(fields, zap.Error(span.Err))...)
	case span.Status >= 500:
		t.logger.Warn("Request completed", fields...)
	default:
		t.logger.Debug("Request completed", fields...)
	}
}

// NewTraceID returns a 32 hex digit id
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type contextKey struct{}

// WithTraceID stores a trace id in ctx
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey{}, traceID)
}

// TraceID returns the trace id stored in ctx, if any
func TraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(contextKey{}).(string)
	return traceID
}
