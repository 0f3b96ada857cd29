// Package audit records who changed which task, and whether it worked.
// Events are queued and written to sinks by a background worker so that a
// slow sink never holds up a claim or completion.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action is the mutation being audited.
type Action string

const (
	ActionClaim              Action = "claim"
	ActionComplete           Action = "complete"
	ActionAddCandidateGroups Action = "add_candidate_groups"
	ActionPropagateVariables Action = "propagate_variables"
)

// Outcome represents the outcome of an action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Resource types.
const (
	ResourceTask     = "task"
	ResourceInstance = "instance"
)

// Event represents an audit event.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome"`

	ActorID      string `json:"actor_id,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	Details      map[string]any `json:"details,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Sink is an audit log destination.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
}

// Config holds audit logger configuration.
type Config struct {
	Enabled    bool
	BufferSize int
}

// DefaultConfig returns default audit config.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		BufferSize: 1000,
	}
}

// Logger is the audit logger.
type Logger struct {
	sinks   []Sink
	sinksMu sync.RWMutex

	enabled bool

	mu     sync.RWMutex
	closed bool
	buffer chan *Event
	done   chan struct{}

	baseLogger *slog.Logger
	now        func() time.Time
}

// NewLogger creates an audit logger and starts its writer.
func NewLogger(config Config, baseLogger *slog.Logger) *Logger {
	if baseLogger == nil {
		baseLogger = slog.Default()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	l := &Logger{
		enabled:    config.Enabled,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		baseLogger: baseLogger,
		now:        time.Now,
	}

	go l.worker()

	return l
}

// AddSink adds an audit sink.
func (l *Logger) AddSink(sink Sink) {
	l.sinksMu.Lock()
	defer l.sinksMu.Unlock()
	l.sinks = append(l.sinks, sink)
}

func (l *Logger) stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
}

// Log queues event. When the buffer is full the event is dropped with a
// warning. A nil Logger discards everything.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if l == nil || !l.enabled {
		return
	}
	l.stamp(event)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.buffer <- event:
	default:
		l.baseLogger.Warn("audit buffer full, dropping event",
			slog.String("event_id", event.ID),
			slog.String("action", string(event.Action)),
		)
	}
}

// LogSync writes event to every sink before returning.
func (l *Logger) LogSync(ctx context.Context, event *Event) error {
	if l == nil || !l.enabled {
		return nil
	}
	l.stamp(event)
	return l.writeToSinks(ctx, event)
}

func (l *Logger) worker() {
	defer close(l.done)
	for event := range l.buffer {
		if err := l.writeToSinks(context.Background(), event); err != nil {
			l.baseLogger.Error("failed to write audit event",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *Logger) writeToSinks(ctx context.Context, event *Event) error {
	l.sinksMu.RLock()
	sinks := l.sinks
	l.sinksMu.RUnlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close drains queued events and closes the sinks. Later calls to Log are
// ignored.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.buffer)
	l.mu.Unlock()

	<-l.done

	l.sinksMu.Lock()
	defer l.sinksMu.Unlock()

	var errs []error
	for _, sink := range l.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SlogSink writes audit events as structured log records.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Write(ctx context.Context, event *Event) error {
	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("action", string(event.Action)),
		slog.String("outcome", string(event.Outcome)),
		slog.String("actor_id", event.ActorID),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", event.ErrorMessage))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", event.Details))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit event", attrs...)
	return nil
}

func (s *SlogSink) Close() error {
	return nil
}

// EventBuilder helps build audit events.
type EventBuilder struct {
	event Event
}

// NewEventBuilder starts an event for actorID performing action.
func NewEventBuilder(action Action, actorID string) *EventBuilder {
	return &EventBuilder{
		event: Event{
			Action:  action,
			Outcome: OutcomeSuccess,
			ActorID: actorID,
		},
	}
}

// WithResource sets resource information.
func (b *EventBuilder) WithResource(resourceType, id string) *EventBuilder {
	b.event.ResourceType = resourceType
	b.event.ResourceID = id
	return b
}

// WithDetail adds a detail.
func (b *EventBuilder) WithDetail(key string, value any) *EventBuilder {
	if b.event.Details == nil {
		b.event.Details = make(map[string]any)
	}
	b.event.Details[key] = value
	return b
}

// WithOutcome overrides the outcome. err, when non-nil, is recorded as the
// error message.
func (b *EventBuilder) WithOutcome(o Outcome, err error) *EventBuilder {
	b.event.Outcome = o
	if err != nil {
		b.event.ErrorMessage = err.Error()
	}
	return b
}

// Build returns the built event.
func (b *EventBuilder) Build() *Event {
	return &b.event
}
