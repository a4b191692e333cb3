// Package audit records security-relevant account events
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Audit actions emitted by the two-factor flows
const (
	ActionTwoFaEnabled  = "2fa_enabled"
	ActionTwoFaDisabled = "2fa_disabled"
	ActionLoginTwoFa    = "login_2fa"
)

// Event represents a single audit event
type Event struct {
	UserID    uuid.UUID
	Action    string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// WithMetadata adds metadata to the event
func (e Event) WithMetadata(key string, value interface{}) Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sink receives audit events. Implementations must tolerate concurrent calls.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// SlogSink writes audit events to the structured log
type SlogSink struct {
	Logger *slog.Logger
}

// Record writes the event as a structured log line
func (s *SlogSink) Record(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		"action", event.Action,
		"userId", event.UserID.String(),
		"timestamp", event.Timestamp.Format(time.RFC3339),
		"metadata", event.Metadata)
	return nil
}

// Recorder fans audit events out to its sinks. Recording is asynchronous
// and never blocks or fails the calling flow; sink errors are logged.
type Recorder struct {
	sinks []Sink
	wg    sync.WaitGroup
}

// NewRecorder creates a recorder over the given sinks. With no sinks the
// recorder falls back to a SlogSink.
func NewRecorder(sinks ...Sink) *Recorder {
	if len(sinks) == 0 {
		sinks = []Sink{&SlogSink{}}
	}
	return &Recorder{sinks: sinks}
}

// Record dispatches the event to every sink asynchronously
func (r *Recorder) Record(ctx context.Context, action string, userID uuid.UUID, metadata map[string]interface{}) {
	event := Event{
		UserID:    userID,
		Action:    action,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Detach from the request context so an aborted request does not
		// drop the audit record
		ctx := context.WithoutCancel(ctx)
		for _, sink := range r.sinks {
			if err := sink.Record(ctx, event); err != nil {
				slog.Error("Failed to record audit event", "action", event.Action, "err", err)
			}
		}
	}()
}

// Wait blocks until all in-flight events have been dispatched. Intended for
// shutdown and tests.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
