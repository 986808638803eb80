// Package activity describes notifications emitted when patches are submitted
// or moderated.
package activity

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// EventType names an activity notification.
type EventType string

const (
	EventPatchSubmitted   EventType = "patch.submitted"
	EventPatchModerated   EventType = "patch.moderated"
	EventPatchResubmitted EventType = "patch.resubmitted"
)

// Event is the payload delivered to sinks.
type Event struct {
	Type       EventType `json:"event"`
	PatchID    string    `json:"patch_id"`
	PatchKind  string    `json:"patch_type"`
	TargetPath string    `json:"target_path"`
	Status     string    `json:"status"`
	Action     string    `json:"action,omitempty"`
	ActorRef   string    `json:"actor_ref"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink delivers events somewhere outside the request path.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(event Event)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	log    zerolog.Logger
	redact func(string) string
}

// NewLogSink creates a LogSink. redact, when non-nil, is applied to actor refs.
func NewLogSink(log zerolog.Logger, redact func(string) string) *LogSink {
	return &LogSink{
		log:    log.With().Str("component", "activity").Logger(),
		redact: redact,
	}
}

// Notify implements Sink.
func (s *LogSink) Notify(_ context.Context, event Event) error {
	actor := event.ActorRef
	if s.redact != nil {
		actor = s.redact(actor)
	}
	s.log.Info().
		Str("event", string(event.Type)).
		Str("patch_id", event.PatchID).
		Str("patch_type", event.PatchKind).
		Str("target", event.TargetPath).
		Str("status", event.Status).
		Str("action", event.Action).
		Str("actor", actor).
		Time("occurred_at", event.OccurredAt).
		Msg("patch activity")
	return nil
}

// SyncPublisher delivers each event inline. Errors are logged.
type SyncPublisher struct {
	sink Sink
	log  zerolog.Logger
}

// NewSyncPublisher creates a SyncPublisher.
func NewSyncPublisher(sink Sink, log zerolog.Logger) *SyncPublisher {
	return &SyncPublisher{sink: sink, log: log}
}

// Publish implements Publisher.
func (p *SyncPublisher) Publish(event Event) {
	if err := p.sink.Notify(context.Background(), event); err != nil {
		p.log.Warn().Err(err).Str("patch_id", event.PatchID).Msg("activity delivery failed")
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	Events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(event Event) {
	r.Events = append(r.Events, event)
}
