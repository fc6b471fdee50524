// Package events publishes fire-and-forget catalog lifecycle events to NATS
// JetStream.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectBackfillStarted   = "catalog.backfill.started"
	SubjectBackfillCompleted = "catalog.backfill.completed"
	SubjectBackfillFailed    = "catalog.backfill.failed"
)

// Event is the envelope sent on every catalog.* lifecycle subject.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	ActorID    string         `json:"actor_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher is safe to use as a nil pointer or with a nil JetStream context;
// both are no-ops.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
	now func() time.Time
}

func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Publish never surfaces failures to the caller; they are logged.
func (p *Publisher) Publish(subject, eventName, actorID string, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	data, err := json.Marshal(p.envelope(eventName, actorID, props))
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *Publisher) envelope(eventName, actorID string, props map[string]any) Event {
	return Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		ActorID:    actorID,
		OccurredAt: p.now(),
		Properties: props,
	}
}
