// Package broadcast fans out demand state-change notifications to interested
// observers (dashboards). Delivery is at-least-once to currently-subscribed
// handlers with no replay: a handler that subscribes after an event was
// published never sees it, and duplicate delivery is possible, so consumers
// de-duplicate by event ID and query current state on subscribe when they
// need catch-up.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics published by the lifecycle and vote services.
const (
	TopicDemands = "demands"
)

// DemandTopic returns the per-demand topic name.
func DemandTopic(demandID string) string {
	return TopicDemands + ":" + demandID
}

// Event is a single state-change notification. ID is the consumer's
// de-duplication key.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	DemandID   string          `json:"demandId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewEvent builds an event, marshalling the payload snapshot.
func NewEvent(eventType, demandID string, payload interface{}) (Event, error) {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		DemandID:   demandID,
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		evt.Payload = raw
	}
	return evt, nil
}

// Handler consumes delivered events.
type Handler func(Event)

// Broadcaster is the publish/subscribe contract. Unsubscribe functions are
// idempotent and safe to call multiple times.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(topic string, handler Handler) (func(), error)
	Close() error
}
