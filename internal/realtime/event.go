// Package realtime delivers row-change notifications and ephemeral
// broadcasts to local listeners. Delivery is best effort and may repeat or
// reorder events; listeners treat an event as a hint to re-fetch.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Change feeds are global per table; listeners demultiplex by BattleID.
const (
	TopicBattles = "table:battles"
	TopicRounds  = "table:battle_rounds"
)

// BattleTopic is the broadcast channel scoped to one match.
func BattleTopic(battleID string) string { return "battle:" + battleID }

// Event types. Row changes use the SQL verb; broadcasts use a name.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"

	EventOpponentSubmitted = "opponent_submitted"
	EventClueRevealed      = "clue_revealed"
	EventRoundResolved     = "round_resolved"
)

type Event struct {
	Topic    string          `json:"topic"`
	Type     string          `json:"type"`
	BattleID string          `json:"battle_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
}

// NewEvent encodes payload into an event of the given type.
func NewEvent(typ, battleID string, payload any) (Event, error) {
	ev := Event{Type: typ, BattleID: battleID, SentAt: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// Publisher sends an event to every subscriber of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event) error
}

// Subscription is one underlying channel subscription. Events is closed
// when the subscription ends, either by Close or by a channel error that
// Err then reports.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Transport opens underlying subscriptions and publishes broadcasts.
type Transport interface {
	Publisher
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}
