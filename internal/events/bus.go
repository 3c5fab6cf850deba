package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a published domain event.
type Event struct {
	ID         uuid.UUID
	Topic      string
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

// Publisher delivers events to one downstream system.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus encodes domain events and fans them out to every configured publisher.
type Bus struct {
	Publishers []Publisher
	Now        func() time.Time
}

// Emit builds the event and hands it to all publishers. Every publisher is attempted; their errors are joined.
func (b *Bus) Emit(ctx context.Context, topic, key string, payload any) error {
	if b == nil {
		return errors.New("events: bus not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("events: key is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{ID: uuid.New(), Topic: topic, Key: key, Payload: encoded, OccurredAt: now().UTC()}

	var joined error
	for _, p := range b.Publishers {
		if p == nil {
			continue
		}
		if pubErr := p.Publish(ctx, ev); pubErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: publish %s: %w", topic, pubErr))
		}
	}
	return joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}
