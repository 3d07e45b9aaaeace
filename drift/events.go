package drift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// EventBucket is the KV bucket name for drift events.
const EventBucket = "DRIFT_EVENTS"

// Event statuses.
const (
	EventNeedsReview = "NEEDS_REVIEW"
	EventActioned    = "ACTIONED"
	EventIgnored     = "IGNORED"
)

// Event records one confirmed drift detection for a model. Events are
// append-only; the only permitted mutation is resolving a NEEDS_REVIEW
// or IGNORED event.
type Event struct {
	ID          string    `json:"id"`
	ModelName   string    `json:"model_name"`
	Score       float64   `json:"score"`
	Threshold   float64   `json:"threshold"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	DetectedAt  time.Time `json:"detected_at"`
	Status      string    `json:"status"`
	Action      string    `json:"action,omitempty"`
	ActionedAt  time.Time `json:"actioned_at"`
}

// EventStoreBucket is the subset of jetstream.KeyValue the event store
// needs.
type EventStoreBucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// Real KV buckets must satisfy the narrowed interface.
var _ EventStoreBucket = (jetstream.KeyValue)(nil)

// EventStore persists drift events in a JetStream KV bucket, one event
// per key.
type EventStore struct {
	bucket EventStoreBucket
}

// NewEventStore creates the event bucket if needed and returns a store.
func NewEventStore(ctx context.Context, js jetstream.JetStream) (*EventStore, error) {
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      EventBucket,
		Description: "Confirmed model drift detections",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update drift event bucket: %w", err)
	}
	return &EventStore{bucket: bucket}, nil
}

// NewEventStoreWithBucket returns a store over an existing bucket.
func NewEventStoreWithBucket(bucket EventStoreBucket) *EventStore {
	return &EventStore{bucket: bucket}
}

// Record creates a new NEEDS_REVIEW event for the given detection and
// returns it with its assigned ID.
func (s *EventStore) Record(ctx context.Context, modelName string, result Result, threshold float64, windowStart, windowEnd time.Time) (*Event, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model_name is required")
	}
	if result.Status != StatusComputed {
		return nil, fmt.Errorf("cannot record event for %s result", result.Status)
	}

	event := &Event{
		ID:          uuid.NewString(),
		ModelName:   modelName,
		Score:       result.Score,
		Threshold:   threshold,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		DetectedAt:  time.Now().UTC(),
		Status:      EventNeedsReview,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal drift event: %w", err)
	}
	if _, err := s.bucket.Create(ctx, eventKey(modelName, event.ID), data); err != nil {
		return nil, fmt.Errorf("store drift event: %w", err)
	}
	return event, nil
}

// Action resolves an event with the action that was taken. An "ignore"
// or "ignored" action marks the event IGNORED, which may still be
// actioned later; any other action marks it ACTIONED, which is final. A
// resolution attempt on an ACTIONED event fails with ErrEventActioned.
func (s *EventStore) Action(ctx context.Context, modelName, id, action string) (*Event, error) {
	if action == "" {
		return nil, fmt.Errorf("action is required")
	}

	entry, err := s.bucket.Get(ctx, eventKey(modelName, id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || strings.Contains(err.Error(), "key not found") {
			return nil, fmt.Errorf("event %s for %s: %w", id, modelName, ErrEventNotFound)
		}
		return nil, fmt.Errorf("get drift event: %w", err)
	}

	var event Event
	if err := json.Unmarshal(entry.Value(), &event); err != nil {
		return nil, fmt.Errorf("unmarshal drift event: %w", err)
	}

	if event.Status == EventActioned {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventActioned)
	}

	event.Status = EventActioned
	if action == "ignore" || action == "ignored" {
		event.Status = EventIgnored
	}
	event.Action = action
	event.ActionedAt = time.Now().UTC()

	data, err := json.Marshal(&event)
	if err != nil {
		return nil, fmt.Errorf("marshal drift event: %w", err)
	}
	if _, err := s.bucket.Update(ctx, eventKey(modelName, id), data, entry.Revision()); err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return nil, ErrConcurrentModification
		}
		if strings.Contains(err.Error(), "wrong last sequence") {
			return nil, ErrConcurrentModification
		}
		return nil, fmt.Errorf("update drift event: %w", err)
	}
	return &event, nil
}

// Get returns one event by model and ID.
func (s *EventStore) Get(ctx context.Context, modelName, id string) (*Event, error) {
	entry, err := s.bucket.Get(ctx, eventKey(modelName, id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || strings.Contains(err.Error(), "key not found") {
			return nil, fmt.Errorf("event %s for %s: %w", id, modelName, ErrEventNotFound)
		}
		return nil, fmt.Errorf("get drift event: %w", err)
	}
	var event Event
	if err := json.Unmarshal(entry.Value(), &event); err != nil {
		return nil, fmt.Errorf("unmarshal drift event: %w", err)
	}
	return &event, nil
}

// List returns events for one model, or for all models when modelName
// is "". A non-empty status restricts the result to events in that
// status.
func (s *EventStore) List(ctx context.Context, modelName, status string) ([]*Event, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list drift event keys: %w", err)
	}

	var events []*Event
	for _, key := range keys {
		if modelName != "" && !strings.HasPrefix(key, modelName+".") {
			continue
		}
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var event Event
		if err := json.Unmarshal(entry.Value(), &event); err != nil {
			continue
		}
		if status != "" && event.Status != status {
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

func eventKey(modelName, id string) string {
	return modelName + "." + id
}
