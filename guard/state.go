// Package guard watches serving health metrics and degrades the system
// gracefully when they breach safety rules. It owns the adaptation
// level (NORMAL, DEGRADED, CRITICAL), persists it for other components,
// and tells the router which fallback models to serve while degraded.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Level is the system adaptation level.
type Level string

const (
	LevelNormal   Level = "NORMAL"
	LevelDegraded Level = "DEGRADED"
	LevelCritical Level = "CRITICAL"
)

// rank orders levels by severity for escalation decisions.
func (l Level) rank() int {
	switch l {
	case LevelDegraded:
		return 1
	case LevelCritical:
		return 2
	default:
		return 0
	}
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelNormal, LevelDegraded, LevelCritical:
		return true
	}
	return false
}

// State is the current adaptation posture. Other components read it
// from the ADAPTATION bucket or the governance.adaptation subject.
type State struct {
	Level       Level     `json:"level"`
	Reason      string    `json:"reason"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
	Since       time.Time `json:"since"`

	// ActiveUntil marks the end of the de-escalation cooldown. Zero at
	// NORMAL, where no cooldown applies.
	ActiveUntil time.Time `json:"active_until,omitzero"`
}

const (
	// StateBucket is the KV bucket holding the adaptation state.
	StateBucket = "ADAPTATION"

	// StateKey is the single key inside StateBucket.
	StateKey = "current"

	// StateSubject is where state changes are announced.
	StateSubject = "governance.adaptation"
)

// Publisher sends a state-change announcement.
type Publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// StateBucketKV is the subset of jetstream.KeyValue the sink needs.
type StateBucketKV interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// Real KV buckets must satisfy the narrowed interface.
var _ StateBucketKV = (jetstream.KeyValue)(nil)

// StateSink persists adaptation state and announces changes. The
// controller is the only writer, so plain puts suffice.
type StateSink struct {
	bucket    StateBucketKV
	publisher Publisher
}

// NewStateSink creates the adaptation bucket if needed and returns a
// sink. publisher may be nil when announcements are not wired.
func NewStateSink(ctx context.Context, js jetstream.JetStream, publisher Publisher) (*StateSink, error) {
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      StateBucket,
		Description: "Current system adaptation level",
		History:     10,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update adaptation bucket: %w", err)
	}
	return &StateSink{bucket: bucket, publisher: publisher}, nil
}

// NewStateSinkWithBucket returns a sink over an existing bucket.
func NewStateSinkWithBucket(bucket StateBucketKV, publisher Publisher) *StateSink {
	return &StateSink{bucket: bucket, publisher: publisher}
}

// Save persists the state and announces the change. A publish failure
// does not fail the save; the durable KV entry is the source of truth.
func (s *StateSink) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal adaptation state: %w", err)
	}
	if _, err := s.bucket.Put(ctx, StateKey, data); err != nil {
		return fmt.Errorf("store adaptation state: %w", err)
	}
	if s.publisher != nil {
		_ = s.publisher.PublishToStream(ctx, StateSubject, data)
	}
	return nil
}

// Load returns the persisted state, or a NORMAL default when none
// exists yet.
func (s *StateSink) Load(ctx context.Context) (State, error) {
	entry, err := s.bucket.Get(ctx, StateKey)
	if err != nil {
		return State{Level: LevelNormal}, nil
	}
	var state State
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		return State{}, fmt.Errorf("unmarshal adaptation state: %w", err)
	}
	return state, nil
}
