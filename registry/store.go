package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// RegistryBucket is the KV bucket name for model records.
const RegistryBucket = "MODEL_REGISTRY"

// Bucket is the subset of jetstream.KeyValue the registry needs.
// Narrowing the dependency keeps the CAS logic testable without NATS.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// Real KV buckets must satisfy the narrowed interface.
var _ Bucket = (jetstream.KeyValue)(nil)

// Service implements the model registry on top of a JetStream KV bucket.
// All versions of a model live under a single key, so every mutation is one
// revision-checked write: two concurrent promotions cannot both succeed, and
// a reader always sees exactly one PRODUCTION version per model.
type Service struct {
	bucket Bucket
}

// NewService creates the registry bucket if needed and returns a Service.
func NewService(ctx context.Context, js jetstream.JetStream) (*Service, error) {
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      RegistryBucket,
		Description: "Model version lifecycle records",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update registry bucket: %w", err)
	}
	return &Service{bucket: bucket}, nil
}

// NewServiceWithBucket returns a Service over an existing bucket.
func NewServiceWithBucket(bucket Bucket) *Service {
	return &Service{bucket: bucket}
}

var modelNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

func validateModelName(name string) error {
	if name == "" {
		return fmt.Errorf("model_name is required")
	}
	if !modelNameRE.MatchString(name) {
		return fmt.Errorf("invalid model_name %q", name)
	}
	return nil
}

// Register creates a new model version in state REGISTERED. If version is 0
// the next version number for the model is assigned; otherwise the
// caller-supplied version is used and ErrDuplicateVersion is returned when
// it already exists.
func (s *Service) Register(ctx context.Context, name, artifactRef string, version int, metrics map[string]float64) (*ModelVersion, error) {
	if err := validateModelName(name); err != nil {
		return nil, err
	}
	if artifactRef == "" {
		return nil, fmt.Errorf("artifact_ref is required")
	}
	if version < 0 {
		return nil, fmt.Errorf("version must be >= 0, got %d", version)
	}

	now := time.Now().UTC()

	entry, err := s.bucket.Get(ctx, name)
	if err != nil {
		if !isKeyNotFound(err) {
			return nil, fmt.Errorf("get model record: %w", err)
		}
		// First version of this model.
		if version == 0 {
			version = 1
		}
		mv := &ModelVersion{
			ModelName:    name,
			Version:      version,
			ArtifactRef:  artifactRef,
			State:        StateRegistered,
			RegisteredAt: now,
			Metrics:      metrics,
		}
		record := &modelRecord{ModelName: name, Versions: []*ModelVersion{mv}, UpdatedAt: now}
		data, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("marshal model record: %w", err)
		}
		if _, err := s.bucket.Create(ctx, name, data); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return nil, ErrConcurrentModification
			}
			return nil, fmt.Errorf("store model record: %w", err)
		}
		return mv, nil
	}

	record, err := decodeRecord(entry.Value())
	if err != nil {
		return nil, err
	}

	if version == 0 {
		version = record.nextVersion()
	} else if record.find(version) != nil {
		return nil, fmt.Errorf("%s/%d: %w", name, version, ErrDuplicateVersion)
	} else if version < record.nextVersion() {
		// Version numbers are strictly increasing; a gap-filling register
		// would break the monotonicity invariant.
		return nil, fmt.Errorf("version %d is below the next version %d for %s", version, record.nextVersion(), name)
	}

	mv := &ModelVersion{
		ModelName:    name,
		Version:      version,
		ArtifactRef:  artifactRef,
		State:        StateRegistered,
		RegisteredAt: now,
		Metrics:      metrics,
	}
	record.Versions = append(record.Versions, mv)
	record.UpdatedAt = now

	if err := s.writeRecord(ctx, record, entry.Revision()); err != nil {
		return nil, err
	}
	return mv, nil
}

// Transition moves a version to targetState, validating the edge against the
// allowed transition set. Transitioning to the current state is a no-op that
// returns the existing record. When the target is PRODUCTION, the prior
// PRODUCTION version (if any) is demoted to ARCHIVED in the same write.
func (s *Service) Transition(ctx context.Context, name string, version int, targetState State, reason string) (*ModelVersion, error) {
	if err := validateModelName(name); err != nil {
		return nil, err
	}
	if !targetState.Valid() {
		return nil, fmt.Errorf("unknown target state %q", targetState)
	}

	entry, err := s.bucket.Get(ctx, name)
	if err != nil {
		if isKeyNotFound(err) {
			return nil, fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get model record: %w", err)
	}

	record, err := decodeRecord(entry.Value())
	if err != nil {
		return nil, err
	}

	mv := record.find(version)
	if mv == nil {
		return nil, fmt.Errorf("%s/%d: %w", name, version, ErrNotFound)
	}

	if mv.State == targetState {
		// Idempotent: repeating a transition into the current state
		// returns the record unchanged.
		return mv, nil
	}

	if !CanTransition(mv.State, targetState) {
		return nil, &TransitionError{ModelName: name, Version: version, From: mv.State, To: targetState}
	}

	now := time.Now().UTC()

	if targetState == StateProduction {
		if prior := record.production(); prior != nil {
			prior.History = append(prior.History, TransitionRecord{
				From:   prior.State,
				To:     StateArchived,
				At:     now,
				Reason: fmt.Sprintf("superseded by version %d", version),
			})
			prior.State = StateArchived
			prior.CanaryWeight = 0
		}
	}

	mv.History = append(mv.History, TransitionRecord{From: mv.State, To: targetState, At: now, Reason: reason})
	mv.State = targetState
	if targetState != StateCanary {
		mv.CanaryWeight = 0
	}
	record.UpdatedAt = now

	if err := s.writeRecord(ctx, record, entry.Revision()); err != nil {
		return nil, err
	}
	return mv, nil
}

// SetCanaryWeight sets the live-traffic percentage for a CANARY version.
// The sum of canary weights for a model must stay at or below 100.
func (s *Service) SetCanaryWeight(ctx context.Context, name string, version, weight int) (*ModelVersion, error) {
	if err := validateModelName(name); err != nil {
		return nil, err
	}
	if weight < 0 || weight > 100 {
		return nil, fmt.Errorf("canary_weight must be 0-100, got %d", weight)
	}

	entry, err := s.bucket.Get(ctx, name)
	if err != nil {
		if isKeyNotFound(err) {
			return nil, fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get model record: %w", err)
	}

	record, err := decodeRecord(entry.Value())
	if err != nil {
		return nil, err
	}

	mv := record.find(version)
	if mv == nil {
		return nil, fmt.Errorf("%s/%d: %w", name, version, ErrNotFound)
	}
	if mv.State != StateCanary {
		return nil, fmt.Errorf("%s/%d is %s, canary_weight applies only to CANARY versions", name, version, mv.State)
	}

	total := weight
	for _, v := range record.Versions {
		if v.Version != version {
			total += v.CanaryWeight
		}
	}
	if total > 100 {
		return nil, fmt.Errorf("canary weights for %s would sum to %d (max 100)", name, total)
	}

	mv.CanaryWeight = weight
	record.UpdatedAt = time.Now().UTC()

	if err := s.writeRecord(ctx, record, entry.Revision()); err != nil {
		return nil, err
	}
	return mv, nil
}

// Get returns a specific model version.
func (s *Service) Get(ctx context.Context, name string, version int) (*ModelVersion, error) {
	record, err := s.getRecord(ctx, name)
	if err != nil {
		return nil, err
	}
	mv := record.find(version)
	if mv == nil {
		return nil, fmt.Errorf("%s/%d: %w", name, version, ErrNotFound)
	}
	return mv, nil
}

// GetProduction returns the PRODUCTION version of a model.
func (s *Service) GetProduction(ctx context.Context, name string) (*ModelVersion, error) {
	record, err := s.getRecord(ctx, name)
	if err != nil {
		return nil, err
	}
	mv := record.production()
	if mv == nil {
		return nil, fmt.Errorf("no production version for %s: %w", name, ErrNotFound)
	}
	return mv, nil
}

// List returns all versions of one model, or of every model when name is "".
func (s *Service) List(ctx context.Context, name string) ([]*ModelVersion, error) {
	if name != "" {
		record, err := s.getRecord(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return record.Versions, nil
	}

	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list registry keys: %w", err)
	}

	var versions []*ModelVersion
	for _, key := range keys {
		record, err := s.getRecord(ctx, key)
		if err != nil {
			continue // Skip records that fail to load
		}
		versions = append(versions, record.Versions...)
	}
	return versions, nil
}

func (s *Service) getRecord(ctx context.Context, name string) (*modelRecord, error) {
	entry, err := s.bucket.Get(ctx, name)
	if err != nil {
		if isKeyNotFound(err) {
			return nil, fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get model record: %w", err)
	}
	return decodeRecord(entry.Value())
}

func (s *Service) writeRecord(ctx context.Context, record *modelRecord, revision uint64) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal model record: %w", err)
	}
	if _, err := s.bucket.Update(ctx, record.ModelName, data, revision); err != nil {
		if isWrongRevision(err) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("update model record: %w", err)
	}
	return nil
}

func decodeRecord(data []byte) (*modelRecord, error) {
	var record modelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal model record: %w", err)
	}
	return &record, nil
}

func isKeyNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || (err != nil && strings.Contains(err.Error(), "key not found"))
}

// isWrongRevision recognizes the JetStream wrong-last-sequence rejection a
// revision-checked Update gets when another writer won the race.
func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}
