package comparison

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// ReportBucket is the KV bucket name for comparison reports.
const ReportBucket = "COMPARISON_REPORTS"

// ErrReportNotFound indicates the referenced report does not exist.
var ErrReportNotFound = errors.New("comparison report not found")

// StoreBucket is the subset of jetstream.KeyValue the report store needs.
type StoreBucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// Real KV buckets must satisfy the narrowed interface.
var _ StoreBucket = (jetstream.KeyValue)(nil)

// Store persists comparison reports in a JetStream KV bucket, keyed by
// report ID. Each report has a single writer (the run that owns it), so
// plain puts suffice; there is no CAS contract here.
type Store struct {
	bucket StoreBucket
}

// NewStore creates the report bucket if needed and returns a store.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      ReportBucket,
		Description: "Shadow comparison run reports",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update report bucket: %w", err)
	}
	return &Store{bucket: bucket}, nil
}

// NewStoreWithBucket returns a store over an existing bucket.
func NewStoreWithBucket(bucket StoreBucket) *Store {
	return &Store{bucket: bucket}
}

// Save writes the report, creating or replacing its entry.
func (s *Store) Save(ctx context.Context, report *Report) error {
	if report.ID == "" {
		return fmt.Errorf("report ID is required")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if _, err := s.bucket.Put(ctx, report.ID, data); err != nil {
		return fmt.Errorf("store report %s: %w", report.ID, err)
	}
	return nil
}

// Get returns one report by ID.
func (s *Store) Get(ctx context.Context, id string) (*Report, error) {
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || strings.Contains(err.Error(), "key not found") {
			return nil, fmt.Errorf("report %s: %w", id, ErrReportNotFound)
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(entry.Value(), &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}

// List returns reports for one model, or all reports when modelName is "".
func (s *Store) List(ctx context.Context, modelName string) ([]*Report, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list report keys: %w", err)
	}

	var reports []*Report
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var report Report
		if err := json.Unmarshal(entry.Value(), &report); err != nil {
			continue
		}
		if modelName != "" && report.ModelName != modelName {
			continue
		}
		reports = append(reports, &report)
	}
	return reports, nil
}
