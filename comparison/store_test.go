package comparison

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReportBucket struct {
	mu      sync.Mutex
	entries map[string][]byte
}

type fakeReportEntry struct {
	key   string
	value []byte
}

func (e *fakeReportEntry) Bucket() string                  { return ReportBucket }
func (e *fakeReportEntry) Key() string                     { return e.key }
func (e *fakeReportEntry) Value() []byte                   { return e.value }
func (e *fakeReportEntry) Revision() uint64                { return 1 }
func (e *fakeReportEntry) Created() time.Time              { return time.Time{} }
func (e *fakeReportEntry) Delta() uint64                   { return 0 }
func (e *fakeReportEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

func newFakeReportBucket() *fakeReportBucket {
	return &fakeReportBucket{entries: make(map[string][]byte)}
}

func (b *fakeReportBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &fakeReportEntry{key: key, value: append([]byte(nil), value...)}, nil
}

func (b *fakeReportBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = append([]byte(nil), value...)
	return 1, nil
}

func (b *fakeReportBucket) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		store := NewStoreWithBucket(newFakeReportBucket())

		report := &Report{ID: "r-1", ModelName: "detector", Status: StatusRunning, StartedAt: time.Now().UTC()}
		require.NoError(t, store.Save(ctx, report))

		got, err := store.Get(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, got.Status)

		// Completing a run replaces the RUNNING entry.
		report.Status = StatusCompleted
		report.Verdict = VerdictHold
		require.NoError(t, store.Save(ctx, report))

		got, err = store.Get(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, VerdictHold, got.Verdict)
	})

	t.Run("get unknown report", func(t *testing.T) {
		store := NewStoreWithBucket(newFakeReportBucket())

		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrReportNotFound)
	})

	t.Run("list filters by model", func(t *testing.T) {
		store := NewStoreWithBucket(newFakeReportBucket())

		require.NoError(t, store.Save(ctx, &Report{ID: "r-1", ModelName: "detector"}))
		require.NoError(t, store.Save(ctx, &Report{ID: "r-2", ModelName: "detector"}))
		require.NoError(t, store.Save(ctx, &Report{ID: "r-3", ModelName: "classifier"}))

		all, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		detector, err := store.List(ctx, "detector")
		require.NoError(t, err)
		assert.Len(t, detector, 2)
	})

	t.Run("save requires an ID", func(t *testing.T) {
		store := NewStoreWithBucket(newFakeReportBucket())
		assert.Error(t, store.Save(ctx, &Report{}))
	})
}
