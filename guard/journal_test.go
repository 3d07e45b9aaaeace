package guard

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	journal, err := NewJournal(db)
	require.NoError(t, err)
	return journal
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("append and list in order", func(t *testing.T) {
		journal := newTestJournal(t)

		require.NoError(t, journal.Append(ctx, Transition{From: LevelNormal, To: LevelCritical, Reason: "rule error-critical breached", TriggeredBy: "error-critical", At: base}))
		require.NoError(t, journal.Append(ctx, Transition{From: LevelCritical, To: LevelNormal, Reason: "all rules clear", At: base.Add(10 * time.Minute)}))

		transitions, err := journal.ListSince(ctx, time.Time{})
		require.NoError(t, err)
		require.Len(t, transitions, 2)

		assert.Equal(t, LevelCritical, transitions[0].To)
		assert.Equal(t, "error-critical", transitions[0].TriggeredBy)
		assert.Equal(t, base, transitions[0].At)
		assert.Equal(t, LevelNormal, transitions[1].To)
	})

	t.Run("since filters older entries", func(t *testing.T) {
		journal := newTestJournal(t)

		require.NoError(t, journal.Append(ctx, Transition{From: LevelNormal, To: LevelDegraded, Reason: "r", At: base}))
		require.NoError(t, journal.Append(ctx, Transition{From: LevelDegraded, To: LevelNormal, Reason: "r", At: base.Add(time.Hour)}))

		transitions, err := journal.ListSince(ctx, base.Add(30*time.Minute))
		require.NoError(t, err)
		require.Len(t, transitions, 1)
		assert.Equal(t, LevelNormal, transitions[0].To)
	})

	t.Run("empty journal", func(t *testing.T) {
		journal := newTestJournal(t)

		transitions, err := journal.ListSince(ctx, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, transitions)
	})
}
