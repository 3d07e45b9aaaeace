package guard

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Transition is one recorded level change.
type Transition struct {
	From        Level     `json:"from"`
	To          Level     `json:"to"`
	Reason      string    `json:"reason"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
	At          time.Time `json:"at"`
}

// Journal is the durable audit log of adaptation transitions, kept in
// SQLite so the history survives restarts and is queryable outside the
// running process.
type Journal struct {
	db *sql.DB
}

// NewJournal creates the transitions table if needed and returns a
// journal.
func NewJournal(db *sql.DB) (*Journal, error) {
	j := &Journal{db: db}
	if err := j.init(); err != nil {
		return nil, fmt.Errorf("init adaptation journal: %w", err)
	}
	return j, nil
}

func (j *Journal) init() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS adaptation_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_level TEXT NOT NULL,
		to_level TEXT NOT NULL,
		reason TEXT NOT NULL,
		triggered_by TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	)`)
	return err
}

// Append records one transition.
func (j *Journal) Append(ctx context.Context, t Transition) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO adaptation_transitions (from_level, to_level, reason, triggered_by, at) VALUES (?, ?, ?, ?, ?)`,
		string(t.From), string(t.To), t.Reason, t.TriggeredBy, t.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append adaptation transition: %w", err)
	}
	return nil
}

// ListSince returns transitions at or after since, oldest first. A zero
// since returns the full history.
func (j *Journal) ListSince(ctx context.Context, since time.Time) ([]Transition, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT from_level, to_level, reason, triggered_by, at FROM adaptation_transitions WHERE at >= ? ORDER BY id ASC`,
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("list adaptation transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var from, to, at string
		if err := rows.Scan(&from, &to, &t.Reason, &t.TriggeredBy, &at); err != nil {
			return nil, fmt.Errorf("scan adaptation transition: %w", err)
		}
		t.From = Level(from)
		t.To = Level(to)
		if t.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse transition timestamp %q: %w", at, err)
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
