// Package alarms reads and writes an actor's alarm table.
//
// Every query tolerates the table being gone: an actor can be destroyed while
// one of its alarm passes is still running, and from then on the table does
// not exist. Reads return no data and writes do nothing in that state. Any
// other storage failure is returned to the caller.
package alarms

import (
	"context"
	"fmt"

	"github.com/basket/go-alarms/internal/clock"
	"github.com/basket/go-alarms/internal/persistence"
)

// Table is the name of the per-actor alarm table.
const Table = "_actor_alarms"

// Store runs alarm queries against whatever handle it is given. It holds no
// handle and caches nothing between calls.
type Store struct {
	clock clock.Clock
}

// New returns a Store that evaluates "now" with c. A nil clock means the
// system clock.
func New(c clock.Clock) *Store {
	if c == nil {
		c = clock.System{}
	}
	return &Store{clock: c}
}

func (s *Store) now() int64 {
	return clock.Unix(s.clock)
}

// FindNext returns the alarm with the smallest time strictly after now, or
// nil when there is none (or no table). Equal times are ordered by
// identifier as read, so a NULL slot sorts as DefaultIdentifier.
func (s *Store) FindNext(ctx context.Context, h persistence.Handle) (*Next, error) {
	rows, err := persistence.SafeQuery(ctx, h, `
		SELECT time, identifier FROM `+Table+`
		WHERE time > ?
		ORDER BY time ASC, COALESCE(identifier, ?) ASC
		LIMIT 1;`, s.now(), DefaultIdentifier)
	if err != nil {
		return nil, fmt.Errorf("find next alarm: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	next := nextFromRow(rows[0])
	return &next, nil
}

// FindDue returns every alarm with time <= now, earliest first. The result
// is never capped.
func (s *Store) FindDue(ctx context.Context, h persistence.Handle) ([]Alarm, error) {
	rows, err := persistence.SafeQuery(ctx, h, `
		SELECT * FROM `+Table+`
		WHERE time <= ?
		ORDER BY time ASC;`, s.now())
	if err != nil {
		return nil, fmt.Errorf("find due alarms: %w", err)
	}
	out := make([]Alarm, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromRow(r))
	}
	return out, nil
}

// Reschedule moves alarm id to newTime. Only the time column changes.
func (s *Store) Reschedule(ctx context.Context, h persistence.Handle, id string, newTime int64) error {
	if _, err := persistence.SafeQuery(ctx, h, `UPDATE `+Table+` SET time = ? WHERE id = ?;`, newTime, id); err != nil {
		return fmt.Errorf("reschedule alarm %s: %w", id, err)
	}
	return nil
}

// Delete removes alarm id. Deleting an absent alarm is not an error.
func (s *Store) Delete(ctx context.Context, h persistence.Handle, id string) error {
	if _, err := persistence.SafeQuery(ctx, h, `DELETE FROM `+Table+` WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete alarm %s: %w", id, err)
	}
	return nil
}

// EnsureSchema creates the alarm table if needed.
func (s *Store) EnsureSchema(ctx context.Context, h persistence.Handle) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + Table + ` (
			id TEXT PRIMARY KEY,
			callback TEXT NOT NULL,
			payload TEXT,
			type TEXT NOT NULL,
			time INTEGER NOT NULL,
			delay_seconds INTEGER,
			cron TEXT,
			identifier TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx` + Table + `_time ON ` + Table + ` (time);`,
	}
	for _, q := range stmts {
		if _, err := h.Query(ctx, q); err != nil {
			return fmt.Errorf("create alarm schema: %w", err)
		}
	}
	return nil
}

// Insert stores a new alarm. An empty identifier is stored as NULL and an
// unset CreatedAt is filled from the clock.
func (s *Store) Insert(ctx context.Context, h persistence.Handle, a Alarm) error {
	if a.ID == "" {
		return fmt.Errorf("insert alarm: empty id")
	}
	if a.Callback == "" {
		return fmt.Errorf("insert alarm %s: empty callback", a.ID)
	}
	if a.Type == "" {
		a.Type = TypeScheduled
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = s.now()
	}
	var delay, cronExpr any
	if a.DelaySeconds != 0 {
		delay = a.DelaySeconds
	}
	if a.Cron != "" {
		cronExpr = a.Cron
	}
	if _, err := h.Query(ctx, `
		INSERT INTO `+Table+` (id, callback, payload, type, time, delay_seconds, cron, identifier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		a.ID, a.Callback, a.Payload, string(a.Type), a.Time, delay, cronExpr, identifierArg(a.Identifier), a.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert alarm %s: %w", a.ID, err)
	}
	return nil
}

// Get returns alarm id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, h persistence.Handle, id string) (*Alarm, error) {
	rows, err := persistence.SafeQuery(ctx, h, `SELECT * FROM `+Table+` WHERE id = ?;`, id)
	if err != nil {
		return nil, fmt.Errorf("get alarm %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	a := FromRow(rows[0])
	return &a, nil
}

// List returns every alarm, earliest first.
func (s *Store) List(ctx context.Context, h persistence.Handle) ([]Alarm, error) {
	rows, err := persistence.SafeQuery(ctx, h, `SELECT * FROM `+Table+` ORDER BY time ASC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	out := make([]Alarm, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromRow(r))
	}
	return out, nil
}
