// Package tracking maintains the optional cross-actor registry of live actor
// names. The registry is an "actors" table in the tracker actor's storage.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/go-alarms/internal/otel"
	"github.com/basket/go-alarms/internal/persistence"
)

// Table is the tracker's registry table.
const Table = "actors"

// Cleaner removes destroyed actors from the registry. It never fails: it runs
// during actor teardown, where nobody can act on an error.
type Cleaner struct {
	logger  *slog.Logger
	metrics *otel.Metrics
}

func NewCleaner(logger *slog.Logger, metrics *otel.Metrics) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{logger: logger, metrics: metrics}
}

// RemoveFromTracking deletes actorName from the tracker's registry.
// A missing registry table means tracking was never enabled and is silently
// ignored. Any other failure is logged and absorbed.
func (c *Cleaner) RemoveFromTracking(ctx context.Context, tracker persistence.Handle, actorName string) {
	_, err := tracker.Query(ctx, `DELETE FROM `+Table+` WHERE identifier = ?;`, actorName)
	if err == nil {
		return
	}
	err = persistence.Classify("delete", err)
	if errors.Is(err, persistence.ErrMissingTable) {
		return
	}
	c.metrics.RecordTrackingFailure(ctx, actorName)
	c.logger.ErrorContext(ctx, "failed to delete actor from tracking",
		"actor", actorName,
		"error", err,
	)
}

// EnsureSchema creates the registry table.
func EnsureSchema(ctx context.Context, tracker persistence.Handle) error {
	if _, err := tracker.Query(ctx, `
		CREATE TABLE IF NOT EXISTS `+Table+` (
			identifier TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		);`); err != nil {
		return fmt.Errorf("create tracking schema: %w", err)
	}
	return nil
}

// Register adds actorName to the registry. Registering twice is a no-op.
func Register(ctx context.Context, tracker persistence.Handle, actorName string, now time.Time) error {
	if _, err := tracker.Query(ctx,
		`INSERT OR IGNORE INTO `+Table+` (identifier, created_at) VALUES (?, ?);`,
		actorName, now.Unix(),
	); err != nil {
		return fmt.Errorf("register actor %s: %w", actorName, err)
	}
	return nil
}

// Tracked lists registered actor names in name order. A missing registry
// reads as empty.
func Tracked(ctx context.Context, tracker persistence.Handle) ([]string, error) {
	rows, err := persistence.SafeQuery(ctx, tracker, `SELECT identifier FROM `+Table+` ORDER BY identifier ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list tracked actors: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if name, ok := r["identifier"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
