package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// MissingTableMarker is the text SQLite puts in a SQLITE_ERROR when a
// statement names a table that does not exist ("no such table: <name>").
// SQLite has no dedicated result code for this condition, so it is the one
// piece of driver wording this package depends on.
const MissingTableMarker = "no such table"

// Row is one result row keyed by column name.
type Row map[string]any

// Handle is the SQL capability the alarm core needs from an actor's storage:
// run a parameterized statement, get rows back.
type Handle interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
}

// Kind is the semantic class of a storage failure.
type Kind int

const (
	// KindFault is any failure other than a missing table: bad statement,
	// constraint violation, I/O, closed database.
	KindFault Kind = iota
	// KindMissingTable means the target table does not exist, which is the
	// normal state of a destroyed actor.
	KindMissingTable
)

func (k Kind) String() string {
	switch k {
	case KindMissingTable:
		return "missing_table"
	default:
		return "fault"
	}
}

var (
	ErrMissingTable = errors.New("table does not exist")
	ErrFault        = errors.New("store fault")
)

// StoreError is a classified storage failure. Err keeps the driver error for
// diagnostics.
type StoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrMissingTable:
		return e.Kind == KindMissingTable
	case ErrFault:
		return e.Kind == KindFault
	}
	return false
}

// Classify wraps err in a *StoreError. Already classified errors are returned
// as is, nil stays nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	kind := KindFault
	if isMissingTable(err) {
		kind = KindMissingTable
	}
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, classifying it first if needed.
func KindOf(err error) Kind {
	var se *StoreError
	if errors.As(Classify("", err), &se) {
		return se.Kind
	}
	return KindFault
}

func isMissingTable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrError &&
			strings.Contains(sqliteErr.Error(), MissingTableMarker)
	}
	// Handles not backed by the sqlite3 driver only give us text.
	return strings.Contains(err.Error(), MissingTableMarker)
}

// SafeQuery runs query against h. If the target table does not exist it
// returns (nil, nil); every other error is returned classified and otherwise
// unchanged.
func SafeQuery(ctx context.Context, h Handle, query string, args ...any) ([]Row, error) {
	rows, err := h.Query(ctx, query, args...)
	if err == nil {
		return rows, nil
	}
	err = Classify(firstWord(query), err)
	if errors.Is(err, ErrMissingTable) {
		return nil, nil
	}
	return nil, err
}

// isSQLiteBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}
