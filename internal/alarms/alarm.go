package alarms

import (
	"fmt"
	"strconv"

	"github.com/basket/go-alarms/internal/persistence"
)

// DefaultIdentifier is the slot name of an alarm stored without one.
const DefaultIdentifier = "default"

type Type string

const (
	TypeScheduled Type = "scheduled"
	TypeDelayed   Type = "delayed"
	TypeCron      Type = "cron"
)

// Alarm is one row of an actor's alarm table. Columns this package does not
// know about are kept in Extra.
type Alarm struct {
	ID           string         `json:"id"`
	Callback     string         `json:"callback"`
	Payload      string         `json:"payload,omitempty"`
	Type         Type           `json:"type"`
	Time         int64          `json:"time"`
	DelaySeconds int64          `json:"delay_seconds,omitempty"`
	Cron         string         `json:"cron,omitempty"`
	Identifier   string         `json:"identifier"`
	CreatedAt    int64          `json:"created_at"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Next is the earliest alarm still in the future.
type Next struct {
	Time       int64  `json:"time"`
	Identifier string `json:"identifier"`
}

var knownColumns = map[string]struct{}{
	"id": {}, "callback": {}, "payload": {}, "type": {}, "time": {},
	"delay_seconds": {}, "cron": {}, "identifier": {}, "created_at": {},
}

// FromRow converts a result row into an Alarm. It is the only place the
// identifier default is applied: a NULL, empty or absent identifier reads as
// DefaultIdentifier.
func FromRow(row persistence.Row) Alarm {
	a := Alarm{
		ID:           asString(row["id"]),
		Callback:     asString(row["callback"]),
		Payload:      asString(row["payload"]),
		Type:         Type(asString(row["type"])),
		Time:         asInt64(row["time"]),
		DelaySeconds: asInt64(row["delay_seconds"]),
		Cron:         asString(row["cron"]),
		Identifier:   coalesceIdentifier(row["identifier"]),
		CreatedAt:    asInt64(row["created_at"]),
	}
	for k, v := range row {
		if _, ok := knownColumns[k]; ok {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[k] = v
	}
	return a
}

func nextFromRow(row persistence.Row) Next {
	return Next{
		Time:       asInt64(row["time"]),
		Identifier: coalesceIdentifier(row["identifier"]),
	}
}

// coalesceIdentifier reads a NULL or absent identifier as DefaultIdentifier.
// A stored empty string is a value and passes through.
func coalesceIdentifier(v any) string {
	if v == nil {
		return DefaultIdentifier
	}
	return asString(v)
}

// identifierArg maps an empty identifier to NULL for storage.
func identifierArg(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	default:
		return 0
	}
}
