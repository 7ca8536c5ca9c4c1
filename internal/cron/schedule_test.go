package cron_test

import (
	"strings"
	"testing"
	"time"

	"github.com/basket/go-alarms/internal/cron"
)

func TestNextRunTime(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 14, 10, 8, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC)},
		{"0 9 * * *", time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)},
		{"30 10 1 * *", time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := cron.NextRunTime(tt.expr, base)
			if err != nil {
				t.Fatalf("next run: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("next = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextRunTime_StrictlyAfter(t *testing.T) {
	onTheMinute := time.Date(2026, 3, 14, 10, 8, 0, 0, time.UTC)
	got, err := cron.NextRunTime("* * * * *", onTheMinute)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if !got.After(onTheMinute) {
		t.Fatalf("next run %s must be after %s", got, onTheMinute)
	}
}

func TestNextUnix(t *testing.T) {
	base := time.Unix(1_000, 0).UTC()
	got, err := cron.NextUnix("* * * * *", base)
	if err != nil {
		t.Fatalf("next unix: %v", err)
	}
	if got != 1_020 {
		t.Fatalf("next unix = %d, want 1020", got)
	}
}

func TestValidate(t *testing.T) {
	if err := cron.Validate("0 */2 * * 1-5"); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
	for _, bad := range []string{"", "* * * *", "0 0 0 * * *", "61 * * * *", "every minute"} {
		err := cron.Validate(bad)
		if err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
		if !strings.Contains(err.Error(), "invalid cron expression") {
			t.Fatalf("unexpected error text: %v", err)
		}
	}
}

func TestNextRunTime_Impossible(t *testing.T) {
	if _, err := cron.NextRunTime("0 0 30 2 *", time.Now()); err == nil {
		t.Fatal("expected error for an expression that never fires")
	}
}
