package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestTick_FiresOnlySweepsDueAtGivenTime(t *testing.T) {
	s := New()
	var everyMinuteFired, onceADayFired int

	s.Add("every-minute", "* * * * *", func(ctx context.Context) error {
		everyMinuteFired++
		return nil
	})
	s.Add("midnight-only", "0 0 * * *", func(ctx context.Context) error {
		onceADayFired++
		return nil
	})

	noon := time.Date(2026, 7, 31, 12, 30, 0, 0, time.UTC)
	s.tick(context.Background(), noon)

	if everyMinuteFired != 1 {
		t.Fatalf("everyMinuteFired = %d, want 1", everyMinuteFired)
	}
	if onceADayFired != 0 {
		t.Fatalf("onceADayFired = %d, want 0 (not midnight)", onceADayFired)
	}
}

func TestTick_SweepErrorDoesNotStopSiblingSweeps(t *testing.T) {
	s := New()
	secondFired := false

	s.Add("failing", "* * * * *", func(ctx context.Context) error {
		return errBoom
	})
	s.Add("healthy", "* * * * *", func(ctx context.Context) error {
		secondFired = true
		return nil
	})

	s.tick(context.Background(), time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))

	if !secondFired {
		t.Fatalf("a failing sweep must not prevent a sibling sweep from running")
	}
}

var errBoom = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
