package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/taskq/internal/testutil"
)

func TestScheduler_CronMaxRuns(t *testing.T) {
	s := newStarted(t, Config{})

	var executed int32
	err := s.ScheduleCronWithOptions("every", "@every 1s", counter(&executed), CronOptions{MaxRuns: 2})
	if err != nil {
		t.Fatal(err)
	}

	next, err := s.Next("every")
	if err != nil {
		t.Fatal(err)
	}
	if d := time.Until(next); d <= 0 || d > time.Second {
		t.Fatalf("first run in %v, want within a second", d)
	}

	testutil.WaitForInt32(t, &executed, 2, 3*time.Second)
	testutil.Eventually(t, func() bool { return len(s.List()) == 0 }, time.Second, 5*time.Millisecond)

	time.Sleep(1100 * time.Millisecond)
	if n := atomic.LoadInt32(&executed); n != 2 {
		t.Fatalf("ran %d times, want 2", n)
	}
}

func TestScheduler_CronStopOnError(t *testing.T) {
	s := newStarted(t, Config{})

	failed := make(chan Task, 1)
	err := s.ScheduleCronWithOptions("flaky", "@every 1s", func(context.Context, any) error {
		return errors.New("boom")
	}, CronOptions{
		StopOnError: true,
		OnError: func(task Task, err error) {
			failed <- task
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case task := <-failed:
		if task.ID != "flaky" || task.Runs != 1 {
			t.Fatalf("unexpected task info: %+v", task)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnError not called")
	}
	if _, err := s.Next("flaky"); err == nil {
		t.Fatal("task should be removed after failing")
	}
}

func TestScheduler_CronSkipIfStillRunning(t *testing.T) {
	s := newStarted(t, Config{})

	gate := testutil.NewGate()
	skipped := make(chan string, 4)
	err := s.ScheduleCronWithOptions("slow", "@every 1s", func(context.Context, any) error {
		gate.Wait()
		return nil
	}, CronOptions{
		SkipIfStillRunning: true,
		OnSkip: func(task Task, reason string) {
			select {
			case skipped <- reason:
			default:
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	gate.AwaitEntered(t, 1)
	select {
	case reason := <-skipped:
		if reason == "" {
			t.Fatal("empty skip reason")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("overlapping occurrence was not skipped")
	}
	gate.Open()
	s.Cancel("slow")
}

func TestScheduler_CronTimeZone(t *testing.T) {
	s := newStarted(t, Config{Location: time.UTC})
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("time zone data not available")
	}

	err = s.ScheduleCronWithOptions("ny-noon", "0 0 12 * * *", counter(new(int32)), CronOptions{TimeZone: ny})
	if err != nil {
		t.Fatal(err)
	}
	next, _ := s.Next("ny-noon")
	if h := next.In(ny).Hour(); h != 12 {
		t.Fatalf("next run at %d:00 New York time, want 12:00", h)
	}

	if err := s.ScheduleCron("utc-noon", "0 0 12 * * *", counter(new(int32))); err != nil {
		t.Fatal(err)
	}
	next, _ = s.Next("utc-noon")
	if h := next.In(time.UTC).Hour(); h != 12 {
		t.Fatalf("next run at %d:00 UTC, want 12:00", h)
	}
}

func TestValidateCronExpression(t *testing.T) {
	valid := []string{"0 */5 * * * *", "0 30 14 * * 1-5", "@daily", "@every 90s"}
	for _, expr := range valid {
		if err := ValidateCronExpression(expr); err != nil {
			t.Errorf("%q: %v", expr, err)
		}
	}

	invalid := []string{"", "* * *", "61 * * * * *", "@sometimes"}
	for _, expr := range invalid {
		if err := ValidateCronExpression(expr); err == nil {
			t.Errorf("%q: expected error", expr)
		}
	}
}

func TestDescribeCron(t *testing.T) {
	d, err := DescribeCron("@hourly", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if d.Description != "Once an hour (at minute 0)" || d.TimeZone != "UTC" {
		t.Fatalf("unexpected description: %+v", d)
	}
	if len(d.NextRuns) != 5 {
		t.Fatalf("got %d next runs, want 5", len(d.NextRuns))
	}
	for i, r := range d.NextRuns {
		if r.Minute() != 0 || r.Second() != 0 {
			t.Errorf("run %d at %v is not on the hour", i, r)
		}
		if i > 0 && r.Sub(d.NextRuns[i-1]) != time.Hour {
			t.Errorf("runs %d and %d are not an hour apart", i-1, i)
		}
	}

	d, err = DescribeCron("0 0 9 * * 1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Description != "Custom schedule: 0 0 9 * * 1" {
		t.Fatalf("unexpected description %q", d.Description)
	}

	if _, err := DescribeCron("bogus", nil); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}
