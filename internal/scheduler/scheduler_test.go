package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"waroute/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, start time.Time) (*Service, *fakeClock) {
	t.Helper()
	s := New(Config{Tick: time.Second, HistorySize: 10}, logx.Nop())
	clk := &fakeClock{now: start}
	s.SetClock(clk)
	return s, clk
}

func TestEveryJobFiresOnSchedule(t *testing.T) {
	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	s, clk := newTestService(t, start)

	runs := 0
	if err := s.AddEvery("tick", 5*time.Minute, func(context.Context) error {
		runs++
		return nil
	}); err != nil {
		t.Fatalf("AddEvery: %v", err)
	}

	s.runDue(context.Background(), clk.Now())
	if runs != 0 {
		t.Fatalf("job fired before its interval elapsed")
	}

	clk.advance(5 * time.Minute)
	s.runDue(context.Background(), clk.Now())
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	// Same instant again: already rescheduled, must not double-fire.
	s.runDue(context.Background(), clk.Now())
	if runs != 1 {
		t.Fatalf("job double-fired, runs = %d", runs)
	}

	clk.advance(5 * time.Minute)
	s.runDue(context.Background(), clk.Now())
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}

func TestDailyAtScheduling(t *testing.T) {
	start := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	s, clk := newTestService(t, start)

	runs := 0
	if err := s.AddDailyAt("health", "09:00", func(context.Context) error {
		runs++
		return nil
	}); err != nil {
		t.Fatalf("AddDailyAt: %v", err)
	}

	jobs, _ := s.Snapshot()
	want := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if !jobs[0].Next.Equal(want) {
		t.Fatalf("next = %v, want %v", jobs[0].Next, want)
	}

	clk.advance(30 * time.Minute)
	s.runDue(context.Background(), clk.Now())
	if runs != 0 {
		t.Fatalf("fired before 09:00")
	}

	clk.advance(31 * time.Minute)
	s.runDue(context.Background(), clk.Now())
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	jobs, _ = s.Snapshot()
	nextDay := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	if !jobs[0].Next.Equal(nextDay) {
		t.Fatalf("rescheduled to %v, want %v", jobs[0].Next, nextDay)
	}
}

func TestAddDailyAtRejectsBadTime(t *testing.T) {
	s, _ := newTestService(t, time.Now())
	for _, bad := range []string{"25:00", "09:61", "nine"} {
		if err := s.AddDailyAt("x", bad, func(context.Context) error { return nil }); err == nil {
			t.Fatalf("accepted %q", bad)
		}
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	s, _ := newTestService(t, time.Now())
	job := func(context.Context) error { return nil }
	if err := s.AddEvery("dup", time.Minute, job); err != nil {
		t.Fatalf("AddEvery: %v", err)
	}
	if err := s.AddEvery("dup", time.Minute, job); err == nil {
		t.Fatalf("duplicate name accepted")
	}
}

func TestOnceFiresAndLeavesTable(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s, clk := newTestService(t, start)

	done := make(chan struct{})
	s.Once("offer", time.Minute, func(context.Context) error {
		close(done)
		return nil
	})

	jobs, _ := s.Snapshot()
	if len(jobs) != 1 || !jobs[0].Once {
		t.Fatalf("one-off missing from table: %+v", jobs)
	}

	clk.advance(time.Minute)
	s.runDue(context.Background(), clk.Now())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("one-off did not fire")
	}
	s.wg.Wait()

	jobs, _ = s.Snapshot()
	if len(jobs) != 0 {
		t.Fatalf("one-off must leave the table after firing")
	}
}

func TestOnceCancel(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s, clk := newTestService(t, start)

	fired := false
	h := s.Once("offer", time.Minute, func(context.Context) error {
		fired = true
		return nil
	})
	h.Cancel()
	h.Cancel() // second cancel is a no-op

	clk.advance(2 * time.Minute)
	s.runDue(context.Background(), clk.Now())
	s.wg.Wait()
	if fired {
		t.Fatalf("cancelled one-off fired")
	}
}

func TestJobErrorAndPanicDoNotStopOthers(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s, clk := newTestService(t, start)

	ran := false
	s.AddEvery("boom", time.Minute, func(context.Context) error { panic("kaboom") })
	s.AddEvery("fail", time.Minute, func(context.Context) error { return errors.New("nope") })
	s.AddEvery("ok", time.Minute, func(context.Context) error { ran = true; return nil })

	clk.advance(time.Minute)
	s.runDue(context.Background(), clk.Now())

	if !ran {
		t.Fatalf("healthy job skipped after panic/error in earlier jobs")
	}
	_, hist := s.Snapshot()
	if len(hist) != 3 {
		t.Fatalf("history entries = %d, want 3", len(hist))
	}
	byName := map[string]RunRecord{}
	for _, r := range hist {
		byName[r.Name] = r
	}
	if byName["boom"].Error == "" || byName["fail"].Error == "" {
		t.Fatalf("failures not recorded: %+v", hist)
	}
	if byName["ok"].Error != "" {
		t.Fatalf("healthy job recorded error %q", byName["ok"].Error)
	}
}

func TestStartIdempotentAndStop(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s := New(Config{Tick: 5 * time.Millisecond, HistorySize: 10}, logx.Nop())
	clk := &fakeClock{now: start}
	s.SetClock(clk)
	ctx := context.Background()

	var mu sync.Mutex
	runs := 0
	if err := s.AddEvery("tick", time.Minute, func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("AddEvery: %v", err)
	}

	s.Start(ctx)
	s.Start(ctx)
	if !s.Running() {
		t.Fatalf("expected running")
	}

	// A second Start must not duplicate the job table or its next-run times.
	jobs, _ := s.Snapshot()
	if len(jobs) != 1 {
		t.Fatalf("job table = %+v, want one entry", jobs)
	}
	if !jobs[0].Next.Equal(start.Add(time.Minute)) {
		t.Fatalf("next = %v, want %v", jobs[0].Next, start.Add(time.Minute))
	}

	clk.advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not fire")
		}
		time.Sleep(time.Millisecond)
	}

	// Clock frozen past the due time: further polls must not refire.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	n := runs
	mu.Unlock()
	if n != 1 {
		t.Fatalf("runs = %d, want exactly 1", n)
	}

	s.Stop(ctx)
	if s.Running() {
		t.Fatalf("expected stopped")
	}
	s.Stop(ctx) // repeated stop is a no-op
}

func TestHistoryBounded(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s, clk := newTestService(t, start)

	s.AddEvery("j", time.Minute, func(context.Context) error { return nil })
	for i := 0; i < 25; i++ {
		clk.advance(time.Minute)
		s.runDue(context.Background(), clk.Now())
	}
	_, hist := s.Snapshot()
	if len(hist) != 10 {
		t.Fatalf("history = %d, want capped at 10", len(hist))
	}
}
