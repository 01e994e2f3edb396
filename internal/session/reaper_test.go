package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testReaperConfig() ReaperConfig {
	return ReaperConfig{
		RetentionDelay: 20 * time.Millisecond,
		MaxSessionAge:  time.Hour,
		SweepInterval:  10 * time.Millisecond,
	}
}

// waitFor polls cond until it returns true or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestReaperScheduledEviction(t *testing.T) {
	store := NewStore(testLogger())
	id := store.Create()

	var evicted atomic.Int32
	reaper := NewReaper(store, testReaperConfig(), testLogger(), func(string) {
		evicted.Add(1)
	})
	reaper.Start()
	defer reaper.Stop()

	reaper.ScheduleEviction(id)

	waitFor(t, time.Second, func() bool {
		_, err := store.Get(id)
		return errors.Is(err, ErrNotFound)
	})

	if evicted.Load() != 1 {
		t.Errorf("Expected 1 eviction callback, got %d", evicted.Load())
	}

	if reaper.PendingEvictions() != 0 {
		t.Errorf("Expected no pending timers, got %d", reaper.PendingEvictions())
	}
}

func TestReaperCancelEviction(t *testing.T) {
	store := NewStore(testLogger())
	id := store.Create()

	reaper := NewReaper(store, testReaperConfig(), testLogger(), nil)
	reaper.Start()
	defer reaper.Stop()

	reaper.ScheduleEviction(id)
	reaper.CancelEviction(id)

	time.Sleep(60 * time.Millisecond)

	if _, err := store.Get(id); err != nil {
		t.Errorf("Expected session to survive cancelled eviction, got %v", err)
	}

	if reaper.PendingEvictions() != 0 {
		t.Errorf("Expected no pending timers after cancel, got %d", reaper.PendingEvictions())
	}
}

func TestReaperRescheduleReplacesTimer(t *testing.T) {
	store := NewStore(testLogger())
	id := store.Create()

	reaper := NewReaper(store, testReaperConfig(), testLogger(), nil)
	reaper.Start()
	defer reaper.Stop()

	reaper.ScheduleEviction(id)
	reaper.ScheduleEviction(id)

	if reaper.PendingEvictions() != 1 {
		t.Errorf("Expected a single pending timer, got %d", reaper.PendingEvictions())
	}

	waitFor(t, time.Second, func() bool {
		_, err := store.Get(id)
		return errors.Is(err, ErrNotFound)
	})
}

func TestReaperMaxAgeSweep(t *testing.T) {
	store := NewStore(testLogger())
	id := store.Create()

	cfg := testReaperConfig()
	cfg.MaxSessionAge = 30 * time.Millisecond

	var evicted atomic.Int32
	reaper := NewReaper(store, cfg, testLogger(), func(string) {
		evicted.Add(1)
	})
	reaper.Start()
	defer reaper.Stop()

	// Never scheduled for eviction; the sweep has to catch it.
	waitFor(t, time.Second, func() bool {
		_, err := store.Get(id)
		return errors.Is(err, ErrNotFound)
	})

	if evicted.Load() != 1 {
		t.Errorf("Expected 1 eviction callback, got %d", evicted.Load())
	}
}

func TestReaperStop(t *testing.T) {
	store := NewStore(testLogger())
	id := store.Create()

	reaper := NewReaper(store, testReaperConfig(), testLogger(), nil)
	reaper.Start()

	reaper.ScheduleEviction(id)
	reaper.Stop()

	if reaper.PendingEvictions() != 0 {
		t.Errorf("Expected timers cleared on stop, got %d", reaper.PendingEvictions())
	}
}
