package health

import (
	"sync"
	"testing"
	"time"
)

func newTestTracker() (*Tracker, *time.Time) {
	tr := NewTracker()
	now := time.Unix(1700000000, 0)
	tr.now = func() time.Time { return now }
	return tr, &now
}

// TestTracker_Counts verifies that each outcome lands in the right window counts.
func TestTracker_Counts(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()
	tr.RecordActivity()

	if n := tr.RequestCount(time.Minute); n != 4 {
		t.Errorf("RequestCount() = %d, want 4", n)
	}
	if n := tr.DenialCount(time.Minute); n != 1 {
		t.Errorf("DenialCount() = %d, want 1", n)
	}
	errs, total := tr.ErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3) - denied excluded", errs, total)
	}
	if n := tr.ActivityCount(time.Minute); n != 1 {
		t.Errorf("ActivityCount() = %d, want 1", n)
	}
}

// TestTracker_WindowExcludesOld verifies that outcomes outside the window are not counted.
func TestTracker_WindowExcludesOld(t *testing.T) {
	tr, now := newTestTracker()
	tr.RecordSuccessN(5)
	*now = now.Add(2 * time.Minute)
	tr.RecordErrorN(2)

	if n := tr.RequestCount(time.Minute); n != 2 {
		t.Errorf("RequestCount(1m) = %d, want 2", n)
	}
	if n := tr.RequestCount(5 * time.Minute); n != 7 {
		t.Errorf("RequestCount(5m) = %d, want 7", n)
	}
}

// TestTracker_PrunesPastRetention verifies that old timestamps are dropped on record.
func TestTracker_PrunesPastRetention(t *testing.T) {
	tr, now := newTestTracker()
	tr.RecordActivityN(3)
	*now = now.Add(retention + time.Minute)
	tr.RecordActivity()

	tr.mu.Lock()
	n := len(tr.activeTimes)
	tr.mu.Unlock()
	if n != 1 {
		t.Errorf("len(activeTimes) = %d, want 1 after prune", n)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccessN(3)
	tr.RecordDenied()
	tr.Reset()
	if n := tr.RequestCount(time.Hour); n != 0 {
		t.Errorf("RequestCount() after Reset = %d, want 0", n)
	}
}

// TestTracker_Concurrent exercises concurrent recording.
func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordSuccess()
				_ = tr.RequestCount(time.Minute)
			}
		}()
	}
	wg.Wait()
	if n := tr.RequestCount(time.Minute); n != 1000 {
		t.Errorf("RequestCount() = %d, want 1000", n)
	}
}
