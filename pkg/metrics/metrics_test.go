package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestTimerMeasuresElapsed(t *testing.T) {
	timer := NewTimer("op")
	time.Sleep(5 * time.Millisecond)

	first := timer.Stop()
	if first < 5*time.Millisecond {
		t.Fatalf("elapsed %v, want >= 5ms", first)
	}

	// Stop is repeatable and keeps measuring from creation
	second := timer.Stop()
	if second < first {
		t.Fatalf("second stop %v went backwards from %v", second, first)
	}
}

func TestThroughputTrackerRate(t *testing.T) {
	tracker := NewThroughputTracker()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				tracker.Increment(1)
			}
		}()
	}
	wg.Wait()

	time.Sleep(10 * time.Millisecond)
	rate := tracker.GetAndReset()
	if rate <= 0 {
		t.Fatalf("rate = %v, want positive", rate)
	}

	// The counter resets, so an immediate second read sees no events
	time.Sleep(time.Millisecond)
	if again := tracker.GetAndReset(); again != 0 {
		t.Fatalf("rate after reset = %v, want 0", again)
	}
}
