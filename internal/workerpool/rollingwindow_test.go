package workerpool

import "testing"

func TestRollingWindowPercentilesAndErrorRate(t *testing.T) {
	w := newRollingWindow(4)
	w.Record(10, false)
	w.Record(20, false)
	w.Record(30, true)
	w.Record(40, false)

	if got := w.P50(); got != 20 {
		t.Errorf("P50 = %d, want 20", got)
	}
	if got := w.ErrorRate(); got != 0.25 {
		t.Errorf("ErrorRate = %v, want 0.25", got)
	}

	// Wrap the ring: the oldest sample (10, non-error) is evicted.
	w.Record(50, true)
	if got := w.windowLen(); got != 4 {
		t.Errorf("windowLen = %d, want 4", got)
	}
}

func TestRollingWindowEmpty(t *testing.T) {
	w := newRollingWindow(4)
	if got := w.P50(); got != 0 {
		t.Errorf("P50 on empty window = %d, want 0", got)
	}
	if got := w.ErrorRate(); got != 0 {
		t.Errorf("ErrorRate on empty window = %v, want 0", got)
	}
}
