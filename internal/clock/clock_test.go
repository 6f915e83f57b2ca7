package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManual(start)

	ch := m.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before advance")
	default:
	}

	m.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired one second early")
	default:
	}

	m.Advance(time.Second)
	select {
	case now := <-ch:
		if !now.Equal(start.Add(10 * time.Second)) {
			t.Fatalf("timer fired at %v, want %v", now, start.Add(10*time.Second))
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if m.Pending() != 0 {
		t.Fatalf("pending timers = %d, want 0", m.Pending())
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("zero-duration timer did not fire immediately")
	}
}
