package debounce

import (
	"sync"
	"testing"
	"time"
)

func TestPollWithoutEdge(t *testing.T) {
	in := New(DefaultWindow)
	if got := in.Poll(); got != None {
		t.Errorf("Expected None, got %v", got)
	}
}

func TestFirstEdgeAccepted(t *testing.T) {
	in := New(DefaultWindow)
	in.MarkEdge(time.Second)

	if got := in.Poll(); got != Accepted {
		t.Fatalf("Expected Accepted, got %v", got)
	}
	if in.Pending() {
		t.Error("Expected marker to be cleared after poll")
	}
	if got := in.Poll(); got != None {
		t.Errorf("Expected edge to be consumed exactly once, got %v", got)
	}
}

func TestTwoEdgesBeforePollCollapse(t *testing.T) {
	in := New(DefaultWindow)
	in.MarkEdge(time.Second)
	in.MarkEdge(time.Second + 20*time.Millisecond)

	accepted := 0
	for i := 0; i < 3; i++ {
		if in.Poll() == Accepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("Expected exactly one accepted activation, got %d", accepted)
	}
}

func TestEdgeInsideWindowSuppressed(t *testing.T) {
	in := New(DefaultWindow)

	in.MarkEdge(time.Second)
	if got := in.Poll(); got != Accepted {
		t.Fatalf("Expected Accepted, got %v", got)
	}

	in.MarkEdge(time.Second + 150*time.Millisecond)
	if got := in.Poll(); got != Suppressed {
		t.Fatalf("Expected Suppressed, got %v", got)
	}
	if in.Pending() {
		t.Error("Expected suppressed edge to be cleared")
	}
}

func TestSuppressedEdgeDoesNotRestartWindow(t *testing.T) {
	in := New(DefaultWindow)

	in.MarkEdge(time.Second)
	in.Poll()
	in.MarkEdge(time.Second + 150*time.Millisecond)
	in.Poll()

	// 200ms after the accepted edge, 50ms after the suppressed one
	in.MarkEdge(time.Second + 200*time.Millisecond)
	if got := in.Poll(); got != Accepted {
		t.Errorf("Expected Accepted at the window boundary, got %v", got)
	}
}

func TestZeroTimestampStillMarks(t *testing.T) {
	in := New(DefaultWindow)
	in.MarkEdge(0)
	if !in.Pending() {
		t.Error("Expected edge at clock zero to be recorded")
	}
}

func TestConcurrentMarkEdge(t *testing.T) {
	in := New(DefaultWindow)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in.MarkEdge(time.Duration(i) * time.Millisecond)
		}(i)
	}
	wg.Wait()

	if got := in.Poll(); got != Accepted {
		t.Errorf("Expected a single accepted activation, got %v", got)
	}
	if got := in.Poll(); got != None {
		t.Errorf("Expected nothing pending, got %v", got)
	}
}
