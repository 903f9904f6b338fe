package surface

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"indicator-service/internal/logger"
	"indicator-service/internal/metrics"
	"indicator-service/internal/types"
)

func newTestAdapter(size int) (*Adapter, *metrics.Metrics) {
	m := metrics.New()
	return New(size, logger.Discard(), m), m
}

// serve runs Dispatch in the background until ctx is done, like the poll loop.
func serve(ctx context.Context, a *Adapter, h Handler) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Dispatch(h)
			}
		}
	}()
	return &wg
}

func TestForceStopRoundTrip(t *testing.T) {
	a, m := newTestAdapter(4)
	ctx, cancel := context.WithCancel(context.Background())

	var got []Request
	wg := serve(ctx, a, func(r Request) Ack {
		got = append(got, r)
		return Ack{Snapshot: types.Snapshot{Mode: types.ModeStopped}, Changed: true}
	})

	ack, err := a.ForceStop(context.Background(), "http")
	cancel()
	wg.Wait()

	if err != nil {
		t.Fatalf("ForceStop failed: %v", err)
	}
	if !ack.Changed || !ack.Snapshot.Stopped() {
		t.Errorf("Unexpected ack %+v", ack)
	}
	if len(got) != 1 || got[0].Kind != KindStop || got[0].Transport != "http" {
		t.Errorf("Unexpected requests %+v", got)
	}
	if v := testutil.ToFloat64(m.SurfaceRequests.WithLabelValues("stop", "http")); v != 1 {
		t.Errorf("Expected 1 counted request, got %v", v)
	}
}

func TestRequestsHandledInOrder(t *testing.T) {
	a, _ := newTestAdapter(8)

	results := make(chan Kind, 3)
	for _, k := range []Kind{KindStop, KindResume, KindInterval} {
		k := k
		// enqueue sequentially so the order is deterministic
		go func() {
			var err error
			switch k {
			case KindStop:
				_, err = a.ForceStop(context.Background(), "test")
			case KindResume:
				_, err = a.ForceResume(context.Background(), "test")
			case KindInterval:
				_, err = a.CycleInterval(context.Background(), "test")
			}
			if err != nil {
				t.Errorf("%s failed: %v", k, err)
			}
			results <- k
		}()
		waitQueued(t, a, int(k)+1)
	}

	var order []Kind
	h := func(r Request) Ack {
		order = append(order, r.Kind)
		return Ack{}
	}
	// one stop or resume per transport per call; the rest keeps its order
	if n := a.Dispatch(h); n != 1 {
		t.Fatalf("Expected 1 dispatched request, got %d", n)
	}
	if n := a.Dispatch(h); n != 2 {
		t.Fatalf("Expected 2 dispatched requests, got %d", n)
	}
	if len(order) != 3 {
		t.Fatalf("Expected 3 handled requests, got %v", order)
	}
	for i, k := range []Kind{KindStop, KindResume, KindInterval} {
		if order[i] != k {
			t.Errorf("position %d: expected %s, got %s", i, k, order[i])
		}
	}
	for i := 0; i < 3; i++ {
		<-results
	}
}

// enqueue submits a request in the background and waits until it is queued.
func enqueue(t *testing.T, a *Adapter, kind Kind, transport string) {
	t.Helper()
	queued := len(a.queue)
	go a.submit(context.Background(), kind, transport)
	waitQueued(t, a, queued+1)
}

func TestDispatchOneTransitionPerTransport(t *testing.T) {
	a, _ := newTestAdapter(8)

	enqueue(t, a, KindStop, "http")
	enqueue(t, a, KindResume, "http")
	enqueue(t, a, KindStop, "redis")
	enqueue(t, a, KindInterval, "websocket")
	enqueue(t, a, KindStop, "http")

	var handled []string
	h := func(r Request) Ack {
		handled = append(handled, r.Transport+":"+r.Kind.String())
		return Ack{}
	}

	want := [][]string{
		{"http:stop", "redis:stop", "websocket:interval"},
		{"http:resume"},
		{"http:stop"},
		nil,
	}
	for i, w := range want {
		handled = nil
		a.Dispatch(h)
		if len(handled) != len(w) {
			t.Fatalf("call %d: expected %v, got %v", i, w, handled)
		}
		for j := range w {
			if handled[j] != w[j] {
				t.Errorf("call %d position %d: expected %s, got %s", i, j, w[j], handled[j])
			}
		}
	}
}

func TestDispatchIntervalsNotLimited(t *testing.T) {
	a, _ := newTestAdapter(8)

	for i := 0; i < 3; i++ {
		enqueue(t, a, KindInterval, "http")
	}
	if n := a.Dispatch(func(Request) Ack { return Ack{} }); n != 3 {
		t.Errorf("Expected all 3 interval requests in one call, got %d", n)
	}
}

func waitQueued(t *testing.T, a *Adapter, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(a.queue) < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d queued requests", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueueFull(t *testing.T) {
	a, _ := newTestAdapter(1)

	go a.ForceStop(context.Background(), "test")
	waitQueued(t, a, 1)

	if _, err := a.ForceResume(context.Background(), "test"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	a.Dispatch(func(Request) Ack { return Ack{} })
}

func TestCallerGivesUp(t *testing.T) {
	a, _ := newTestAdapter(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := a.ForceStop(ctx, "test"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}

	// the abandoned request still executes and does not block the loop
	if n := a.Dispatch(func(Request) Ack { return Ack{} }); n != 1 {
		t.Errorf("Expected the abandoned request to be dispatched, got %d", n)
	}
}

func TestDispatchEmpty(t *testing.T) {
	a, _ := newTestAdapter(1)
	if n := a.Dispatch(func(Request) Ack {
		t.Error("Handler called on empty queue")
		return Ack{}
	}); n != 0 {
		t.Errorf("Expected 0, got %d", n)
	}
}

func TestLatest(t *testing.T) {
	a, _ := newTestAdapter(1)
	a.Publish(types.Snapshot{Mode: types.ModeRunning, RotationIndex: 2})
	a.SetInterval(700 * time.Millisecond)

	s, d := a.Latest()
	if s.RotationIndex != 2 || d != 700*time.Millisecond {
		t.Errorf("Unexpected latest state %+v %v", s, d)
	}
}
