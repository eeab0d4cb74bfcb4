package wait

import (
	"context"
	"errors"
	"testing"
	"time"
)

type observation struct {
	status     string
	confidence float64
}

func TestUntilStopsOnAcceptableValue(t *testing.T) {
	values := []observation{
		{status: "PROCESSING", confidence: 0.2},
		{status: "PROCESSING", confidence: 0.5},
		{status: "DONE", confidence: 0.95},
	}

	calls := 0
	poll := func(ctx context.Context) (observation, error) {
		value := values[calls]
		calls++
		return value, nil
	}

	got := Until(context.Background(), poll,
		func(o observation) bool { return o.confidence >= 0.9 },
		func(o observation) bool { return false },
		time.Second, time.Millisecond)

	if calls != 3 {
		t.Fatalf("expected exactly 3 polls, got %d", calls)
	}
	if got.confidence != 0.95 {
		t.Fatalf("expected the accepted value back, got %+v", got)
	}
}

func TestUntilStopsOnTerminalEvenWhenNotAcceptable(t *testing.T) {
	calls := 0
	poll := func(ctx context.Context) (observation, error) {
		calls++
		if calls == 2 {
			return observation{status: "ERROR", confidence: 0.1}, nil
		}
		return observation{status: "PROCESSING"}, nil
	}

	got := Until(context.Background(), poll,
		func(o observation) bool { return o.confidence >= 0.9 },
		func(o observation) bool { return o.status == "DONE" || o.status == "ERROR" },
		time.Second, time.Millisecond)

	if calls != 2 {
		t.Fatalf("expected 2 polls, got %d", calls)
	}
	if got.status != "ERROR" {
		t.Fatalf("expected the terminal value back, got %+v", got)
	}
}

func TestUntilReturnsLastValueOnTimeout(t *testing.T) {
	calls := 0
	poll := func(ctx context.Context) (observation, error) {
		calls++
		return observation{status: "PROCESSING", confidence: float64(calls)}, nil
	}

	timeout := 90 * time.Millisecond
	interval := 30 * time.Millisecond
	got := Until(context.Background(), poll,
		func(o observation) bool { return false },
		func(o observation) bool { return false },
		timeout, interval)

	// Immediate poll, polls at each interval, one final poll at the deadline.
	want := int(timeout/interval) + 1
	if calls != want {
		t.Fatalf("expected %d polls, got %d", want, calls)
	}
	if got.confidence != float64(calls) {
		t.Fatalf("expected the last observed value, got %+v after %d polls", got, calls)
	}
}

func TestUntilKeepsPollingThroughErrors(t *testing.T) {
	calls := 0
	poll := func(ctx context.Context) (observation, error) {
		calls++
		if calls < 3 {
			return observation{}, errors.New("store unavailable")
		}
		return observation{status: "DONE", confidence: 0.99}, nil
	}

	got := Until(context.Background(), poll,
		func(o observation) bool { return o.confidence >= 0.9 },
		func(o observation) bool { return o.status == "DONE" },
		time.Second, time.Millisecond)

	if got.status != "DONE" {
		t.Fatalf("expected DONE after transient errors, got %+v", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 polls, got %d", calls)
	}
}

func TestUntilStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	poll := func(ctx context.Context) (observation, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return observation{status: "PROCESSING"}, nil
	}

	got := Until(ctx, poll,
		func(o observation) bool { return false },
		func(o observation) bool { return false },
		time.Minute, 10*time.Millisecond)

	if calls != 1 {
		t.Fatalf("expected a single poll before cancellation, got %d", calls)
	}
	if got.status != "PROCESSING" {
		t.Fatalf("expected last value on cancel, got %+v", got)
	}
}
