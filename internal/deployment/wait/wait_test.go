package wait

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntilSucceedsOnceAlive(t *testing.T) {
	calls := 0
	err := Until(context.Background(), time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 probe calls, got %d", calls)
	}
}

func TestUntilFatalProbeErrorAbortsImmediately(t *testing.T) {
	calls := 0
	probeErr := errors.New("container exited")
	err := Until(context.Background(), time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return false, probeErr
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one probe call before aborting, got %d", calls)
	}
}

func TestUntilTimesOut(t *testing.T) {
	err := Until(context.Background(), 50*time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
}
