package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("database is locked")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func fast(retries int) Policy {
	return Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2, MaxRetries: retries}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fast(2).Do(context.Background(), isBusy, func() error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got err=%v calls=%d", err, calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("constraint failed")
	calls := 0
	err := fast(5).Do(context.Background(), isBusy, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected one call with the permanent error, got err=%v calls=%d", err, calls)
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Policy{Initial: time.Millisecond, Multiplier: 1, MaxRetries: 2}.Do(context.Background(), isBusy, func() error {
		calls++
		return errBusy
	})
	if !errors.Is(err, errBusy) || calls != 3 {
		t.Fatalf("expected three calls ending busy, got err=%v calls=%d", err, calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{Initial: time.Hour, Multiplier: 1, MaxRetries: 3}.Do(ctx, isBusy, func() error {
		calls++
		cancel()
		return errBusy
	})
	if !errors.Is(err, errBusy) || calls != 1 {
		t.Fatalf("expected the busy error after one call, got err=%v calls=%d", err, calls)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxRetries != 3 || p.Initial != 100*time.Millisecond || p.Max != time.Second {
		t.Fatalf("unexpected default policy %+v", p)
	}
}
