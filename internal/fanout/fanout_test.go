package fanout

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunSucceedsWithoutRetryWhenFirstAttemptWorks(t *testing.T) {
	calls := 0
	err := Run(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil, "h", "r",
		func(ctx context.Context) error { calls++; return nil }, nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRunRetriesThenRecordsDeadLetter(t *testing.T) {
	calls := 0
	dlq := NewDeadLetterLog(10)
	wantErr := errors.New("peer unreachable")
	err := Run(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, dlq, "hash1", "peerA",
		func(ctx context.Context) error { calls++; return wantErr }, func() time.Time { return time.Unix(0, 0) })
	if err == nil {
		t.Fatalf("expected failure after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	snap := dlq.Snapshot()
	if len(snap) != 1 || snap[0].Hash != "hash1" || snap[0].Recipient != "peerA" {
		t.Fatalf("expected one dead letter recorded, got %+v", snap)
	}
}

func TestRunSucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := Run(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil, "h", "r",
		func(ctx context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		}, nil)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}
