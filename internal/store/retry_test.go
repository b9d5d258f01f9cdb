package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
)

var fastRetry = retryConfig{
	maxRetries: 3,
	baseDelay:  time.Millisecond,
	maxDelay:   4 * time.Millisecond,
}

func TestIsTransientSQLiteErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"short read", sqlite3.Error{Code: sqlite3.ErrIoErr, ExtendedCode: sqlite3.ErrIoErrShortRead}, true},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"wrapped busy", fmt.Errorf("write run: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), true},
		{"locked message", errors.New("database is locked"), true},
		{"other", errors.New("no such table: runs"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientSQLiteErr(tt.err); got != tt.want {
				t.Errorf("isTransientSQLiteErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOp_RetriesTransient(t *testing.T) {
	calls := 0
	err := retryOp(context.Background(), fastRetry, func() error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryOp() failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryOp_StopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("constraint failed")
	err := retryOp(context.Background(), fastRetry, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("err = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryOp_GivesUp(t *testing.T) {
	calls := 0
	err := retryOp(context.Background(), fastRetry, func() error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != fastRetry.maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, fastRetry.maxRetries+1)
	}
}

func TestRetryOp_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryOp(ctx, fastRetry, func() error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoffDelay_Bounded(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(fastRetry, attempt)
		if d < fastRetry.baseDelay {
			t.Errorf("attempt %d: delay %v below base", attempt, d)
		}
		if d >= fastRetry.maxDelay+fastRetry.baseDelay {
			t.Errorf("attempt %d: delay %v above cap", attempt, d)
		}
	}
}
