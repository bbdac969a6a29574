package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetry() Opts {
	return Opts{MaxRetries: 2, RetryDelay: time.Millisecond}
}

func TestRunWithRetry_TransientThenSuccess(t *testing.T) {
	attempts := 0
	err := runWithRetry(context.Background(), fastRetry(), "test", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("write: %w", driver.ErrBadConn)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunWithRetry_GivesUp(t *testing.T) {
	attempts := 0
	err := runWithRetry(context.Background(), fastRetry(), "test", func(context.Context) error {
		attempts++
		return errors.New("read tcp: connection reset by peer")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Errorf("expected 1 attempt plus 2 retries, got %d", attempts)
	}
}

func TestRunWithRetry_PermanentError(t *testing.T) {
	attempts := 0
	syntaxErr := errors.New(`syntax error at or near "SELEC"`)
	err := runWithRetry(context.Background(), fastRetry(), "test", func(context.Context) error {
		attempts++
		return syntaxErr
	})
	if !errors.Is(err, syntaxErr) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected no retries, got %d attempts", attempts)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{driver.ErrBadConn, true},
		{errors.New("database is locked"), true},
		{errors.New("pq: duplicate key value"), false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
