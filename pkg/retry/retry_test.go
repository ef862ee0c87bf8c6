package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
)

func testConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestFetchConfigTighterThanStageConfig(t *testing.T) {
	if FetchConfig().MaxRetries <= StageConfig().MaxRetries {
		t.Errorf("fetch budget must exceed stage budget: %d vs %d",
			FetchConfig().MaxRetries, StageConfig().MaxRetries)
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), testConfig(3), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), testConfig(3), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	callCount := 0
	wantErr := errors.New("always failing")
	err := Do(context.Background(), testConfig(2), func() error {
		callCount++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", callCount)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, testConfig(3), func() error {
		return errors.New("failing")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoIfRetryable_PermanentErrorStopsImmediately(t *testing.T) {
	callCount := 0
	err := DoIfRetryable(context.Background(), testConfig(5), func() error {
		callCount++
		return apperrors.Permanent(apperrors.ErrHandleNotFound)
	}, nil)

	if !errors.Is(err, apperrors.ErrHandleNotFound) {
		t.Errorf("expected handle-not-found, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", callCount)
	}
}

func TestDoIfRetryable_TransientErrorRetries(t *testing.T) {
	callCount := 0
	err := DoIfRetryable(context.Background(), testConfig(3), func() error {
		callCount++
		if callCount < 2 {
			return apperrors.Transient(errors.New("source hiccup"))
		}
		return nil
	}, nil)

	if err != nil {
		t.Errorf("expected success after retry, got %v", err)
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls, got %d", callCount)
	}
}

func TestDoIfRetryable_ReportsEveryAttempt(t *testing.T) {
	var attempts []int
	var attemptErrs []error
	_ = DoIfRetryable(context.Background(), testConfig(2), func() error {
		return apperrors.Transient(errors.New("still down"))
	}, func(attempt int, err error) {
		attempts = append(attempts, attempt)
		attemptErrs = append(attemptErrs, err)
	})

	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempt reports, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a != i+1 {
			t.Errorf("attempt index %d reported as %d", i+1, a)
		}
		if attemptErrs[i] == nil {
			t.Errorf("attempt %d: expected error recorded", i+1)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("HTTP 503 service unavailable"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("invalid credentials"), false},
		{apperrors.Transient(errors.New("anything")), true},
		{apperrors.Permanent(errors.New("timeout")), false}, // explicit marker wins over pattern
		{fmt.Errorf("fetch: %w", apperrors.Transient(errors.New("reset"))), true},
		{fmt.Errorf("fetch: %w", apperrors.Permanent(apperrors.ErrHandleNotFound)), false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
