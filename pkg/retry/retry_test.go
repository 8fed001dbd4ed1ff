package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/audioscribe/pipeline/pkg/apperr"
)

func fastPolicy(attempts int) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = attempts
	p.InitialInterval = time.Millisecond
	p.MaxInterval = 2 * time.Millisecond
	return p
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "put", func() error {
		calls++
		if calls < 3 {
			return apperr.Storage("put", errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	cause := apperr.Storage("put", errors.New("503"))
	err := fastPolicy(4).Do(context.Background(), "put", func() error {
		calls++
		return cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want %v", err, cause)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestDoStopsOnValidationError(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "put", func() error {
		calls++
		return apperr.Validation("path", "file is empty")
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoCustomPredicate(t *testing.T) {
	p := fastPolicy(5)
	p.Retryable = func(error) bool { return false }

	calls := 0
	_ = p.Do(context.Background(), "put", func() error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
