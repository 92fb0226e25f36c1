package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestRetryableClassification(t *testing.T) {
	retryable := []string{ErrConnectionFailed, ErrTimeout, ErrStoreUnavailable, ErrAgentTransient}
	for _, code := range retryable {
		if !New(code, "x").ShouldRetry() {
			t.Errorf("%s should be retryable", code)
		}
	}

	permanent := []string{
		ErrDuplicateInProgress, ErrLeaseExpired, ErrMissingRequiredContext,
		ErrInvalidInput, ErrSkillNotFound, ErrBudgetExhausted,
		ErrAgentPermanent, ErrEvaluationInconclusive, ErrCancelled,
	}
	for _, code := range permanent {
		if New(code, "x").ShouldRetry() {
			t.Errorf("%s must not be retryable", code)
		}
	}
}

func TestCategoryFromCode(t *testing.T) {
	cases := map[string]ErrorCategory{
		ErrTimeout:                "infrastructure",
		ErrDuplicateInProgress:    "idempotency",
		ErrMissingRequiredContext: "context",
		ErrBudgetExhausted:        "budget",
		ErrAgentTransient:         "agent",
		ErrCancelled:              "caller",
	}
	for code, want := range cases {
		if got := New(code, "x").Category; got != want {
			t.Errorf("category of %s = %s, want %s", code, got, want)
		}
	}
}

func TestWrapPreservesClassification(t *testing.T) {
	inner := New(ErrBudgetExhausted, "limit reached")
	outer := Wrap(fmt.Errorf("reserve failed: %w", inner), ErrStoreUnavailable)

	if outer.Code != ErrBudgetExhausted {
		t.Errorf("wrap reclassified %s as %s", ErrBudgetExhausted, outer.Code)
	}
	if IsRetryable(outer) {
		t.Error("budget exhaustion became retryable through wrapping")
	}
}

func TestWrapClassifiesPlainError(t *testing.T) {
	plain := stderrors.New("connection reset")
	wrapped := Wrap(plain, ErrConnectionFailed)

	if wrapped.Code != ErrConnectionFailed {
		t.Errorf("code = %s, want %s", wrapped.Code, ErrConnectionFailed)
	}
	if !stderrors.Is(wrapped, plain) {
		t.Error("wrapped error lost its cause")
	}
	if CodeOf(wrapped) != ErrConnectionFailed {
		t.Errorf("CodeOf = %s, want %s", CodeOf(wrapped), ErrConnectionFailed)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ErrTimeout) != nil {
		t.Error("wrapping nil should stay nil")
	}
}

func TestUnclassifiedErrorsNotRetried(t *testing.T) {
	if IsRetryable(stderrors.New("something odd")) {
		t.Error("unclassified errors must not burn retry budget")
	}
	if CodeOf(stderrors.New("something odd")) != "" {
		t.Error("CodeOf of a plain error should be empty")
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrSkillNotFound, "unknown skill"))
	if !IsCode(err, ErrSkillNotFound) {
		t.Error("IsCode failed to see through fmt.Errorf wrapping")
	}
	if IsCode(err, ErrTimeout) {
		t.Error("IsCode matched the wrong code")
	}
}
