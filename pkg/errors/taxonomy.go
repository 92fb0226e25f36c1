package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorCategory represents the category of error
type ErrorCategory string

const (
	// Infrastructure errors (1xxx)
	ErrConnectionFailed = "CNC-1001" // Network connectivity issues
	ErrTimeout          = "CNC-1002" // External call timed out
	ErrStoreUnavailable = "CNC-1003" // Document store unreachable

	// Idempotency errors (2xxx)
	ErrDuplicateInProgress = "CNC-2001" // Same fingerprint already executing
	ErrLeaseExpired        = "CNC-2002" // Lease timed out before release

	// Context errors (3xxx)
	ErrMissingRequiredContext = "CNC-3001" // Required slice absent at every tier
	ErrInvalidInput           = "CNC-3002" // Bad task parameters
	ErrSkillNotFound          = "CNC-3003" // Unknown skill name

	// Budget errors (4xxx)
	ErrBudgetExhausted = "CNC-4001" // Reservation would exceed period limit

	// Agent errors (5xxx)
	ErrAgentTransient         = "CNC-5001" // Retryable agent invocation failure
	ErrAgentPermanent         = "CNC-5002" // Non-retryable agent invocation failure
	ErrEvaluationInconclusive = "CNC-5003" // Evaluator could not score the artifact

	// Caller errors (6xxx)
	ErrCancelled = "CNC-6001" // Cancelled by caller
)

// ErrorSeverity represents the severity level
type ErrorSeverity int

const (
	SeverityCritical ErrorSeverity = iota // Engine failure, immediate action
	SeverityHigh                          // Task aborted, operator attention
	SeverityMedium                        // Degraded, worth investigating
	SeverityLow                           // Informational
)

// EngineError is the error type every non-success path of the engine
// surfaces to its caller. Callers receive the code and a human-readable
// cause, never a raw stack trace.
type EngineError struct {
	Code          string                 `json:"code"`
	Category      ErrorCategory          `json:"category"`
	Message       string                 `json:"message"`
	Severity      ErrorSeverity          `json:"severity"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Retryable     bool                   `json:"retryable"`
	CorrelationID string                 `json:"correlation_id"`

	cause error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *EngineError) Unwrap() error {
	return e.cause
}

// ShouldRetry determines if the error is retryable
func (e *EngineError) ShouldRetry() bool {
	return e.Retryable
}

// WithContext adds context to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ToJSON serializes the error to JSON
func (e *EngineError) ToJSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new EngineError
func New(code string, message string) *EngineError {
	return &EngineError{
		Code:          code,
		Category:      getCategoryFromCode(code),
		Message:       message,
		Severity:      getSeverityFromCode(code),
		Retryable:     isRetryableCode(code),
		Timestamp:     time.Now(),
		CorrelationID: uuid.New().String(),
	}
}

// Newf creates a new EngineError with a formatted message
func Newf(code string, format string, args ...interface{}) *EngineError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error under an engine code
func Wrap(err error, code string) *EngineError {
	if err == nil {
		return nil
	}

	// Already classified: keep the original code and context
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}

	wrapped := New(code, err.Error())
	wrapped.cause = err
	return wrapped
}

// CodeOf returns the engine error code for err, or "" if it carries none.
func CodeOf(err error) string {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err should be retried. Unclassified errors
// are treated as permanent so unknown failures never burn retry budget.
func IsRetryable(err error) bool {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.ShouldRetry()
	}
	return false
}

// getCategoryFromCode determines category from error code
func getCategoryFromCode(code string) ErrorCategory {
	if len(code) < 6 {
		return ErrorCategory("unknown")
	}

	switch code[4:5] {
	case "1":
		return ErrorCategory("infrastructure")
	case "2":
		return ErrorCategory("idempotency")
	case "3":
		return ErrorCategory("context")
	case "4":
		return ErrorCategory("budget")
	case "5":
		return ErrorCategory("agent")
	case "6":
		return ErrorCategory("caller")
	default:
		return ErrorCategory("unknown")
	}
}

// getSeverityFromCode determines severity from error code
func getSeverityFromCode(code string) ErrorSeverity {
	switch code {
	case ErrStoreUnavailable:
		return SeverityCritical
	case ErrBudgetExhausted, ErrAgentPermanent, ErrMissingRequiredContext:
		return SeverityHigh
	case ErrTimeout, ErrConnectionFailed, ErrAgentTransient, ErrLeaseExpired:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// isRetryableCode determines if an error code is retryable.
// ErrBudgetExhausted and ErrMissingRequiredContext are deliberately
// excluded: they require operator intervention, not a retry.
func isRetryableCode(code string) bool {
	switch code {
	case ErrConnectionFailed, ErrTimeout, ErrStoreUnavailable, ErrAgentTransient:
		return true
	default:
		return false
	}
}
