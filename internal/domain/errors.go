package domain

import (
	"errors"
	"log/slog"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
)

// Kind classifies a failure for retry and recovery decisions.
type Kind string

const (
	KindNetwork           Kind = "NETWORK"
	KindAPI               Kind = "API"
	KindValidation        Kind = "VALIDATION"
	KindExecution         Kind = "EXECUTION"
	KindDatabase          Kind = "DATABASE"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindCircuitBreaker    Kind = "CIRCUIT_BREAKER"
	KindConfiguration     Kind = "CONFIGURATION"
)

// Severity ranks how badly a failure hurts the process.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var kindDefaults = map[Kind]struct {
	retryable bool
	severity  Severity
}{
	KindNetwork:           {true, SeverityMedium},
	KindAPI:               {true, SeverityMedium},
	KindValidation:        {false, SeverityHigh},
	KindExecution:         {false, SeverityHigh},
	KindDatabase:          {true, SeverityHigh},
	KindInsufficientFunds: {false, SeverityCritical},
	KindCircuitBreaker:    {true, SeverityHigh},
	KindConfiguration:     {false, SeverityCritical},
}

// BotError is a classified failure. Retryable and Severity start from the
// per-kind defaults and may be tightened by the producer (a 4xx response is
// an API error that must not be retried).
type BotError struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Severity  Severity
	Err       error
}

func (e *BotError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *BotError) Unwrap() error { return e.Err }

// Attrs returns the structured logging fields every classified error is
// reported with.
func (e *BotError) Attrs() []any {
	return []any{
		slog.String("code", e.Code),
		slog.String("type", string(e.Kind)),
		slog.String("severity", string(e.Severity)),
		slog.Bool("retryable", e.Retryable),
	}
}

func newBotError(kind Kind, code, message string, cause error) *BotError {
	d := kindDefaults[kind]
	return &BotError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: d.retryable,
		Severity:  d.severity,
		Err:       cause,
	}
}

func NewNetworkError(code, message string, cause error) *BotError {
	return newBotError(KindNetwork, code, message, cause)
}

func NewAPIError(code, message string, cause error) *BotError {
	return newBotError(KindAPI, code, message, cause)
}

func NewValidationError(code, message string, cause error) *BotError {
	return newBotError(KindValidation, code, message, cause)
}

func NewExecutionError(code, message string, cause error) *BotError {
	return newBotError(KindExecution, code, message, cause)
}

func NewDatabaseError(code, message string, cause error) *BotError {
	return newBotError(KindDatabase, code, message, cause)
}

func NewInsufficientFundsError(code, message string, cause error) *BotError {
	return newBotError(KindInsufficientFunds, code, message, cause)
}

func NewCircuitBreakerError(code, message string, cause error) *BotError {
	return newBotError(KindCircuitBreaker, code, message, cause)
}

func NewConfigurationError(code, message string, cause error) *BotError {
	return newBotError(KindConfiguration, code, message, cause)
}

// Classify promotes an arbitrary error to a BotError. Typed errors pass
// through unchanged; untyped ones are matched against message heuristics, in
// order, on the lowercased text. The heuristics exist for third-party errors
// that cannot carry a kind; code in this repo should construct typed errors
// directly.
func Classify(err error) *BotError {
	if err == nil {
		return nil
	}
	var be *BotError
	if errors.As(err, &be) {
		return be
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "network", "connection", "enotfound", "econnrefused"):
		return NewNetworkError("NETWORK_FAILURE", err.Error(), err)
	case containsAny(msg, "mongo", "database") ||
		(strings.Contains(msg, "connection") && strings.Contains(msg, "failed")):
		return NewDatabaseError("DATABASE_FAILURE", err.Error(), err)
	case containsAny(msg, "api", "http") ||
		(strings.Contains(msg, "request") && strings.Contains(msg, "failed")):
		return NewAPIError("API_FAILURE", err.Error(), err)
	case strings.Contains(msg, "insufficient") && strings.Contains(msg, "balance"):
		return NewInsufficientFundsError("INSUFFICIENT_BALANCE", err.Error(), err)
	case containsAny(msg, "validation", "invalid"):
		return NewValidationError("VALIDATION_FAILURE", err.Error(), err)
	default:
		return NewExecutionError("EXECUTION_FAILURE", err.Error(), err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Recovery names the action the engine takes after a classified failure.
type Recovery string

const (
	RecoveryRetry        Recovery = "retry"
	RecoveryCircuitBreak Recovery = "circuit_break"
	RecoverySkip         Recovery = "skip"
	RecoveryShutdown     Recovery = "shutdown"
)

// RecoveryFor maps a classified error to its recovery action. Non-retryable
// critical failures stop the process before any kind-specific handling.
func RecoveryFor(e *BotError) Recovery {
	switch {
	case !e.Retryable && e.Severity == SeverityCritical:
		return RecoveryShutdown
	case (e.Kind == KindNetwork || e.Kind == KindAPI) && e.Retryable:
		return RecoveryRetry
	case e.Kind == KindDatabase:
		return RecoveryCircuitBreak
	default:
		return RecoverySkip
	}
}
