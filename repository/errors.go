package repository

import (
	"fmt"
	"time"
)

// Error categories. They tell the caller whether the request was invalid,
// whether the channel state blocks it, or whether the ledger could not
// confirm what the client claimed.
const (
	CategoryValidation         = "validation"
	CategoryAuthorization      = "authorization"
	CategoryNotFound           = "not_found"
	CategoryStateConflict      = "state_conflict"
	CategoryLedgerVerification = "ledger_verification"
	CategoryLedgerUnavailable  = "ledger_unavailable"
	CategoryInfrastructure     = "infrastructure"
)

// RepositoryError represent an error in the repository layer (db/rpc)
type RepositoryError struct {
	Code     string
	Message  string
	Detail   string
	Category string
	Data     map[string]any
}

func (e *RepositoryError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// With attaches a piece of current state to the error
func (e *RepositoryError) With(key string, value any) *RepositoryError {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	if t, ok := value.(time.Time); ok {
		value = t.UTC().Format(time.RFC3339)
	}
	e.Data[key] = value
	return e
}

// IsCode reports whether err is a RepositoryError with the given code
func IsCode(err *RepositoryError, code string) bool {
	return err != nil && err.Code == code
}

func ValidationError(code, message string) *RepositoryError {
	return &RepositoryError{Code: code, Message: message, Category: CategoryValidation}
}

func AuthorizationError(message string) *RepositoryError {
	return &RepositoryError{Code: "UNAUTHORIZED", Message: message, Category: CategoryAuthorization}
}

func NotFoundError(code, message, detail string) *RepositoryError {
	return &RepositoryError{Code: code, Message: message, Detail: detail, Category: CategoryNotFound}
}

func ConflictError(code, message string) *RepositoryError {
	return &RepositoryError{Code: code, Message: message, Category: CategoryStateConflict}
}

// LedgerUnavailableError wraps a failed ledger RPC call. It never means the
// ledger confirmed or denied anything.
func LedgerUnavailableError(err error) *RepositoryError {
	return &RepositoryError{
		Code:     "LEDGER_UNAVAILABLE",
		Message:  "Could not reach the ledger",
		Detail:   err.Error(),
		Category: CategoryLedgerUnavailable,
	}
}

func LedgerVerificationError(message string) *RepositoryError {
	return &RepositoryError{Code: "LEDGER_VERIFICATION_FAILED", Message: message, Category: CategoryLedgerVerification}
}
