package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError indicates malformed or nonsensical input, such as a
// non-positive amount or releasing capital that was never reserved.
// It is client-facing and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a named field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientCapitalError indicates a reserve or allocate was rejected
// because the portfolio cannot cover the amount. This is a business
// outcome, not a bug.
type InsufficientCapitalError struct {
	PortfolioID string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital for portfolio %s: requested %s, available %s",
		e.PortfolioID, e.Requested.String(), e.Available.String())
}

// InvalidTransitionError indicates an attempted ledger entry state change
// that is not in the transition table.
type InvalidTransitionError struct {
	EntryID string
	From    string
	Action  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for entry %s: %s does not accept %s", e.EntryID, e.From, e.Action)
}

// IdempotencyConflictError indicates another holder of the same idempotency
// key is still executing. The caller must not proceed.
type IdempotencyConflictError struct {
	Key string
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("request with idempotency key %s is already in progress", e.Key)
}

// ReconciliationDriftError indicates the ledger's view of capital disagrees
// with broker-confirmed truth. It is never resolved silently; the entry it
// references is parked in RECONCILING for manual or scheduled resolution.
type ReconciliationDriftError struct {
	OrderID string
	Reason  string
}

func (e *ReconciliationDriftError) Error() string {
	return fmt.Sprintf("reconciliation drift on order %s: %s", e.OrderID, e.Reason)
}

// DependencyUnavailableError indicates a correctness-critical backend (the
// idempotency store or the database) is unreachable. Effectful workflows
// fail closed when they see this.
type DependencyUnavailableError struct {
	Dependency string
	Err        error
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyUnavailableError) Unwrap() error {
	return e.Err
}

// OrderUnconfirmedError reports the partial-success case the orchestrator
// must distinguish: capital was reserved but the broker's outcome is
// unknown. The reservation is held for reconciliation rather than released.
type OrderUnconfirmedError struct {
	OrderID string
	EntryID string
	Err     error
}

func (e *OrderUnconfirmedError) Error() string {
	return fmt.Sprintf("order %s unconfirmed, capital reserved under entry %s: %v", e.OrderID, e.EntryID, e.Err)
}

func (e *OrderUnconfirmedError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err should surface as a 4xx-equivalent
// rather than be retried.
func IsClientError(err error) bool {
	var ve *ValidationError
	var ice *InsufficientCapitalError
	var ite *InvalidTransitionError
	return errors.As(err, &ve) || errors.As(err, &ice) || errors.As(err, &ite)
}
