package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrUnknownPlan is a configuration error: the plan ID is not in the catalog
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrUnknownUsageType is returned for usage types outside the enumerated set
	ErrUnknownUsageType = errors.New("unknown usage type")
	// ErrFreePlan is returned when an operation requires a paid plan
	ErrFreePlan = errors.New("subscription is on the free plan")
	// ErrAlreadyCancelled is returned when auto-renewal is already off
	ErrAlreadyCancelled = errors.New("subscription already cancelled")
	// ErrAlreadyActive is returned when auto-renewal is already on
	ErrAlreadyActive = errors.New("subscription already active")
	// ErrNoPaymentSource is returned when no payment source is registered for the user
	ErrNoPaymentSource = errors.New("no payment source on file")
)

// QuotaExceededError is returned when a usage type has reached its plan ceiling
type QuotaExceededError struct {
	UsageType UsageType
	Used      int
	Limit     int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d/%d", e.UsageType, e.Used, e.Limit)
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
