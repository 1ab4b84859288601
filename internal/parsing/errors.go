package parsing

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a business-rule violation detected while
// processing an event stream.
//
// Validation errors include:
//   - Entry not found: an event references an identifier never commissioned
//   - Entry decommissioned: an event references a retired identifier
//   - Duplicate commission: an identifier is commissioned twice
//   - Invalid aggregation: a child is already packed, or equals its parent
//   - Entry count mismatch: some referenced identifiers could not be resolved
//   - Out of order: an event predates the entry's last recorded event
//
// ValidationError includes structured fields for diagnostics. Identifiers
// carries the offending EPC values when more than one is involved.
type ValidationError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EventID identifies the event that triggered the error, when known.
	EventID string

	// Identifiers lists the offending EPC values.
	Identifiers []string
}

// ErrorCode categorizes validation errors.
type ErrorCode string

const (
	// ErrCodeEntryNotFound indicates a referenced identifier was never commissioned.
	ErrCodeEntryNotFound ErrorCode = "ENTRY_NOT_FOUND"

	// ErrCodeEntryDecommissioned indicates a referenced identifier was retired.
	ErrCodeEntryDecommissioned ErrorCode = "ENTRY_DECOMMISSIONED"

	// ErrCodeDuplicateCommission indicates an identifier was commissioned twice.
	ErrCodeDuplicateCommission ErrorCode = "DUPLICATE_COMMISSION"

	// ErrCodeInvalidAggregation indicates an illegal pack or unpack operation.
	ErrCodeInvalidAggregation ErrorCode = "INVALID_AGGREGATION"

	// ErrCodeEntryCountMismatch indicates some referenced identifiers could
	// not be resolved to active entries.
	ErrCodeEntryCountMismatch ErrorCode = "ENTRY_COUNT_MISMATCH"

	// ErrCodeOutOfOrderEvent indicates an event older than the entry's last event.
	ErrCodeOutOfOrderEvent ErrorCode = "OUT_OF_ORDER_EVENT"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case len(e.Identifiers) > 0 && e.EventID != "":
		return fmt.Sprintf("%s: %s (event=%s, identifiers=%s)", e.Code, e.Message, e.EventID, strings.Join(e.Identifiers, ","))
	case len(e.Identifiers) > 0:
		return fmt.Sprintf("%s: %s (identifiers=%s)", e.Code, e.Message, strings.Join(e.Identifiers, ","))
	case e.EventID != "":
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsEntryNotFound returns true if the error is an entry-not-found error.
// Uses errors.As to handle wrapped errors.
func IsEntryNotFound(err error) bool {
	return hasCode(err, ErrCodeEntryNotFound)
}

// IsEntryDecommissioned returns true if the error is a decommissioned-entry error.
func IsEntryDecommissioned(err error) bool {
	return hasCode(err, ErrCodeEntryDecommissioned)
}

// IsDuplicateCommission returns true if the error is a duplicate-commission error.
func IsDuplicateCommission(err error) bool {
	return hasCode(err, ErrCodeDuplicateCommission)
}

// IsInvalidAggregation returns true if the error is an invalid-aggregation error.
func IsInvalidAggregation(err error) bool {
	return hasCode(err, ErrCodeInvalidAggregation)
}

// IsEntryCountMismatch returns true if the error is an entry-count-mismatch error.
func IsEntryCountMismatch(err error) bool {
	return hasCode(err, ErrCodeEntryCountMismatch)
}

// IsOutOfOrderEvent returns true if the error is an out-of-order-event error.
func IsOutOfOrderEvent(err error) bool {
	return hasCode(err, ErrCodeOutOfOrderEvent)
}

func hasCode(err error, code ErrorCode) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// NewEntryNotFoundError creates a ValidationError for an unknown identifier.
func NewEntryNotFoundError(eventID, identifier string) *ValidationError {
	return &ValidationError{
		Code:        ErrCodeEntryNotFound,
		Message:     "identifier has not been commissioned",
		EventID:     eventID,
		Identifiers: []string{identifier},
	}
}

// NewEntryDecommissionedError creates a ValidationError for a retired identifier.
func NewEntryDecommissionedError(eventID, identifier string) *ValidationError {
	return &ValidationError{
		Code:        ErrCodeEntryDecommissioned,
		Message:     "identifier has been decommissioned",
		EventID:     eventID,
		Identifiers: []string{identifier},
	}
}

// NewDuplicateCommissionError creates a ValidationError for a re-commissioned
// identifier.
func NewDuplicateCommissionError(eventID, identifier string) *ValidationError {
	return &ValidationError{
		Code:        ErrCodeDuplicateCommission,
		Message:     "identifier has already been commissioned",
		EventID:     eventID,
		Identifiers: []string{identifier},
	}
}

// NewInvalidAggregationError creates a ValidationError for an illegal pack or
// unpack, naming the offending identifiers.
func NewInvalidAggregationError(eventID, message string, identifiers []string) *ValidationError {
	return &ValidationError{
		Code:        ErrCodeInvalidAggregation,
		Message:     message,
		EventID:     eventID,
		Identifiers: identifiers,
	}
}

// NewEntryCountMismatchError creates a ValidationError naming the identifiers
// that could not be resolved to active entries.
func NewEntryCountMismatchError(eventID string, missing []string) *ValidationError {
	return &ValidationError{
		Code:        ErrCodeEntryCountMismatch,
		Message:     fmt.Sprintf("%d referenced identifiers could not be resolved", len(missing)),
		EventID:     eventID,
		Identifiers: missing,
	}
}

// NewOutOfOrderEventError creates a ValidationError for an event that predates
// the entry's last recorded event.
func NewOutOfOrderEventError(eventID, identifier string) *ValidationError {
	return &ValidationError{
		Code:        ErrCodeOutOfOrderEvent,
		Message:     "event time predates the entry's last recorded event",
		EventID:     eventID,
		Identifiers: []string{identifier},
	}
}
