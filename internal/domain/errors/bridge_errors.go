package errors

import (
	"errors"
	"fmt"
)

// Bridge-specific errors
var (
	// Validation errors, rejected synchronously at initiation
	ErrAmountOutOfRange     = fmt.Errorf("amount out of range: %w", ErrInvalidInput)
	ErrUnsupportedDirection = fmt.Errorf("unsupported bridge direction: %w", ErrInvalidInput)
	ErrInvalidAmount        = fmt.Errorf("invalid amount: %w", ErrInvalidInput)

	// State errors
	ErrTransferNotFound         = fmt.Errorf("bridge transfer: %w", ErrNotFound)
	ErrIllegalTransition        = errors.New("illegal status transition")
	ErrConflictingConfirmation  = fmt.Errorf("conflicting confirmation: %w", ErrConflict)
	ErrRefundNotAllowed         = fmt.Errorf("refund not allowed: %w", ErrConflict)
	ErrDuplicateVerificationKey = fmt.Errorf("verification hash already in use: %w", ErrConflict)

	// Attestation errors
	ErrUnknownValidator      = errors.New("validator is not in the active set")
	ErrInvalidSignature      = errors.New("invalid validator signature")
	ErrTransferNotCollecting = errors.New("transfer is not collecting signatures")

	// The validator set a transfer was pinned to at lock is no longer registered
	ErrValidatorSetUnavailable = fmt.Errorf("validator set unavailable: %w", ErrServiceUnavailable)

	// Failure reasons recorded on transfers
	ErrQuorumTimeout = errors.New("quorum timeout")
	ErrTimeout       = errors.New("transaction timeout")
)

// AmountOutOfRangeError creates an error for amounts outside configured limits
func AmountOutOfRangeError(amount, minimum, maximum string) *DomainError {
	return &DomainError{
		Err:     ErrAmountOutOfRange,
		Code:    "AMOUNT_OUT_OF_RANGE",
		Message: "amount is outside the allowed bridge range",
		Details: map[string]interface{}{
			"amount":  amount,
			"minimum": minimum,
			"maximum": maximum,
		},
	}
}

// UnsupportedDirectionError creates an error for an unknown chain pair
func UnsupportedDirectionError(direction string) *DomainError {
	return &DomainError{
		Err:     ErrUnsupportedDirection,
		Code:    "UNSUPPORTED_DIRECTION",
		Message: "bridge direction is not supported",
		Details: map[string]interface{}{
			"direction": direction,
		},
	}
}

// InvalidAmountError creates an error for non-positive amounts or amounts consumed by fees
func InvalidAmountError(amount, reason string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidAmount,
		Code:    "INVALID_AMOUNT",
		Message: reason,
		Details: map[string]interface{}{
			"amount": amount,
		},
	}
}

// IllegalTransitionError creates an error for a transition absent from the legality table
func IllegalTransitionError(from, to string) *DomainError {
	return &DomainError{
		Err:     ErrIllegalTransition,
		Code:    "ILLEGAL_TRANSITION",
		Message: "illegal bridge status transition from " + from + " to " + to,
		Details: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// TransferNotFoundError creates a not found error for a transfer lookup key
func TransferNotFoundError(key string) *DomainError {
	return &DomainError{
		Err:     ErrTransferNotFound,
		Code:    "BRIDGE_TRANSFER_NOT_FOUND",
		Message: "bridge transfer not found",
		Details: map[string]interface{}{
			"key": key,
		},
	}
}

// ConflictingConfirmationError is returned when a confirmation disagrees with recorded provenance
func ConflictingConfirmationError(field, recorded, received string) *DomainError {
	return &DomainError{
		Err:     ErrConflictingConfirmation,
		Code:    "CONFLICTING_CONFIRMATION",
		Message: "confirmation conflicts with recorded " + field,
		Details: map[string]interface{}{
			"field":    field,
			"recorded": recorded,
			"received": received,
		},
	}
}

// RefundNotAllowedError creates an error for refunds outside the FAILED state
func RefundNotAllowedError(status, reason string) *DomainError {
	return &DomainError{
		Err:     ErrRefundNotAllowed,
		Code:    "REFUND_NOT_ALLOWED",
		Message: reason,
		Details: map[string]interface{}{
			"status": status,
		},
	}
}

// SignatureRejectedError wraps one of the attestation sentinels with the validator involved
func SignatureRejectedError(err error, validatorID string) *DomainError {
	return &DomainError{
		Err:     err,
		Code:    "SIGNATURE_REJECTED",
		Message: err.Error(),
		Details: map[string]interface{}{
			"validator_id": validatorID,
		},
	}
}

// ValidatorSetUnavailableError reports a pinned validator set version missing from the registry
func ValidatorSetUnavailableError(version int) *DomainError {
	return &DomainError{
		Err:     ErrValidatorSetUnavailable,
		Code:    "VALIDATOR_SET_UNAVAILABLE",
		Message: "validator set the transfer was locked against is unavailable",
		Details: map[string]interface{}{
			"validator_set_version": version,
		},
	}
}

// IsIllegalTransition checks if error is an illegal status transition
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

// IsBridgeValidation checks if error is one of the synchronous initiation validation errors
func IsBridgeValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsSignatureRejected checks if error is an attestation rejection
func IsSignatureRejected(err error) bool {
	return errors.Is(err, ErrUnknownValidator) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrTransferNotCollecting)
}
