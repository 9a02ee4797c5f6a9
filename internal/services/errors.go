package services

import (
	"errors"
	"fmt"
)

// ErrorClass how a failure is surfaced and whether the caller may retry
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassNotFound   ErrorClass = "not_found"
	ClassConflict   ErrorClass = "conflict"
	ClassGone       ErrorClass = "gone"
	ClassDependency ErrorClass = "dependency"
	ClassIntegrity  ErrorClass = "integrity"
)

// DomainError failure with a stable reason code returned to clients
type DomainError struct {
	Code    string
	Class   ErrorClass
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func newDomainError(code string, class ErrorClass, message string) *DomainError {
	return &DomainError{Code: code, Class: class, Message: message}
}

var (
	ErrInvalidInput = newDomainError("INVALID_INPUT", ClassValidation, "invalid input")
	ErrInvalidCode  = newDomainError("INVALID_CODE", ClassValidation, "code is malformed")
	ErrInvalidOtp   = newDomainError("INVALID_OTP", ClassValidation, "one-time code rejected")

	ErrManufacturerNotFound = newDomainError("MANUFACTURER_NOT_FOUND", ClassNotFound, "manufacturer not found")
	ErrBatchNotFound        = newDomainError("BATCH_NOT_FOUND", ClassNotFound, "batch not found")
	ErrPackNotFound         = newDomainError("PACK_NOT_FOUND", ClassNotFound, "pack not found")
	ErrCodeNotFound         = newDomainError("CODE_NOT_FOUND", ClassNotFound, "code not found")
	ErrIntentNotFound       = newDomainError("INTENT_NOT_FOUND", ClassNotFound, "verify intent not found")
	ErrUserNotFound         = newDomainError("USER_NOT_FOUND", ClassNotFound, "user not found")

	ErrCodeUsed           = newDomainError("CODE_USED", ClassConflict, "code already redeemed")
	ErrIntentAlreadyUsed  = newDomainError("INTENT_ALREADY_USED", ClassConflict, "verify intent already used")
	ErrIntentExpired      = newDomainError("INTENT_EXPIRED", ClassConflict, "verify intent expired")
	ErrBatchNotActive     = newDomainError("BATCH_NOT_ACTIVE", ClassConflict, "batch not active")
	ErrPrintNotConfirmed  = newDomainError("PRINT_NOT_CONFIRMED", ClassConflict, "no pack of this batch is print-confirmed")
	ErrPackNotReady       = newDomainError("PACK_NOT_READY", ClassConflict, "pack not ready")
	ErrIdempotencyReplay  = newDomainError("IDEMPOTENCY_KEY_REUSED", ClassConflict, "idempotency key reused with a different request")
	ErrIdempotencyPending = newDomainError("IDEMPOTENCY_IN_PROGRESS", ClassConflict, "a request with this idempotency key is in progress")

	ErrPlaintextPurged = newDomainError("PLAINTEXT_PURGED", ClassGone, "plaintext codes were purged after print confirmation")
	ErrDownloadExpired = newDomainError("DOWNLOAD_EXPIRED", ClassGone, "download window expired")

	ErrIdentityProvider = newDomainError("IDENTITY_PROVIDER_ERROR", ClassDependency, "identity provider request failed")
	ErrWalletCreation   = newDomainError("WALLET_CREATION_FAILED", ClassDependency, "wallet creation failed")
	ErrPayoutFailed     = newDomainError("PAYOUT_FAILED", ClassDependency, "payout failed")
	ErrLedger           = newDomainError("LEDGER_ERROR", ClassDependency, "ledger request failed")

	ErrCommitmentCollision = newDomainError("COMMITMENT_COLLISION", ClassIntegrity, "commitment collision during generation")
	ErrStoredDataCorrupt   = newDomainError("STORED_DATA_CORRUPT", ClassIntegrity, "stored ciphertext failed to decrypt")
)

// wrapDomain attaches the cause to a domain error; errors.Is still matches the sentinel.
func wrapDomain(sentinel *DomainError, cause error) error {
	return fmt.Errorf("%w: %v", sentinel, cause)
}

// AsDomainError extracts the domain error from err, if any.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
