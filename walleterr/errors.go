package walleterr

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Code is the stable machine-readable tag of an error kind.
type Code string

const (
	// Input errors.
	CodeInvalidAddress        Code = "invalid-address"
	CodeInvalidAmount         Code = "invalid-amount"
	CodeEmptyPassword         Code = "empty-password"
	CodeInvalidDerivationPath Code = "invalid-derivation-path"

	// Authentication errors.
	CodeIncorrectPassword Code = "incorrect-password"
	CodeTooManyAttempts   Code = "too-many-attempts"
	CodeAccountLocked     Code = "account-locked"
	CodeSessionExpired    Code = "session-expired"
	CodePasswordRequired  Code = "password-required"

	// Storage errors.
	CodeSecretNotFound   Code = "secret-not-found"
	CodeIntegrityFailed  Code = "integrity-failed"
	CodeIo               Code = "io"
	CodeDecryptionFailed Code = "decryption-failed"

	// Crypto errors.
	CodeDerivationFailed Code = "derivation-failed"
	CodeSigningFailed    Code = "signing-failed"

	// Transaction errors.
	CodeGasEstimationFailed Code = "gas-estimation-failed"
	CodeInsufficientFunds   Code = "insufficient-funds"
	CodeNonceGap            Code = "nonce-gap"
	CodeAlreadyConfirmed    Code = "already-confirmed"
	CodeGasPriceTooLow      Code = "gas-price-too-low"
	CodeBroadcastFailed     Code = "broadcast-failed"
	CodeUserRejected        Code = "user-rejected"

	// Network errors.
	CodeNetworkError Code = "network-error"
	CodeTimeout      Code = "timeout"

	// Internal errors. These are fatal to the current operation.
	CodeAccountNotFound Code = "account-not-found"
	CodeNonceMismatch   Code = "nonce-mismatch"
	CodeUnsupported     Code = "unsupported"
)

// Error is the concrete error type for every kind in the taxonomy. The
// payload fields are populated only for the kinds that define them.
type Error struct {
	Code    Code
	Message string

	// AttemptsRemaining is set for incorrect-password.
	AttemptsRemaining int
	// RetryAfter is set for too-many-attempts and account-locked.
	RetryAfter time.Duration
	// Required and Available are set for insufficient-funds, in wei.
	Required  *big.Int
	Available *big.Int
	// Reason carries the node's verbatim message for gas-estimation-failed,
	// broadcast-failed and network-error.
	Reason string

	wrapped error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.wrapped }

// Is reports Code equality so errors.Is(err, sentinel) matches any instance
// of the same kind regardless of payload.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Fatal reports whether the error kind is internal and therefore fatal to
// the current operation.
func (e *Error) Fatal() bool {
	switch e.Code {
	case CodeAccountNotFound, CodeNonceMismatch, CodeUnsupported:
		return true
	}
	return false
}

// Sentinels for the zero-payload kinds and for errors.Is comparison.
var (
	ErrInvalidAddress        = &Error{Code: CodeInvalidAddress, Message: "not a valid EVM address"}
	ErrInvalidAmount         = &Error{Code: CodeInvalidAmount, Message: "amount must be a non-negative integer"}
	ErrEmptyPassword         = &Error{Code: CodeEmptyPassword, Message: "password must not be empty"}
	ErrInvalidDerivationPath = &Error{Code: CodeInvalidDerivationPath, Message: "malformed BIP-32 derivation path"}

	ErrIncorrectPassword = &Error{Code: CodeIncorrectPassword, Message: "incorrect password"}
	ErrTooManyAttempts   = &Error{Code: CodeTooManyAttempts, Message: "too many unlock attempts"}
	ErrAccountLocked     = &Error{Code: CodeAccountLocked, Message: "account is locked out"}
	ErrSessionExpired    = &Error{Code: CodeSessionExpired, Message: "session expired"}
	ErrPasswordRequired  = &Error{Code: CodePasswordRequired, Message: "password required"}

	ErrSecretNotFound   = &Error{Code: CodeSecretNotFound, Message: "secret not found"}
	ErrIntegrityFailed  = &Error{Code: CodeIntegrityFailed, Message: "stored secret failed integrity check"}
	ErrIo               = &Error{Code: CodeIo, Message: "storage I/O failure"}
	ErrDecryptionFailed = &Error{Code: CodeDecryptionFailed, Message: "decryption failed"}

	ErrDerivationFailed = &Error{Code: CodeDerivationFailed, Message: "key derivation failed"}
	ErrSigningFailed    = &Error{Code: CodeSigningFailed, Message: "signing failed"}

	ErrGasEstimationFailed = &Error{Code: CodeGasEstimationFailed, Message: "gas estimation failed"}
	ErrInsufficientFunds   = &Error{Code: CodeInsufficientFunds, Message: "insufficient native balance"}
	ErrNonceGap            = &Error{Code: CodeNonceGap, Message: "nonce gap ahead of pending transaction"}
	ErrAlreadyConfirmed    = &Error{Code: CodeAlreadyConfirmed, Message: "transaction already confirmed"}
	ErrGasPriceTooLow      = &Error{Code: CodeGasPriceTooLow, Message: "replacement fee below mempool threshold"}
	ErrBroadcastFailed     = &Error{Code: CodeBroadcastFailed, Message: "broadcast rejected"}
	ErrUserRejected        = &Error{Code: CodeUserRejected, Message: "rejected by user"}

	ErrNetworkError = &Error{Code: CodeNetworkError, Message: "network failure"}
	ErrTimeout      = &Error{Code: CodeTimeout, Message: "operation timed out"}

	ErrAccountNotFound = &Error{Code: CodeAccountNotFound, Message: "account not found"}
	ErrNonceMismatch   = &Error{Code: CodeNonceMismatch, Message: "replacement nonce mismatch"}
	ErrUnsupported     = &Error{Code: CodeUnsupported, Message: "operation not supported"}
)

// IncorrectPassword builds an incorrect-password error reporting how many
// attempts remain before lockout.
func IncorrectPassword(attemptsRemaining int) *Error {
	return &Error{
		Code:              CodeIncorrectPassword,
		Message:           fmt.Sprintf("incorrect password, %d attempts remaining", attemptsRemaining),
		AttemptsRemaining: attemptsRemaining,
	}
}

// TooManyAttempts builds a rate-limit error with the backoff the caller must
// observe before retrying.
func TooManyAttempts(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeTooManyAttempts,
		Message:    fmt.Sprintf("too many attempts, retry in %s", retryAfter),
		RetryAfter: retryAfter,
	}
}

// AccountLocked builds a lockout error with the remaining lockout duration.
func AccountLocked(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeAccountLocked,
		Message:    fmt.Sprintf("account locked, retry in %s", retryAfter),
		RetryAfter: retryAfter,
	}
}

// GasEstimationFailed wraps the node's verbatim estimation error.
func GasEstimationFailed(reason string) *Error {
	return &Error{
		Code:    CodeGasEstimationFailed,
		Message: "gas estimation failed: " + reason,
		Reason:  reason,
	}
}

// InsufficientFunds reports the wei amounts involved. The big.Int arguments
// are copied so later mutation by the caller cannot change the error.
func InsufficientFunds(required, available *big.Int) *Error {
	return &Error{
		Code:      CodeInsufficientFunds,
		Message:   fmt.Sprintf("insufficient funds: need %s wei, have %s wei", required, available),
		Required:  new(big.Int).Set(required),
		Available: new(big.Int).Set(available),
	}
}

// BroadcastFailed wraps the node's verbatim rejection message.
func BroadcastFailed(reason string) *Error {
	return &Error{
		Code:    CodeBroadcastFailed,
		Message: "broadcast rejected: " + reason,
		Reason:  reason,
	}
}

// NetworkError wraps a transport-level failure, keeping the cause available
// through errors.Unwrap.
func NetworkError(err error) *Error {
	return &Error{
		Code:    CodeNetworkError,
		Message: "network failure: " + err.Error(),
		Reason:  err.Error(),
		wrapped: err,
	}
}

// Wrap attaches a cause to a sentinel kind without changing its Code.
func Wrap(kind *Error, err error) *Error {
	return &Error{
		Code:    kind.Code,
		Message: kind.Message + ": " + err.Error(),
		wrapped: err,
	}
}

// AttemptsRemaining extracts the attempts-remaining payload, or -1 when err
// is not an incorrect-password error.
func AttemptsRemaining(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Code == CodeIncorrectPassword {
		return e.AttemptsRemaining
	}
	return -1
}

// RetryAfter extracts the retry-after payload, or zero when err carries none.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// CodeOf returns the Code of err, or the empty Code for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
