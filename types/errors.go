package types

import "fmt"

// ErrorKind is the closed set of protocol error codes. Callers branch on the
// kind with errors.As rather than string matching.
type ErrorKind string

const (
	ErrorKindPaymentRequired             ErrorKind = "PAYMENT_REQUIRED"
	ErrorKindPaymentExpired              ErrorKind = "PAYMENT_EXPIRED"
	ErrorKindInsufficientFunds           ErrorKind = "INSUFFICIENT_FUNDS"
	ErrorKindPaymentVerificationFailed   ErrorKind = "PAYMENT_VERIFICATION_FAILED"
	ErrorKindTransactionBroadcastFailed  ErrorKind = "TRANSACTION_BROADCAST_FAILED"
	ErrorKindInvalidPaymentRequest       ErrorKind = "INVALID_PAYMENT_REQUEST"
	ErrorKindInvalidPaymentAuthorization ErrorKind = "INVALID_PAYMENT_AUTHORIZATION"
	ErrorKindConfiguration               ErrorKind = "CONFIGURATION"
	ErrorKindNetwork                     ErrorKind = "NETWORK"
)

// Error is the single error type for all x402 protocol failures. The Kind
// discriminates; structured fields are populated per kind so callers never
// have to parse the message.
type Error struct {
	Kind    ErrorKind
	Message string

	// PaymentRequest carries the parsed 402 quote for PAYMENT_REQUIRED and
	// the expired quote for PAYMENT_EXPIRED.
	PaymentRequest *PaymentRequest

	// RequiredAmount and AvailableAmount are set for INSUFFICIENT_FUNDS.
	RequiredAmount  string
	AvailableAmount string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the failed operation can succeed without
// operator intervention. Broadcast failures are retryable only after looking
// up the prior signature; blind re-broadcast risks a duplicate payment.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrorKindPaymentRequired, ErrorKindPaymentExpired,
		ErrorKindTransactionBroadcastFailed, ErrorKindNetwork:
		return true
	}
	return false
}

// NewPaymentRequiredError signals that a 402 response was received. This is
// expected control flow, not a defect.
func NewPaymentRequiredError(pr *PaymentRequest, message string) *Error {
	if message == "" {
		message = "payment is required to access this resource"
	}
	return &Error{Kind: ErrorKindPaymentRequired, Message: message, PaymentRequest: pr}
}

// NewPaymentExpiredError signals that a payment request expired before
// settlement was attempted.
func NewPaymentExpiredError(pr *PaymentRequest) *Error {
	return &Error{
		Kind:           ErrorKindPaymentExpired,
		Message:        fmt.Sprintf("payment request %s expired at %s", pr.PaymentID, pr.ExpiresAt),
		PaymentRequest: pr,
	}
}

// NewInsufficientFundsError signals that the payer balance cannot cover the
// requested amount. Terminal: never retried.
func NewInsufficientFundsError(required, available string) *Error {
	return &Error{
		Kind:            ErrorKindInsufficientFunds,
		Message:         fmt.Sprintf("insufficient funds: need %s, have %s", required, available),
		RequiredAmount:  required,
		AvailableAmount: available,
	}
}

// NewPaymentVerificationError signals that on-chain verification failed.
func NewPaymentVerificationError(reason string) *Error {
	return &Error{
		Kind:    ErrorKindPaymentVerificationFailed,
		Message: "payment verification failed: " + reason,
	}
}

// NewTransactionBroadcastError signals that broadcasting or confirming a
// transaction failed.
func NewTransactionBroadcastError(reason string, cause error) *Error {
	return &Error{
		Kind:    ErrorKindTransactionBroadcastFailed,
		Message: "failed to broadcast transaction: " + reason,
		Err:     cause,
	}
}

// NewInvalidPaymentRequestError signals a malformed payment request payload.
func NewInvalidPaymentRequestError(reason string) *Error {
	return &Error{
		Kind:    ErrorKindInvalidPaymentRequest,
		Message: "invalid payment request: " + reason,
	}
}

// NewInvalidPaymentAuthorizationError signals a malformed payment
// authorization payload.
func NewInvalidPaymentAuthorizationError(reason string) *Error {
	return &Error{
		Kind:    ErrorKindInvalidPaymentAuthorization,
		Message: "invalid payment authorization: " + reason,
	}
}

// NewConfigurationError signals a missing or contradictory configuration
// value, detected at construction time.
func NewConfigurationError(reason string) *Error {
	return &Error{Kind: ErrorKindConfiguration, Message: "configuration error: " + reason}
}

// NewNetworkError wraps a transient RPC or HTTP transport fault. Retry policy
// belongs to the caller, never to the component that surfaced it.
func NewNetworkError(reason string, cause error) *Error {
	return &Error{Kind: ErrorKindNetwork, Message: "network error: " + reason, Err: cause}
}
