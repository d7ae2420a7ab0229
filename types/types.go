// Package types defines the wire-level data model for the x402 payment
// protocol: the server-issued PaymentRequest, the client-issued
// PaymentAuthorization, and the closed error taxonomy shared by every
// component in this module.
package types

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTTL is the validity window of a freshly issued PaymentRequest.
const DefaultRequestTTL = 300 * time.Second

// PaymentRequest is the price quote a server returns with status 402. It is
// immutable after construction and short-lived: once expired it can never be
// settled against.
type PaymentRequest struct {
	MaxAmountRequired string    `json:"max_amount_required"`
	AssetType         AssetType `json:"asset_type"`
	AssetAddress      string    `json:"asset_address"`
	PaymentAddress    string    `json:"payment_address"`
	Network           Network   `json:"network"`
	ExpiresAt         time.Time `json:"expires_at"`
	Nonce             string    `json:"nonce"`
	PaymentID         string    `json:"payment_id"`
	Resource          string    `json:"resource"`
	Description       string    `json:"description,omitempty"`
}

// NewPaymentRequestParams are the parameters for constructing a PaymentRequest.
type NewPaymentRequestParams struct {
	Amount         string
	AssetType      AssetType
	AssetAddress   string
	PaymentAddress string
	Network        Network
	Resource       string
	Description    string
	TTL            time.Duration
}

// NewPaymentRequest constructs a PaymentRequest with a fresh payment ID and
// nonce. A zero TTL falls back to DefaultRequestTTL.
func NewPaymentRequest(p NewPaymentRequestParams) *PaymentRequest {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	return &PaymentRequest{
		MaxAmountRequired: p.Amount,
		AssetType:         p.AssetType,
		AssetAddress:      p.AssetAddress,
		PaymentAddress:    p.PaymentAddress,
		Network:           p.Network,
		ExpiresAt:         time.Now().UTC().Add(ttl),
		Nonce:             newNonce(),
		PaymentID:         uuid.NewString(),
		Resource:          p.Resource,
		Description:       p.Description,
	}
}

// IsExpired reports whether the payment request has expired.
func (pr *PaymentRequest) IsExpired() bool {
	return time.Now().UTC().After(pr.ExpiresAt)
}

// ToJSON encodes the payment request as a JSON string.
func (pr *PaymentRequest) ToJSON() (string, error) {
	data, err := json.Marshal(pr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PaymentRequestFromJSON parses a PaymentRequest from a JSON string.
func PaymentRequestFromJSON(jsonStr string) (*PaymentRequest, error) {
	var pr PaymentRequest
	if err := json.Unmarshal([]byte(jsonStr), &pr); err != nil {
		return nil, NewInvalidPaymentRequestError("failed to parse payment request: " + err.Error())
	}
	return &pr, nil
}

// PaymentAuthorization is the proof of payment a client submits on retry in
// the X-Payment-Authorization header. A given (payment_id, signature) pair is
// consumable by a gate at most once.
type PaymentAuthorization struct {
	PaymentID       string    `json:"payment_id"`
	ActualAmount    string    `json:"actual_amount"`
	PaymentAddress  string    `json:"payment_address"`
	AssetAddress    string    `json:"asset_address"`
	Network         Network   `json:"network"`
	Timestamp       time.Time `json:"timestamp"`
	Signature       string    `json:"signature"`
	PublicKey       string    `json:"public_key"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
}

// ToHeaderValue encodes the authorization as base64(JSON) for use in the
// X-Payment-Authorization header.
func (pa *PaymentAuthorization) ToHeaderValue() (string, error) {
	jsonData, err := json.Marshal(pa)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(jsonData), nil
}

// PaymentAuthorizationFromHeader parses a PaymentAuthorization from the
// X-Payment-Authorization header value.
func PaymentAuthorizationFromHeader(headerValue string) (*PaymentAuthorization, error) {
	decoded, err := base64.StdEncoding.DecodeString(headerValue)
	if err != nil {
		return nil, NewInvalidPaymentAuthorizationError("failed to decode base64: " + err.Error())
	}

	var pa PaymentAuthorization
	if err := json.Unmarshal(decoded, &pa); err != nil {
		return nil, NewInvalidPaymentAuthorizationError("failed to parse payment authorization: " + err.Error())
	}

	return &pa, nil
}

// ToJSON encodes the payment authorization as a JSON string.
func (pa *PaymentAuthorization) ToJSON() (string, error) {
	data, err := json.Marshal(pa)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReplayKey is the replay-guard key for this authorization. The payment ID is
// prepended to the settlement signature so a signature can never be replayed
// under a different quote.
func (pa *PaymentAuthorization) ReplayKey() string {
	return pa.PaymentID + ":" + pa.Signature
}

// newNonce generates a random hexadecimal nonce.
func newNonce() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
