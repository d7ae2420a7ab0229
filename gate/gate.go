// Package gate implements the server-side payment gate: a terminal state
// machine that maps inbound authorization headers and a price to exactly one
// of {402, 400, 403, pass-through}. It is framework-agnostic; the middleware
// packages translate its Result into concrete framework responses.
package gate

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openx402/x402-go/core"
	"github.com/openx402/x402-go/replay"
	"github.com/openx402/x402-go/types"
)

// Verifier re-verifies a submitted authorization against ledger state. The
// settlement processors satisfy this.
type Verifier interface {
	VerifyPayment(ctx context.Context, authorization *types.PaymentAuthorization, expectedAmount, expectedRecipient, expectedMint string) (bool, error)
}

// Config is the gate configuration, passed explicitly at construction.
type Config struct {
	PaymentAddress string          // recipient wallet address (required)
	AssetAddress   string          // token mint address (required)
	AssetType      types.AssetType // defaults to SPL
	Network        types.Network   // defaults to solana-devnet
	RequestTTL     time.Duration   // validity window of issued quotes; defaults to 300s
	ReplayTTL      time.Duration   // consumed-marker retention; defaults to 30 days
	AutoVerify     bool            // re-verify authorizations on-chain
	Verifier       Verifier        // required when AutoVerify is set
	Guard          replay.Guard    // required
	Logger         *zap.Logger
}

// Gate is the server-side verification gate.
type Gate struct {
	cfg Config
	log *zap.Logger
}

// New creates a gate, validating the configuration up front so requests never
// hit a half-configured gate.
func New(c Config) (*Gate, error) {
	if c.PaymentAddress == "" {
		return nil, types.NewConfigurationError("payment address is required")
	}
	if c.AssetAddress == "" {
		return nil, types.NewConfigurationError("asset address is required")
	}
	if c.Guard == nil {
		return nil, types.NewConfigurationError("replay guard is required")
	}
	if c.AutoVerify && c.Verifier == nil {
		return nil, types.NewConfigurationError("auto-verify requires a verifier")
	}
	if c.AssetType == "" {
		c.AssetType = types.AssetTypeSPL
	}
	if c.Network == "" {
		c.Network = types.NetworkSolanaDevnet
	}
	if c.RequestTTL <= 0 {
		c.RequestTTL = types.DefaultRequestTTL
	}
	if c.ReplayTTL <= 0 {
		c.ReplayTTL = replay.DefaultTTL
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Gate{cfg: c, log: c.Logger}, nil
}

// Price is the per-endpoint payment requirement.
type Price struct {
	Amount      string
	Description string
}

// Result is the terminal decision for one inbound request.
type Result struct {
	Status         int
	Code           types.RejectionCode
	Message        string
	Required       string
	Provided       string
	PaymentRequest *types.PaymentRequest       // set on 402
	Authorization  *types.PaymentAuthorization // set on pass-through
}

// Allowed reports whether the wrapped handler may run.
func (r Result) Allowed() bool {
	return r.Status == http.StatusOK
}

// Body returns the JSON-serializable response body for a non-allowed result.
func (r Result) Body() any {
	if r.Status == http.StatusPaymentRequired {
		return r.PaymentRequest
	}
	return ErrorBody{
		Code:     r.Code,
		Message:  r.Message,
		Required: r.Required,
		Provided: r.Provided,
	}
}

// ErrorBody is the machine-readable rejection payload.
type ErrorBody struct {
	Code     types.RejectionCode `json:"code"`
	Message  string              `json:"message"`
	Required string              `json:"required,omitempty"`
	Provided string              `json:"provided,omitempty"`
}

// Validate runs the gate state machine for one request. headerValue is the
// raw X-Payment-Authorization header ("" when absent), resource the protected
// path. Every call resolves to exactly one terminal result.
func (g *Gate) Validate(ctx context.Context, headerValue, resource string, price Price) Result {

	// The price is operator input. A malformed price is a server fault and
	// must never be pinned on the client.
	if _, err := core.ParseAmount(price.Amount); err != nil {
		g.log.Error("invalid price configuration",
			zap.String("amount", price.Amount),
			zap.String("resource", resource),
			zap.Error(err),
		)
		return Result{
			Status:  http.StatusInternalServerError,
			Message: "payment gate misconfigured",
		}
	}

	// No authorization: issue a fresh quote and stop.
	if headerValue == "" {
		pr := types.NewPaymentRequest(types.NewPaymentRequestParams{
			Amount:         price.Amount,
			AssetType:      g.cfg.AssetType,
			AssetAddress:   g.cfg.AssetAddress,
			PaymentAddress: g.cfg.PaymentAddress,
			Network:        g.cfg.Network,
			Resource:       resource,
			Description:    price.Description,
			TTL:            g.cfg.RequestTTL,
		})
		return Result{
			Status:         http.StatusPaymentRequired,
			Message:        "payment is required to access this resource",
			PaymentRequest: pr,
		}
	}

	authorization, err := types.PaymentAuthorizationFromHeader(headerValue)
	if err != nil {
		return Result{
			Status:  http.StatusBadRequest,
			Code:    types.RejectionCodeInvalidAuthorization,
			Message: err.Error(),
		}
	}

	// The paid amount must cover the price.
	cmp, err := core.CompareAmounts(authorization.ActualAmount, price.Amount)
	if err != nil {
		return Result{
			Status:  http.StatusBadRequest,
			Code:    types.RejectionCodeInvalidAuthorization,
			Message: err.Error(),
		}
	}
	if cmp < 0 {
		return Result{
			Status:   http.StatusForbidden,
			Code:     types.RejectionCodeInsufficientPayment,
			Message:  "insufficient payment",
			Required: price.Amount,
			Provided: authorization.ActualAmount,
		}
	}

	if authorization.PaymentAddress != g.cfg.PaymentAddress {
		return Result{
			Status:   http.StatusForbidden,
			Code:     types.RejectionCodeAddressMismatch,
			Message:  "payment address mismatch",
			Required: g.cfg.PaymentAddress,
			Provided: authorization.PaymentAddress,
		}
	}

	if authorization.AssetAddress != g.cfg.AssetAddress {
		return Result{
			Status:   http.StatusForbidden,
			Code:     types.RejectionCodeMintMismatch,
			Message:  "token mint mismatch",
			Required: g.cfg.AssetAddress,
			Provided: authorization.AssetAddress,
		}
	}

	// Independent on-chain re-verification.
	if g.cfg.AutoVerify && authorization.TransactionHash != "" {
		verified, err := g.cfg.Verifier.VerifyPayment(
			ctx,
			authorization,
			authorization.ActualAmount,
			g.cfg.PaymentAddress,
			g.cfg.AssetAddress,
		)
		if err != nil {
			g.log.Error("payment verification errored",
				zap.String("payment_id", authorization.PaymentID),
				zap.Error(err),
			)
		}
		if err != nil || !verified {
			return Result{
				Status:  http.StatusForbidden,
				Code:    types.RejectionCodeVerificationFailed,
				Message: "payment verification failed",
			}
		}
	}

	// Replay check last, so an authorization is only consumed once every
	// other check has passed.
	fresh, err := g.cfg.Guard.CheckAndSet(ctx, authorization.ReplayKey(), g.cfg.ReplayTTL)
	if err != nil {
		// Fail closed: an unavailable guard must not let a replay through.
		g.log.Error("replay guard unavailable",
			zap.String("payment_id", authorization.PaymentID),
			zap.Error(err),
		)
		return Result{
			Status:  http.StatusForbidden,
			Code:    types.RejectionCodeReplayDetected,
			Message: "replay check unavailable",
		}
	}
	if !fresh {
		return Result{
			Status:  http.StatusForbidden,
			Code:    types.RejectionCodeReplayDetected,
			Message: "payment authorization already used",
		}
	}

	g.log.Info("payment accepted",
		zap.String("payment_id", authorization.PaymentID),
		zap.String("amount", authorization.ActualAmount),
		zap.String("resource", resource),
	)

	return Result{
		Status:        http.StatusOK,
		Authorization: authorization,
	}
}
