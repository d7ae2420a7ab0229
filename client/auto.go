package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/gagliardetto/solana-go"

	"github.com/openx402/x402-go/core"
	"github.com/openx402/x402-go/types"
)

// AutoPayOptions configures an AutoPayClient.
type AutoPayOptions struct {
	// MaxPaymentAmount is the per-request spend ceiling in token units. A
	// quote above the ceiling is never paid; the PAYMENT_REQUIRED error
	// propagates to the caller unchanged. Empty means no ceiling.
	MaxPaymentAmount string

	// AutoRetry enables paying and retrying on 402. When false the client
	// behaves like the explicit client.
	AutoRetry bool

	// MaxRetries bounds how many payment-and-retry rounds a single request
	// may perform. Defaults to 1.
	MaxRetries int
}

// AutoPayClient wraps a PaymentClient and transparently settles 402 responses
// within the configured spend ceiling. Retries are strictly sequential: one
// payment, one retry, re-evaluate.
type AutoPayClient struct {
	client     *PaymentClient
	maxAmount  string
	autoRetry  bool
	maxRetries int
}

// NewAutoPayClient creates an auto-pay client for the wallet. Pass clientOpts
// to configure the underlying explicit client, or nil for defaults.
func NewAutoPayClient(wallet solana.PrivateKey, opts AutoPayOptions, clientOpts *Options) (*AutoPayClient, error) {
	if opts.MaxPaymentAmount != "" {
		if _, err := core.ParseAmount(opts.MaxPaymentAmount); err != nil {
			return nil, types.NewConfigurationError("invalid max payment amount: " + err.Error())
		}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &AutoPayClient{
		client:     NewPaymentClient(wallet, clientOpts),
		maxAmount:  opts.MaxPaymentAmount,
		autoRetry:  opts.AutoRetry,
		maxRetries: maxRetries,
	}, nil
}

// Close releases the underlying client.
func (c *AutoPayClient) Close() error {
	return c.client.Close()
}

// Client exposes the underlying explicit client for callers that want to mix
// automatic and manual payment flows.
func (c *AutoPayClient) Client() *PaymentClient {
	return c.client
}

// Fetch executes the request, automatically paying and retrying on 402 until
// the resource is served or retries are exhausted. Non-402 outcomes pass
// through untouched.
func (c *AutoPayClient) Fetch(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	resp, err := c.client.Request(ctx, method, url, body, nil)
	if err == nil {
		return resp, nil
	}

	payErr := asPaymentRequired(err)
	if payErr == nil || !c.autoRetry {
		return nil, err
	}

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		request := payErr.PaymentRequest
		if request == nil {
			return nil, payErr
		}

		// The ceiling is checked against each quote before any funds move,
		// so a too-expensive resource never triggers a settlement.
		if exceeded, ceilErr := c.exceedsCeiling(request.MaxAmountRequired); ceilErr != nil {
			return nil, ceilErr
		} else if exceeded {
			return nil, payErr
		}

		payment, err := c.client.CreatePayment(ctx, request, "")
		if err != nil {
			return nil, err
		}

		resp, err = c.client.Request(ctx, method, url, body, payment)
		if err == nil {
			return resp, nil
		}

		// The server may answer 402 again with a fresh quote, for example
		// when the previous one expired in flight. Re-evaluate it on the
		// next round.
		payErr = asPaymentRequired(err)
		if payErr == nil {
			return nil, err
		}
	}

	return nil, payErr
}

// Get fetches a resource with automatic payment.
func (c *AutoPayClient) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.Fetch(ctx, http.MethodGet, url, nil)
}

// Post fetches a resource with a JSON body and automatic payment.
func (c *AutoPayClient) Post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	return c.Fetch(ctx, http.MethodPost, url, body)
}

func (c *AutoPayClient) exceedsCeiling(quoted string) (bool, error) {
	if c.maxAmount == "" {
		return false, nil
	}
	cmp, err := core.CompareAmounts(quoted, c.maxAmount)
	if err != nil {
		return false, types.NewInvalidPaymentRequestError("invalid quoted amount: " + err.Error())
	}
	return cmp > 0, nil
}

func asPaymentRequired(err error) *types.Error {
	var typed *types.Error
	if errors.As(err, &typed) && typed.Kind == types.ErrorKindPaymentRequired {
		return typed
	}
	return nil
}
