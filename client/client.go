// Package client provides the HTTP client side of the x402 protocol: an
// explicit client that surfaces 402 quotes as typed errors, and an auto-pay
// wrapper that settles and retries within a spend ceiling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/openx402/x402-go/core"
	"github.com/openx402/x402-go/types"
)

// HeaderName is the payment authorization request header.
const HeaderName = "X-Payment-Authorization"

// Settler creates payments for 402 quotes. *core.SolanaProcessor satisfies
// this.
type Settler interface {
	CreatePayment(ctx context.Context, request *types.PaymentRequest, payer solana.PrivateKey, amount string) (*types.PaymentAuthorization, error)
	Close() error
}

// Options configures a PaymentClient.
type Options struct {
	RPCURL     string       // ledger RPC endpoint; defaults to the devnet endpoint
	HTTPClient *http.Client // defaults to a 30s-timeout client
	AllowLocal bool         // permit loopback/private hosts (development only)
	Settler    Settler      // defaults to a Solana processor on RPCURL
	Logger     *zap.Logger
}

// PaymentClient gives explicit control over the payment flow: it never pays
// on its own. A 402 response surfaces as a typed PAYMENT_REQUIRED error
// carrying the parsed quote; the caller decides whether to settle.
type PaymentClient struct {
	httpClient *http.Client
	settler    Settler
	allowLocal bool
	log        *zap.Logger

	mu     sync.Mutex // guards wallet and closed against concurrent Close
	wallet *solana.PrivateKey
	closed bool
}

// NewPaymentClient creates an explicit payment client for the wallet.
func NewPaymentClient(wallet solana.PrivateKey, opts *Options) *PaymentClient {
	if opts == nil {
		opts = &Options{}
	}
	rpcURL := opts.RPCURL
	if rpcURL == "" {
		rpcURL = types.NetworkSolanaDevnet.DefaultRPCURL()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	settler := opts.Settler
	if settler == nil {
		settler = core.NewSolanaProcessor(core.SolanaProcessorConfig{
			RPCURL: rpcURL,
			Logger: opts.Logger,
		})
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentClient{
		wallet:     &wallet,
		httpClient: httpClient,
		settler:    settler,
		allowLocal: opts.AllowLocal,
		log:        log,
	}
}

// Close releases the settlement connection and drops the wallet reference.
// Safe to call more than once.
func (c *PaymentClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.wallet = nil
	c.mu.Unlock()
	return c.settler.Close()
}

func (c *PaymentClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// validateURL rejects URLs this client must never fetch. The client may be
// embedded in agents that accept externally supplied URLs, so non-http(s)
// schemes and loopback/private hosts are refused unless AllowLocal is set.
func (c *PaymentClient) validateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return types.NewInvalidPaymentRequestError("invalid URL: " + err.Error())
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return types.NewInvalidPaymentRequestError("invalid URL scheme " + parsed.Scheme + ": only http/https allowed")
	}

	if c.allowLocal {
		return nil
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "localhost" {
		return types.NewInvalidPaymentRequestError("requests to localhost are not allowed; set AllowLocal for development")
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return types.NewInvalidPaymentRequestError("requests to private addresses are not allowed; set AllowLocal for development")
		}
	}

	return nil
}

// Do executes an HTTP request, attaching the authorization header when a
// payment is provided. The raw response is returned untouched, 402 included.
func (c *PaymentClient) Do(ctx context.Context, req *http.Request, payment *types.PaymentAuthorization) (*http.Response, error) {
	if c.isClosed() {
		return nil, types.NewConfigurationError("client has been closed")
	}

	if err := c.validateURL(req.URL.String()); err != nil {
		return nil, err
	}

	if payment != nil {
		headerValue, err := payment.ToHeaderValue()
		if err != nil {
			return nil, types.NewInvalidPaymentAuthorizationError("failed to encode payment authorization: " + err.Error())
		}
		req.Header.Set(HeaderName, headerValue)
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, types.NewNetworkError("request failed", err)
	}
	return resp, nil
}

// Request executes one HTTP call and raises a typed PAYMENT_REQUIRED error
// when the server answers 402, with the parsed quote attached. It never pays.
func (c *PaymentClient) Request(ctx context.Context, method, urlStr string, body []byte, payment *types.PaymentAuthorization) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, urlStr, reader)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("invalid request: " + err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req, payment)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	paymentReq, err := c.ParsePaymentRequest(resp)
	if err != nil {
		return nil, err
	}
	return nil, types.NewPaymentRequiredError(paymentReq, "")
}

// Get executes a GET request.
func (c *PaymentClient) Get(ctx context.Context, url string, payment *types.PaymentAuthorization) (*http.Response, error) {
	return c.Request(ctx, http.MethodGet, url, nil, payment)
}

// Post executes a POST request with a JSON body.
func (c *PaymentClient) Post(ctx context.Context, url string, body []byte, payment *types.PaymentAuthorization) (*http.Response, error) {
	return c.Request(ctx, http.MethodPost, url, body, payment)
}

// Put executes a PUT request with a JSON body.
func (c *PaymentClient) Put(ctx context.Context, url string, body []byte, payment *types.PaymentAuthorization) (*http.Response, error) {
	return c.Request(ctx, http.MethodPut, url, body, payment)
}

// Delete executes a DELETE request.
func (c *PaymentClient) Delete(ctx context.Context, url string, payment *types.PaymentAuthorization) (*http.Response, error) {
	return c.Request(ctx, http.MethodDelete, url, nil, payment)
}

// ParsePaymentRequest parses the quote out of a 402 response body.
func (c *PaymentClient) ParsePaymentRequest(resp *http.Response) (*types.PaymentRequest, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, types.NewInvalidPaymentRequestError("response does not require payment (status != 402)")
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewNetworkError("failed to read response body", err)
	}

	var paymentReq types.PaymentRequest
	if err := json.Unmarshal(body, &paymentReq); err != nil {
		return nil, types.NewInvalidPaymentRequestError("failed to parse payment request: " + err.Error())
	}

	return &paymentReq, nil
}

// CreatePayment settles the quote through the settlement processor and
// returns the authorization for the retry. An empty amount pays the quoted
// max_amount_required.
func (c *PaymentClient) CreatePayment(ctx context.Context, request *types.PaymentRequest, amount string) (*types.PaymentAuthorization, error) {
	c.mu.Lock()
	wallet := c.wallet
	c.mu.Unlock()
	if wallet == nil {
		return nil, types.NewConfigurationError("client has been closed")
	}
	return c.settler.CreatePayment(ctx, request, *wallet, amount)
}
