package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewPaymentRequest(t *testing.T) {

	pr := NewPaymentRequest(NewPaymentRequestParams{
		Amount:         "1.50",
		AssetType:      AssetTypeSPL,
		AssetAddress:   "mint-address",
		PaymentAddress: "wallet-address",
		Network:        NetworkSolanaDevnet,
		Resource:       "/premium",
		Description:    "Premium content",
	})

	t.Run("generates unique identifiers", func(t *testing.T) {
		other := NewPaymentRequest(NewPaymentRequestParams{
			Amount:         "1.50",
			AssetType:      AssetTypeSPL,
			AssetAddress:   "mint-address",
			PaymentAddress: "wallet-address",
			Network:        NetworkSolanaDevnet,
			Resource:       "/premium",
		})
		if pr.PaymentID == other.PaymentID {
			t.Errorf("expected distinct payment IDs, both were %s", pr.PaymentID)
		}
		if pr.Nonce == other.Nonce {
			t.Errorf("expected distinct nonces, both were %s", pr.Nonce)
		}
	})

	t.Run("default TTL is five minutes", func(t *testing.T) {
		remaining := time.Until(pr.ExpiresAt)
		if remaining < 4*time.Minute || remaining > 5*time.Minute {
			t.Errorf("expected expiry ~300s out, got %s", remaining)
		}
	})

	t.Run("custom TTL is honored", func(t *testing.T) {
		short := NewPaymentRequest(NewPaymentRequestParams{
			Amount:         "1.50",
			AssetType:      AssetTypeSPL,
			AssetAddress:   "mint-address",
			PaymentAddress: "wallet-address",
			Network:        NetworkSolanaDevnet,
			TTL:            10 * time.Second,
		})
		remaining := time.Until(short.ExpiresAt)
		if remaining > 10*time.Second || remaining < 5*time.Second {
			t.Errorf("expected expiry ~10s out, got %s", remaining)
		}
	})

	t.Run("not expired while inside window", func(t *testing.T) {
		if pr.IsExpired() {
			t.Error("fresh request reported as expired")
		}
	})

	t.Run("expired after window passes", func(t *testing.T) {
		past := *pr
		past.ExpiresAt = time.Now().UTC().Add(-time.Second)
		if !past.IsExpired() {
			t.Error("past-expiry request reported as live")
		}
	})
}

func TestPaymentRequestJSON(t *testing.T) {

	pr := NewPaymentRequest(NewPaymentRequestParams{
		Amount:         "0.25",
		AssetType:      AssetTypeSPL,
		AssetAddress:   "mint-address",
		PaymentAddress: "wallet-address",
		Network:        NetworkSolanaMainnet,
		Resource:       "/api/data",
	})

	t.Run("round trip preserves fields", func(t *testing.T) {
		jsonStr, err := pr.ToJSON()
		if err != nil {
			t.Fatalf("failed to encode: %v", err)
		}
		decoded, err := PaymentRequestFromJSON(jsonStr)
		if err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if decoded.PaymentID != pr.PaymentID {
			t.Errorf("payment ID changed: %s != %s", decoded.PaymentID, pr.PaymentID)
		}
		if decoded.MaxAmountRequired != pr.MaxAmountRequired {
			t.Errorf("amount changed: %s != %s", decoded.MaxAmountRequired, pr.MaxAmountRequired)
		}
		if !decoded.ExpiresAt.Equal(pr.ExpiresAt) {
			t.Errorf("expiry changed: %s != %s", decoded.ExpiresAt, pr.ExpiresAt)
		}
	})

	t.Run("wire field names are snake case", func(t *testing.T) {
		jsonStr, err := pr.ToJSON()
		if err != nil {
			t.Fatalf("failed to encode: %v", err)
		}
		for _, field := range []string{
			"max_amount_required", "asset_type", "asset_address",
			"payment_address", "network", "expires_at", "nonce",
			"payment_id", "resource",
		} {
			if !strings.Contains(jsonStr, `"`+field+`"`) {
				t.Errorf("expected field %q in wire payload: %s", field, jsonStr)
			}
		}
	})

	t.Run("empty description is omitted", func(t *testing.T) {
		jsonStr, err := pr.ToJSON()
		if err != nil {
			t.Fatalf("failed to encode: %v", err)
		}
		if strings.Contains(jsonStr, "description") {
			t.Errorf("expected description to be omitted: %s", jsonStr)
		}
	})

	t.Run("invalid JSON is rejected", func(t *testing.T) {
		_, err := PaymentRequestFromJSON("{invalid")
		var typed *Error
		if !errors.As(err, &typed) || typed.Kind != ErrorKindInvalidPaymentRequest {
			t.Errorf("expected INVALID_PAYMENT_REQUEST error, got %v", err)
		}
	})
}

func TestPaymentAuthorizationHeader(t *testing.T) {

	auth := &PaymentAuthorization{
		PaymentID:       "pay-123",
		ActualAmount:    "1.50",
		PaymentAddress:  "wallet-address",
		AssetAddress:    "mint-address",
		Network:         NetworkSolanaDevnet,
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		Signature:       "sig-abc",
		PublicKey:       "payer-pubkey",
		TransactionHash: "sig-abc",
	}

	t.Run("header round trip", func(t *testing.T) {
		headerValue, err := auth.ToHeaderValue()
		if err != nil {
			t.Fatalf("failed to encode header: %v", err)
		}
		decoded, err := PaymentAuthorizationFromHeader(headerValue)
		if err != nil {
			t.Fatalf("failed to decode header: %v", err)
		}
		if decoded.PaymentID != auth.PaymentID {
			t.Errorf("payment ID changed: %s != %s", decoded.PaymentID, auth.PaymentID)
		}
		if decoded.Signature != auth.Signature {
			t.Errorf("signature changed: %s != %s", decoded.Signature, auth.Signature)
		}
		if !decoded.Timestamp.Equal(auth.Timestamp) {
			t.Errorf("timestamp changed: %s != %s", decoded.Timestamp, auth.Timestamp)
		}
	})

	t.Run("invalid base64 is rejected", func(t *testing.T) {
		_, err := PaymentAuthorizationFromHeader("!!not-base64!!")
		var typed *Error
		if !errors.As(err, &typed) || typed.Kind != ErrorKindInvalidPaymentAuthorization {
			t.Errorf("expected INVALID_PAYMENT_AUTHORIZATION error, got %v", err)
		}
	})

	t.Run("valid base64 with invalid JSON is rejected", func(t *testing.T) {
		_, err := PaymentAuthorizationFromHeader("bm90LWpzb24=")
		var typed *Error
		if !errors.As(err, &typed) || typed.Kind != ErrorKindInvalidPaymentAuthorization {
			t.Errorf("expected INVALID_PAYMENT_AUTHORIZATION error, got %v", err)
		}
	})

	t.Run("replay key binds payment ID to signature", func(t *testing.T) {
		if auth.ReplayKey() != "pay-123:sig-abc" {
			t.Errorf("unexpected replay key %s", auth.ReplayKey())
		}
	})

	t.Run("missing transaction hash is omitted from wire payload", func(t *testing.T) {
		bare := *auth
		bare.TransactionHash = ""
		data, err := json.Marshal(&bare)
		if err != nil {
			t.Fatalf("failed to encode: %v", err)
		}
		if strings.Contains(string(data), "transaction_hash") {
			t.Errorf("expected transaction_hash to be omitted: %s", data)
		}
	})
}

func TestNetworkDefaultRPCURL(t *testing.T) {

	t.Run("every known network has a matching endpoint", func(t *testing.T) {
		for _, tc := range []struct {
			network Network
			url     string
		}{
			{NetworkSolanaMainnet, "https://api.mainnet-beta.solana.com"},
			{NetworkSolanaTestnet, "https://api.testnet.solana.com"},
			{NetworkSolanaDevnet, "https://api.devnet.solana.com"},
			{NetworkSepolia, "https://rpc.sepolia.org"},
			{NetworkBaseSepolia, "https://sepolia.base.org"},
		} {
			if got := tc.network.DefaultRPCURL(); got != tc.url {
				t.Errorf("%s: expected %s, got %s", tc.network, tc.url, got)
			}
		}
	})

	t.Run("EVM networks never default to a Solana endpoint", func(t *testing.T) {
		for _, n := range []Network{NetworkSepolia, NetworkBaseSepolia} {
			if url := n.DefaultRPCURL(); strings.Contains(url, "solana") {
				t.Errorf("%s resolved to Solana endpoint %s", n, url)
			}
		}
	})

	t.Run("unknown network has no default", func(t *testing.T) {
		if url := Network("unknown-net").DefaultRPCURL(); url != "" {
			t.Errorf("expected empty URL for unknown network, got %s", url)
		}
	})
}

func TestErrors(t *testing.T) {

	t.Run("message carries the kind", func(t *testing.T) {
		err := NewPaymentVerificationError("no matching transfer")
		if !strings.HasPrefix(err.Error(), "[PAYMENT_VERIFICATION_FAILED]") {
			t.Errorf("unexpected error message: %s", err.Error())
		}
	})

	t.Run("insufficient funds carries amounts", func(t *testing.T) {
		err := NewInsufficientFundsError("2.00", "0.50")
		if err.RequiredAmount != "2.00" || err.AvailableAmount != "0.50" {
			t.Errorf("amounts not preserved: %+v", err)
		}
		if err.Retryable() {
			t.Error("insufficient funds must not be retryable")
		}
	})

	t.Run("payment required carries the quote", func(t *testing.T) {
		pr := &PaymentRequest{PaymentID: "pay-1"}
		err := NewPaymentRequiredError(pr, "")
		if err.PaymentRequest == nil || err.PaymentRequest.PaymentID != "pay-1" {
			t.Errorf("quote not attached: %+v", err)
		}
		if !err.Retryable() {
			t.Error("payment required should be retryable")
		}
	})

	t.Run("unwrap exposes the cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewNetworkError("rpc call failed", cause)
		if !errors.Is(err, cause) {
			t.Error("cause not reachable via errors.Is")
		}
	})

	t.Run("errors.As matches through wrapping", func(t *testing.T) {
		var typed *Error
		wrapped := NewTransactionBroadcastError("send failed", errors.New("timeout"))
		if !errors.As(error(wrapped), &typed) {
			t.Fatal("errors.As failed to match")
		}
		if typed.Kind != ErrorKindTransactionBroadcastFailed {
			t.Errorf("unexpected kind %s", typed.Kind)
		}
	})
}
