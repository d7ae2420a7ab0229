// Package nethttp adapts the payment gate to standard net/http handlers.
package nethttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openx402/x402-go/gate"
	"github.com/openx402/x402-go/types"
)

// HeaderName is the payment authorization request header.
const HeaderName = "X-Payment-Authorization"

type contextKey string

const paymentAuthKey contextKey = "payment_authorization"

// PaymentRequired wraps a handler behind the gate at the given price.
func PaymentRequired(g *gate.Gate, price gate.Price) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := g.Validate(r.Context(), r.Header.Get(HeaderName), r.URL.Path, price)
			if !result.Allowed() {
				respondJSON(w, result.Status, result.Body())
				return
			}

			ctx := context.WithValue(r.Context(), paymentAuthKey, result.Authorization)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PaymentRequiredFunc is the http.HandlerFunc form of PaymentRequired.
func PaymentRequiredFunc(g *gate.Gate, price gate.Price, handler http.HandlerFunc) http.HandlerFunc {
	return PaymentRequired(g, price)(handler).ServeHTTP
}

// GetPaymentAuthorization retrieves the verified authorization from the
// request context inside a wrapped handler.
func GetPaymentAuthorization(r *http.Request) *types.PaymentAuthorization {
	if auth, ok := r.Context().Value(paymentAuthKey).(*types.PaymentAuthorization); ok {
		return auth
	}
	return nil
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
