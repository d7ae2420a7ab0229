// Package ginx402 adapts the payment gate to the Gin framework.
package ginx402

import (
	"github.com/gin-gonic/gin"

	"github.com/openx402/x402-go/gate"
	"github.com/openx402/x402-go/types"
)

// HeaderName is the payment authorization request header.
const HeaderName = "X-Payment-Authorization"

const paymentAuthKey = "payment_authorization"

// PaymentRequired gates the route at the given price.
func PaymentRequired(g *gate.Gate, price gate.Price) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := g.Validate(c.Request.Context(), c.GetHeader(HeaderName), c.Request.URL.Path, price)
		if !result.Allowed() {
			c.AbortWithStatusJSON(result.Status, result.Body())
			return
		}

		c.Set(paymentAuthKey, result.Authorization)
		c.Next()
	}
}

// GetPaymentAuthorization retrieves the verified authorization inside a gated
// handler.
func GetPaymentAuthorization(c *gin.Context) *types.PaymentAuthorization {
	if v, ok := c.Get(paymentAuthKey); ok {
		if auth, ok := v.(*types.PaymentAuthorization); ok {
			return auth
		}
	}
	return nil
}
