// Package replay provides the replay guard: a keyed consumed-marker store
// with atomic check-and-set semantics so a payment authorization can be
// consumed by the gate at most once, even under concurrent requests.
package replay

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a consumed marker is retained. It must be at
// least the maximum validity window of any issued PaymentRequest so a marker
// never expires while the authorization it guards could still be replayed.
const DefaultTTL = 30 * 24 * time.Hour

// Guard is the replay-guard collaborator consumed by the gate.
type Guard interface {
	// CheckAndSet atomically marks key as consumed. It returns true when the
	// key was newly consumed and false when it had already been seen. Two
	// concurrent calls with the same key succeed exactly once.
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
