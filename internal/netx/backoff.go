package netx

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase   = 1 * time.Second
	backoffMax    = 30 * time.Second
	backoffJitter = 0.3
)

// backoffDelay computes the wait before retry attempt+1:
// min(maxDelay, base * 2^attempt * (1 + random(0, 0.3))).
func backoffDelay(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16 // 2^16s is already far past the cap
	}
	d := time.Duration(float64(backoffBase) * float64(int64(1)<<attempt) * (1 + rand.Float64()*backoffJitter))
	if d > backoffMax {
		return backoffMax
	}
	return d
}
