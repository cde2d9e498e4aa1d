package tracker

import (
	"math/rand"
	"time"
)

// retryDelay computes the backoff before retry attempt n (1-based):
// base·2^(n-1) capped at maxDelay, plus jitter in [0, jitterFrac·delay].
func retryDelay(base, maxDelay time.Duration, jitterFrac float64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if jitterFrac > 0 {
		jitter := time.Duration(rand.Float64() * jitterFrac * float64(delay))
		delay += jitter
	}

	return delay
}
