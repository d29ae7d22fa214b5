package runtime

import (
	"sync"
	"time"
)

// TokenBucket is the per-connection inbound admission budget: capacity C,
// refill R tokens per second. Exhaustion rejects the command, it is never
// queued.
type TokenBucket struct {
	mu           sync.Mutex
	capacity     float64
	refillPerSec float64
	tokens       float64
	last         time.Time
	now          func() time.Time
}

func NewTokenBucket(capacity int, refillPerSec float64) *TokenBucket {
	return newTokenBucket(capacity, refillPerSec, time.Now)
}

func newTokenBucket(capacity int, refillPerSec float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:     float64(capacity),
		refillPerSec: refillPerSec,
		tokens:       float64(capacity),
		last:         now(),
		now:          now,
	}
}

// TryAdmit consumes one token if available.
func (b *TokenBucket) TryAdmit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	b.tokens += elapsed * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
