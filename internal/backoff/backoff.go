package backoff

import (
	"sync"
	"time"
)

// Budget tracks reconnection attempts against a fixed maximum and spaces
// them with an exponential delay.
type Budget struct {
	mu       sync.Mutex
	max      int
	used     int
	base     time.Duration
	maxDelay time.Duration
}

// New creates a budget allowing max reconnections
func New(max int, base, maxDelay time.Duration) *Budget {
	return &Budget{
		max:      max,
		base:     base,
		maxDelay: maxDelay,
	}
}

// Next consumes one attempt. ok is false once the budget is exhausted;
// otherwise delay is how long to wait before the attempt.
func (b *Budget) Next() (delay time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used >= b.max {
		return 0, false
	}
	b.used++
	return b.delay(b.used), true
}

// Reset returns every consumed attempt to the budget
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
}

// Used returns the number of attempts consumed
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Max returns the configured maximum
func (b *Budget) Max() int {
	return b.max
}

func (b *Budget) delay(attempt int) time.Duration {
	if b.base <= 0 {
		return 0
	}
	d := b.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.maxDelay > 0 && d >= b.maxDelay {
			return b.maxDelay
		}
	}
	if b.maxDelay > 0 && d > b.maxDelay {
		return b.maxDelay
	}
	return d
}
