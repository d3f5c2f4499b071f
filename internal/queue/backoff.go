package queue

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the exponential-with-jitter retry delay used to set
// AbandonOpts.DueAt after a transient handler failure, generalized from
// outbox_worker.go's computeNextRetry: base*2^attempt seconds, clamped to
// [baseSec, capSec], with +/-10% jitter.
type Backoff struct {
	BaseSeconds int
	CapSeconds  int
}

func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(b.BaseSeconds)
	if base <= 0 {
		base = 5
	}
	capSec := float64(b.CapSeconds)
	if capSec <= 0 {
		capSec = 1800
	}

	sec := base * math.Pow(2, float64(attempt))
	if sec < base {
		sec = base
	}
	if sec > capSec {
		sec = capSec
	}

	d := time.Duration(sec) * time.Second
	jitter := time.Duration(rand.Int63n(int64(d/5))) - d/10
	return d + jitter
}
