package transfer

import (
	"math/rand"
	"time"

	"github.com/stepyndriyy/yadisk-to-youtube/internal/model"
)

// Backoff is the retry policy shared by the fetch and publish phases.
// Delays grow exponentially from Initial up to Cap, with a ±Jitter fraction
// to avoid retry storms. Quota-classed failures wait at least QuotaMin.
type Backoff struct {
	// MaxAttempts is the total attempt budget per phase, first try included.
	MaxAttempts int
	Initial     time.Duration
	Cap         time.Duration
	QuotaMin    time.Duration
	// Jitter is the random spread as a fraction of the delay, e.g. 0.2
	// for ±20%. Zero disables jitter.
	Jitter float64

	// rnd is swapped in tests. Nil means math/rand.
	rnd func() float64
}

// DefaultBackoff mirrors the tuning the transfer has always shipped with:
// three attempts, 5s initial delay doubling to a 60s ceiling, ±20% jitter,
// and a 60s floor for quota errors.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		Initial:     5 * time.Second,
		Cap:         60 * time.Second,
		QuotaMin:    60 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the wait before the next try, given that `attempt` attempts
// (1-based) have already failed with an error of the given class.
func (b Backoff) Delay(attempt int, class model.ErrorClass) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}

	if b.Jitter > 0 {
		rnd := b.rnd
		if rnd == nil {
			rnd = rand.Float64
		}
		spread := 2*rnd() - 1 // [-1, 1)
		d += time.Duration(float64(d) * b.Jitter * spread)
	}

	if class == model.ClassQuota && d < b.QuotaMin {
		d = b.QuotaMin
	}
	return d
}
