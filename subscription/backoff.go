package subscription

import (
	rand "math/rand/v2"
	"time"
)

// jitterBackoff implements decorrelated jitter backoff with a cap.
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
//
// Given the previous delay, the next delay is drawn from [base, prev*mult) and
// clamped to capDur. A non-positive prev starts from base; mult below 1 means no
// growth; a cap below base always yields the cap.
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}

	if prev <= 0 {
		return base
	}

	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(span))
	} else {
		jitter = rand.Int64N(int64(span)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// nakDelay returns the redelivery delay for a message that failed on its
// delivered-th delivery. The first failure waits base; later failures grow by
// mult per delivery with jitter, never beyond capDur.
func nakDelay(delivered uint64, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if delivered <= 1 {
		return jitterBackoff(0, base, mult, capDur, rng)
	}

	prev := base
	for i := uint64(2); i < delivered; i++ {
		prev = time.Duration(float64(prev) * mult)
		if capDur > 0 && prev >= capDur {
			prev = capDur
			break
		}
	}

	return jitterBackoff(prev, base, mult, capDur, rng)
}

// newRetryRNG returns a deterministic RNG only when a non-zero seed is provided.
// When seed == 0 it returns nil so callers use the package-level PRNG.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}
