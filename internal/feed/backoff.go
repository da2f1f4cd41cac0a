package feed

import (
	"math/rand"
	"time"
)

// backoffDelay computes the wait after `failures` consecutive failed
// connection cycles: base*2^failures capped at max, plus uniform jitter in
// [0, maxJitter]. The jitter keeps a fleet of handles from reconnecting
// in lockstep after a shared endpoint outage.
func backoffDelay(failures int, base, max, maxJitter time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = time.Millisecond
	}

	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	if maxJitter > 0 && rng != nil {
		delay += time.Duration(rng.Int63n(int64(maxJitter) + 1))
	}
	return delay
}
