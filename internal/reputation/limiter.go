package reputation

import (
	"sync"
	"time"
)

// waiter is a blocking sliding-window rate limiter: instead of rejecting a
// request once the window is full, Wait sleeps until the oldest request
// in the trailing window ages out, per spec.md §4.5. Its bookkeeping is
// adapted from internal/ratelimit.Limiter's prune-then-check-then-append
// shape, but Allow-and-reject becomes Wait-and-block.
type waiter struct {
	mu         sync.Mutex
	hits       []time.Time
	maxPerMin  int
	nowFn      func() time.Time
	sleepFn    func(time.Duration)
}

func newWaiter(maxPerMin int) *waiter {
	if maxPerMin <= 0 {
		maxPerMin = 4
	}
	return &waiter{
		maxPerMin: maxPerMin,
		nowFn:     time.Now,
		sleepFn:   time.Sleep,
	}
}

// Wait blocks, if necessary, until issuing one more request would not
// exceed maxPerMin requests in the trailing 60s window, then records the
// request.
func (w *waiter) Wait() {
	for {
		w.mu.Lock()
		now := w.nowFn()
		cutoff := now.Add(-time.Minute)

		pruned := w.hits[:0]
		for _, t := range w.hits {
			if t.After(cutoff) {
				pruned = append(pruned, t)
			}
		}
		w.hits = pruned

		if len(w.hits) < w.maxPerMin {
			w.hits = append(w.hits, now)
			w.mu.Unlock()
			return
		}

		oldest := w.hits[0]
		sleepFor := oldest.Add(time.Minute).Sub(now) + 100*time.Millisecond
		w.mu.Unlock()

		if sleepFor > 0 {
			w.sleepFn(sleepFor)
		}
	}
}
