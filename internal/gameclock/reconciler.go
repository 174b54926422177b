package gameclock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Tick interval is sub-second so the UI countdown flips on the right
// wall-clock boundary rather than up to a second late.
const tickInterval = 100 * time.Millisecond

// Reconciler converts absolute server deadlines into locally ticking
// countdowns. Anchoring every countdown to the deadline timestamp (instead of
// a seconds-remaining value received once) keeps two clients that received
// the same deadline at different times converging on the same remaining time.
// It is the single source of "now" for the client.
type Reconciler struct {
	clock clockwork.Clock
}

func NewReconciler(clock clockwork.Clock) *Reconciler {
	return &Reconciler{clock: clock}
}

// Now returns the reconciler's current time.
func (r *Reconciler) Now() time.Time {
	return r.clock.Now()
}

// Remaining reports whole seconds until deadline, rounded up, never negative.
func (r *Reconciler) Remaining(deadline time.Time) int {
	d := deadline.Sub(r.clock.Now())
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Progress reports the elapsed fraction of a countdown with a known total
// duration, clamped to [0, 1].
func (r *Reconciler) Progress(deadline time.Time, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	remaining := deadline.Sub(r.clock.Now())
	if remaining <= 0 {
		return 1
	}
	if remaining >= total {
		return 0
	}
	return 1 - float64(remaining)/float64(total)
}

// Countdown is a single cancellable countdown toward one deadline.
type Countdown struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Start begins ticking toward deadline. onTick receives the whole seconds
// remaining: once immediately, then every time the value changes, and a final
// time with 0, after which the countdown stops itself. onTick runs on the
// countdown goroutine; callers that need single-threaded delivery repost into
// their own loop.
func (r *Reconciler) Start(deadline time.Time, onTick func(remaining int)) *Countdown {
	c := &Countdown{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(c.done)

		ticker := r.clock.NewTicker(tickInterval)
		defer ticker.Stop()

		last := -1
		emit := func() (expired bool) {
			remaining := r.Remaining(deadline)
			if remaining != last {
				last = remaining
				onTick(remaining)
			}
			return remaining == 0
		}

		if emit() {
			return
		}
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.Chan():
				if emit() {
					return
				}
			}
		}
	}()

	return c
}

// Stop cancels the countdown. Safe to call more than once and after the
// countdown has expired on its own. Stop does not wait for an in-flight tick;
// callers that replace countdowns guard against a stale tick with a
// generation check.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed when the countdown goroutine has exited, either by expiry or
// by Stop.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
