package spanz

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/clockz"
)

// Schedule is a fixed retry schedule: the waits between consecutive
// delivery attempts. A schedule of N waits allows N+1 attempts.
type Schedule []time.Duration

// DefaultSchedule keeps the worst case of one write period, one timeout and
// two retries with their timeouts under the agent's 10s staleness cutoff.
var DefaultSchedule = Schedule{500 * time.Millisecond, 2500 * time.Millisecond}

// BackOff returns a fresh backoff.BackOff walking the schedule once.
func (s Schedule) BackOff() backoff.BackOff {
	return &scheduleBackOff{steps: s}
}

// scheduleBackOff implements backoff.BackOff over a Schedule.
type scheduleBackOff struct {
	steps Schedule
	next  int
}

// NextBackOff returns the next wait, or backoff.Stop once the schedule is
// exhausted.
func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.steps) {
		return backoff.Stop
	}
	d := b.steps[b.next]
	b.next++
	return d
}

// Reset rewinds to the first step.
func (b *scheduleBackOff) Reset() { b.next = 0 }

// clockTimer implements backoff.Timer on a clockz.Clock, so retry waits
// follow the same clock as the write period.
type clockTimer struct {
	clock clockz.Clock
	timer clockz.Timer
}

func newClockTimer(clock clockz.Clock) *clockTimer {
	return &clockTimer{clock: clock}
}

// Start arms the timer, reusing it after the first wait.
func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

// Stop releases the timer. Safe to call before Start.
func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// C returns the channel the current wait fires on.
func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C()
}
