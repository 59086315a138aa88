package deliver

import "time"

// Policy bounds the retry behavior for transient delivery failures.
type Policy struct {
	Initial    time.Duration // delay before the first retry
	Max        time.Duration // cap on the delay between retries
	MaxRetries int           // retries after the initial attempt
}

// DefaultPolicy matches a sink that recovers within a few minutes.
var DefaultPolicy = Policy{
	Initial:    500 * time.Millisecond,
	Max:        30 * time.Second,
	MaxRetries: 5,
}

// backoff is the retry state for one batch: how many attempts were
// made and how long to wait before the next one. Keeping it explicit
// makes the schedule testable without a sink or a clock.
type backoff struct {
	policy   Policy
	attempts int
	delay    time.Duration
}

func newBackoff(p Policy) backoff {
	if p.Initial <= 0 {
		p.Initial = DefaultPolicy.Initial
	}
	if p.Max <= 0 {
		p.Max = DefaultPolicy.Max
	}
	return backoff{policy: p, delay: p.Initial}
}

// next records one failed attempt and returns the delay before the
// following one. ok is false once the retry budget is exhausted.
func (b *backoff) next() (wait time.Duration, ok bool) {
	b.attempts++
	if b.attempts > b.policy.MaxRetries {
		return 0, false
	}
	wait = b.delay
	b.delay *= 2
	if b.delay > b.policy.Max {
		b.delay = b.policy.Max
	}
	return wait, true
}
