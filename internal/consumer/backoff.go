package consumer

import "time"

const (
	// DefaultReconnectStep is added to the delay after each failed session
	DefaultReconnectStep = time.Second
	// DefaultReconnectMax caps the reconnect delay
	DefaultReconnectMax = 30 * time.Second
)

// ReconnectPolicy computes the wait between broker sessions.
//
// A session that reached the consuming state resets the delay to zero so a
// dropped but healthy connection is retried immediately. Sessions that never
// got that far grow the delay linearly by Step up to Max:
//   - failure 1: 1s
//   - failure 2: 2s
//   - failure N: min(N, 30)s
//
// ReconnectPolicy is not safe for concurrent use; the supervisor owns it.
type ReconnectPolicy struct {
	Step time.Duration
	Max  time.Duration

	delay time.Duration
}

// NewReconnectPolicy returns a policy with the given step and cap. Zero values
// fall back to the defaults.
func NewReconnectPolicy(step, max time.Duration) *ReconnectPolicy {
	if step <= 0 {
		step = DefaultReconnectStep
	}
	if max <= 0 {
		max = DefaultReconnectMax
	}
	if max < step {
		max = step
	}
	return &ReconnectPolicy{Step: step, Max: max}
}

// Next records a failed session and returns how long to wait before the next one
func (p *ReconnectPolicy) Next(wasConsuming bool) time.Duration {
	if wasConsuming {
		p.delay = 0
		return 0
	}

	p.delay += p.Step
	if p.delay > p.Max {
		p.delay = p.Max
	}
	return p.delay
}

// Current returns the last computed delay
func (p *ReconnectPolicy) Current() time.Duration {
	return p.delay
}

// Reset clears the failure history
func (p *ReconnectPolicy) Reset() {
	p.delay = 0
}
