// ABOUTME: Reconnect policy for the agent transport
// ABOUTME: The delay is a function of the attempt count so tests can shorten or vary it

package agentclient

import "time"

// DefaultRetryDelay is the pause between reconnect attempts.
const DefaultRetryDelay = 2 * time.Second

// RetryPolicy decides how long to wait before reconnect attempt n (0-based).
// The client never gives up; it only asks how long to sleep.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedDelay waits the same duration before every attempt.
type FixedDelay time.Duration

// NextDelay returns d regardless of attempt.
func (d FixedDelay) NextDelay(int) time.Duration {
	return time.Duration(d)
}

// ExponentialBackoff doubles the delay per attempt from Initial up to Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// NextDelay returns Initial * 2^attempt capped at Max.
func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	d := b.Initial
	for range attempt {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
