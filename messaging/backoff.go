package messaging

import "time"

const (
	// StateSleep is the pause before re-checking a target that is not online.
	StateSleep = 5 * time.Second

	// TryAgainSleep is the pause before retrying a call the peer asked us to retry.
	TryAgainSleep = 5 * time.Second
)

// RetryWait returns how long to wait before the given communication retry.
// The first attempt is immediate, then the pause grows in steps.
func RetryWait(retry int) time.Duration {
	switch {
	case retry <= 0:
		return 0
	case retry <= 12:
		return 5 * time.Second
	case retry <= 24:
		return 20 * time.Second
	default:
		return 60 * time.Second
	}
}
