package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const DefaultReconnectDelay = 2 * time.Second

// FixedDelay waits the same delay before every reconnect attempt and never
// gives up.
func FixedDelay(delay time.Duration) backoff.BackOff {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return backoff.NewConstantBackOff(delay)
}

// Exponential grows the delay from initial up to maxDelay with jitter.
func Exponential(initial time.Duration, maxDelay time.Duration) backoff.BackOff {
	if initial <= 0 {
		initial = DefaultReconnectDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = initial
	retry.MaxInterval = maxDelay
	retry.Reset()
	return retry
}

// Limited stops after maxAttempts consecutive failed attempts.
func Limited(policy backoff.BackOff, maxAttempts int) backoff.BackOff {
	return &limitedBackOff{policy: policy, max: maxAttempts}
}

type limitedBackOff struct {
	policy backoff.BackOff
	max    int
	tries  int
}

func (l *limitedBackOff) NextBackOff() time.Duration {
	l.tries++
	if l.max > 0 && l.tries > l.max {
		return backoff.Stop
	}
	return l.policy.NextBackOff()
}

func (l *limitedBackOff) Reset() {
	l.tries = 0
	l.policy.Reset()
}
