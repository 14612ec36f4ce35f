// Package retry provides the backoff policies used for execution retries
// and resume retries.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy maps a retry count (1 for the first retry) to the delay before the
// next attempt becomes eligible.
type Policy interface {
	Backoff(retryCount int) time.Duration
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(retryCount int) time.Duration

func (f PolicyFunc) Backoff(retryCount int) time.Duration { return f(retryCount) }

// Constant returns a policy that always waits d.
func Constant(d time.Duration) Policy {
	return PolicyFunc(func(int) time.Duration { return d })
}

// maxSteps bounds the walk through the exponential sequence; the interval
// is long capped by then.
const maxSteps = 32

// Exponential grows the delay by Multiplier per retry, capped at MaxInterval,
// with +/- RandomizationFactor jitter.
type Exponential struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultExponential is 10s doubling up to 10m with 20% jitter.
func DefaultExponential() Exponential {
	return Exponential{
		InitialInterval:     10 * time.Second,
		MaxInterval:         10 * time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

func (e Exponential) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > maxSteps {
		retryCount = maxSteps
	}

	b := backoff.NewExponentialBackOff()
	if e.InitialInterval > 0 {
		b.InitialInterval = e.InitialInterval
	}
	if e.MaxInterval > 0 {
		b.MaxInterval = e.MaxInterval
	}
	if e.Multiplier > 0 {
		b.Multiplier = e.Multiplier
	}
	b.RandomizationFactor = e.RandomizationFactor
	b.Reset()

	var d time.Duration
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}
