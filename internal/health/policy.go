package health

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how long an asynchronous side effect (a process coming up or
// going away) is waited for.
type Policy struct {
	Attempts    int           `mapstructure:"attempts"`
	Interval    time.Duration `mapstructure:"interval"`
	Exponential bool          `mapstructure:"exponential"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// DefaultPolicy polls for up to ~2s at a fixed 200ms interval.
func DefaultPolicy() Policy {
	return Policy{Attempts: 10, Interval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (p Policy) backOff() backoff.BackOff {
	interval := p.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	var b backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = interval
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		eb.MaxInterval = p.MaxInterval
		if eb.MaxInterval <= 0 {
			eb.MaxInterval = 10 * interval
		}
		// attempts bound the wait, not elapsed time
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	} else {
		b = backoff.NewConstantBackOff(interval)
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

var errNotYet = errors.New("condition not met")

// Until evaluates cond up to p.Attempts times, sleeping between attempts, and
// reports whether it ever returned true. Context cancellation ends the wait.
func Until(ctx context.Context, p Policy, cond func() bool) bool {
	err := backoff.Retry(func() error {
		if cond() {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return errNotYet
	}, backoff.WithContext(p.backOff(), ctx))
	return err == nil
}
