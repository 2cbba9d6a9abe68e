/*
Package retry supervises operations that must eventually succeed, such as connecting
to a broker or database that may start after the service. Forever never gives up on
its own; it stops only when the context ends or the operation reports a Permanent error.
*/
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// DefaultDelay is the fixed wait between connection attempts used by the service.
const DefaultDelay = 5 * time.Second

// Policy describes the wait between attempts.
// A Multiplier of 1 or less yields a fixed delay.
type Policy struct {
	Delay      time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// Fixed waits d between every attempt.
func Fixed(d time.Duration) Policy { return Policy{Delay: d} }

// Exponential doubles the wait from base up to limit.
func Exponential(base, limit time.Duration) Policy {
	return Policy{Delay: base, MaxDelay: limit, Multiplier: 2}
}

// Next returns the wait after the n-th failed attempt (n starts at 1).
func (p Policy) Next(n int) time.Duration {
	d := p.Delay
	if d <= 0 {
		d = DefaultDelay
	}

	if p.Multiplier > 1 {
		for i := 1; i < n; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
	}

	if p.Jitter && d > 1 {
		d += jitter(d / 2)
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	return d
}

var (
	rngMu sync.Mutex
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // backoff jitter
)

func jitter(limit time.Duration) time.Duration {
	rngMu.Lock()
	defer rngMu.Unlock()

	return time.Duration(rng.Int63n(int64(limit)))
}

// Attempt describes one failed try, reported to observers before waiting.
type Attempt struct {
	Name  string
	N     int
	Delay time.Duration
	Err   error
}

// Observer receives every failed attempt.
type Observer func(Attempt)

// LogObserver reports attempts through logger at warn level. A nil logger yields a no-op.
func LogObserver(logger *slog.Logger) Observer {
	return func(a Attempt) {
		if logger == nil {
			return
		}

		logger.Warn("retrying", "op", a.Name, "attempt", a.N, "delay", a.Delay, "err", a.Err)
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Forever returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// Forever calls op until it returns nil. Between failures it waits according to p and
// notifies observers. It returns ctx.Err() once the context ends and the wrapped error
// for Permanent failures.
func Forever(ctx context.Context, p Policy, name string, op func(ctx context.Context) error, obs ...Observer) error {
	for n := 1; ; n++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var pe permanentError
		if errors.As(err, &pe) {
			return pe.err
		}

		d := p.Next(n)
		for _, o := range obs {
			o(Attempt{Name: name, N: n, Delay: d, Err: err})
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
