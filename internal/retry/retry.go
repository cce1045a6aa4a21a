// Package retry repeats failing operations with pure exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jpillora/backoff"

	"exchangehub/internal/errs"
	"exchangehub/logger"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Operation is one attempt. It must be safe to repeat.
type Operation func(ctx context.Context) error

// Executor runs an operation up to MaxRetries+1 times, sleeping
// BaseDelay*2^attempt between attempts.
type Executor struct {
	MaxRetries int
	BaseDelay  time.Duration

	log   *logger.Log
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an executor. A negative maxRetries is treated as zero.
func New(maxRetries int, baseDelay time.Duration, log *logger.Log) *Executor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Executor{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		log:        logger.OrDefault(log),
		sleep:      sleepContext,
	}
}

// Default returns an executor with three retries starting at one second.
func Default(log *logger.Log) *Executor {
	return New(DefaultMaxRetries, DefaultBaseDelay, log)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// itself, not the marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (e *Executor) schedule() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    e.BaseDelay,
		Max:    e.BaseDelay * time.Duration(math.Pow(2, float64(e.MaxRetries))),
		Factor: 2,
		Jitter: false,
	}
}

// Delay returns the sleep before retry number attempt (0-based).
func (e *Executor) Delay(attempt int) time.Duration {
	if e.BaseDelay <= 0 {
		return 0
	}
	return e.schedule().ForAttempt(float64(attempt))
}

// Do runs op and returns nil on the first success. When every attempt fails
// the last error is returned unchanged. A done ctx ends the backoff early and
// returns the last operation error.
func (e *Executor) Do(ctx context.Context, name string, op Operation) error {
	var err error
	attempts := e.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts-1 {
			break
		}

		delay := e.Delay(attempt)
		e.log.WithComponent("retry").WithFields(logger.Fields{
			"operation": name,
			"attempt":   attempt + 1,
			"max":       attempts,
			"delay_ms":  delay.Milliseconds(),
		}).WithError(err).Warn("attempt failed, retrying")
		e.log.LogMetric("retry", "retry_attempt", int64(1), "counter", logger.Fields{"operation": name})

		if serr := e.sleep(ctx, delay); serr != nil {
			return err
		}
	}

	e.log.WithComponent("retry").WithFields(logger.Fields{
		"operation": name,
		"attempts":  attempts,
	}).WithError(err).Error(errs.ErrRetriesExhausted.Error())
	return err
}

// Run is Do for operations that produce a value.
func Run[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
