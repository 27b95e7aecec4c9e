// Package retry provides an explicit retry policy for upstream calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Policy describes how many times and how fast an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	RetryableStatus map[int]bool
}

// Option configures Policy.
type Option func(*Policy)

// DefaultStatuses are retried when no explicit set is configured.
var DefaultStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// New builds a policy: 3 attempts, 1s/2s/4s... backoff, DefaultStatuses.
func New(opts ...Option) *Policy {
	p := &Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.RetryableStatus == nil {
		p.RetryableStatus = statusSet(DefaultStatuses)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// WithMaxAttempts sets the total number of attempts (first call included).
func WithMaxAttempts(n int) Option {
	return func(p *Policy) { p.MaxAttempts = n }
}

// WithBackoff sets the exponential schedule.
func WithBackoff(initial time.Duration, multiplier float64, max time.Duration) Option {
	return func(p *Policy) {
		p.InitialInterval = initial
		p.Multiplier = multiplier
		p.MaxInterval = max
	}
}

// WithStatuses replaces the retryable status set.
func WithStatuses(codes []int) Option {
	return func(p *Policy) {
		if len(codes) > 0 {
			p.RetryableStatus = statusSet(codes)
		}
	}
}

// Permanent marks err as not retryable.
func Permanent(err error) error { return backoff.Permanent(err) }

// Retryable reports whether err should be retried under this policy.
func (p *Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return p.RetryableStatus[se.Code]
	}
	// transport errors
	return true
}

// Do runs op until it succeeds, a non-retryable error occurs, attempts are
// exhausted or ctx is done. The last error is returned.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxInterval
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(operation, b)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func statusSet(codes []int) map[int]bool {
	m := make(map[int]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}
