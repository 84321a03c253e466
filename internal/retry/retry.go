// Package retry wraps single HTTP calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// Options configures Do. Zero values select the defaults.
type Options struct {
	MaxRetries     int           // retries after the first attempt (default 3)
	RetryDelay     time.Duration // base delay, doubled per attempt (default 1s)
	RetryCondition func(error) bool
	// Notify is called before each backoff sleep.
	Notify func(err error, wait time.Duration)
}

// DisableRetries returns options that make exactly one attempt.
func DisableRetries() Options {
	return Options{MaxRetries: -1}
}

func (o Options) withDefaults() Options {
	switch {
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	case o.MaxRetries == 0:
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.RetryCondition == nil {
		o.RetryCondition = IsTransient
	}
	return o
}

// IsTransient reports whether err looks like a network-level failure or an
// HTTP 5xx status. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Call performs one HTTP exchange.
type Call func(ctx context.Context) (*http.Response, error)

// Do runs call up to MaxRetries+1 times. Any response that is not a 5xx is
// returned as-is; a 5xx on the final attempt is returned as a response too.
// Errors rejected by RetryCondition propagate immediately, and the
// last error propagates once attempts are exhausted.
func Do(ctx context.Context, call Call, opts Options) (*http.Response, error) {
	opts = opts.withDefaults()

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		defer func() { attempt++ }()

		r, err := call(ctx)
		if err != nil {
			if !opts.RetryCondition(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		if r.StatusCode >= http.StatusInternalServerError && attempt < opts.MaxRetries {
			drain(r)
			statusErr := &StatusError{Code: r.StatusCode, Status: http.StatusText(r.StatusCode)}
			if !opts.RetryCondition(statusErr) {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		resp = r
		return nil
	}

	err := backoff.RetryNotify(operation, schedule(ctx, opts), opts.Notify)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// schedule yields RetryDelay * 2^attempt with no jitter, MaxRetries times.
func schedule(ctx context.Context, opts Options) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RetryDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.MaxInterval = maxInterval(opts)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.MaxRetries)), ctx)
}

func maxInterval(opts Options) time.Duration {
	factor := math.Pow(2, float64(opts.MaxRetries))
	if limit := float64(math.MaxInt64) / factor; float64(opts.RetryDelay) >= limit {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(float64(opts.RetryDelay) * factor)
}

func drain(r *http.Response) {
	if r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
	_ = r.Body.Close()
}
