package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that retries each request with Do.
// Requests whose body cannot be rewound are attempted once.
type Transport struct {
	Base    http.RoundTripper
	Options Options
	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(req *http.Request, err error, wait time.Duration)
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, opts Options) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Options: opts}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	opts := t.Options
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		opts = DisableRetries()
	}
	if t.OnRetry != nil {
		notify := opts.Notify
		opts.Notify = func(err error, wait time.Duration) {
			t.OnRetry(req, err, wait)
			if notify != nil {
				notify(err, wait)
			}
		}
	}

	first := true
	return Do(req.Context(), func(ctx context.Context) (*http.Response, error) {
		attemptReq := req
		if !first {
			var err error
			attemptReq, err = rewind(ctx, req)
			if err != nil {
				return nil, err
			}
		}
		first = false
		return t.Base.RoundTrip(attemptReq)
	}, opts)
}

func rewind(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}
