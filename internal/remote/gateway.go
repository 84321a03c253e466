// Package remote pushes academy changes to the remote blocks endpoint and
// pulls the user's academy snapshot back.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/p-n-ai/pai-academy/internal/academy"
	"github.com/p-n-ai/pai-academy/internal/platform/metrics"
	"github.com/p-n-ai/pai-academy/internal/retry"
)

var (
	ErrEndpointNotConfigured = errors.New("API endpoint not properly configured")
	ErrEndpointInvalid       = errors.New("API endpoint is not a valid URL")
)

const (
	defaultTimeout = 30 * time.Second
	tracerName     = "github.com/p-n-ai/pai-academy/internal/remote"
)

// Action names understood by the endpoint.
const (
	ActionGetOnboarding   = "get_onboarding"
	ActionSaveOnboarding  = "save_onboarding"
	ActionSaveCourse      = "save_course"
	ActionSaveProgress    = "save_progress"
	ActionSaveTestAttempt = "save_test_attempt"
	ActionSaveCertificate = "save_certificate"
	ActionGetUserData     = "get_user_data"
)

// Gateway talks to the academy endpoint. Every call goes through the retry
// transport. Push methods report success as a bool and log failures; they
// never return errors.
type Gateway struct {
	endpoint   string
	httpClient *http.Client
	retryOpts  retry.Options
	timeout    time.Duration
	limiter    *rate.Limiter
	tracer     trace.Tracer
	metrics    *metrics.Metrics

	client *resty.Client
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the base HTTP client. Its transport is wrapped with
// retries.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// WithRetryOptions sets the retry policy.
func WithRetryOptions(o retry.Options) Option {
	return func(g *Gateway) {
		g.retryOpts = o
	}
}

// WithTimeout bounds each call including its retries.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithRateLimit caps outgoing calls to r per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(g *Gateway) {
		if r > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
		}
	}
}

// WithMetrics records request and retry metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		g.tracer = tp.Tracer(tracerName)
	}
}

// NewGateway validates endpoint and creates a gateway for it. The endpoint
// must be a non-empty absolute URL.
func NewGateway(endpoint string, opts ...Option) (*Gateway, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEndpointNotConfigured
	}
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrEndpointInvalid, endpoint)
	}

	g := &Gateway{
		endpoint: endpoint,
		timeout:  defaultTimeout,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}

	base := g.httpClient
	if base == nil {
		base = &http.Client{}
	}
	transport := retry.NewTransport(base.Transport, g.retryOpts)
	transport.OnRetry = func(req *http.Request, err error, wait time.Duration) {
		action := req.URL.Query().Get("action")
		g.metrics.SyncRetry(action)
		slog.Warn("retrying academy request", "action", action, "wait", wait, "error", err)
	}

	g.client = resty.NewWithClient(&http.Client{
		Transport:     transport,
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
	}).
		SetTimeout(g.timeout).
		SetLogger(slogLogger{}).
		SetHeader("Accept", "application/json")

	return g, nil
}

// Endpoint returns the configured base URL.
func (g *Gateway) Endpoint() string {
	return g.endpoint
}

type call struct {
	method string
	action string
	query  map[string]string
	header map[string]string
	body   any
}

// do issues one action request and returns an error for transport failures
// and non-2xx responses.
func (g *Gateway) do(ctx context.Context, c call) (*resty.Response, error) {
	ctx, span := g.tracer.Start(ctx, "academy."+c.action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("academy.action", c.action),
			attribute.String("http.request.method", c.method),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := g.execute(ctx, c)
	g.metrics.SyncRequest(c.action, err == nil, time.Since(start))

	if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	return resp, nil
}

func (g *Gateway) execute(ctx context.Context, c call) (*resty.Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limit: %w", err)
		}
	}

	req := g.client.R().
		SetContext(ctx).
		SetQueryParam("type", "academy").
		SetQueryParam("action", c.action).
		SetQueryParams(c.query).
		SetHeaders(c.header)
	if c.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(c.body)
	}

	resp, err := req.Execute(c.method, g.endpoint)
	if err != nil {
		return resp, fmt.Errorf("%s %s: %w", c.method, c.action, err)
	}
	if !resp.IsSuccess() {
		return resp, &retry.StatusError{Code: resp.StatusCode(), Status: resp.Status()}
	}
	return resp, nil
}

// push sends one mutation and logs failure with the given attributes.
func (g *Gateway) push(ctx context.Context, c call, msg string, attrs ...any) bool {
	if _, err := g.do(ctx, c); err != nil {
		slog.Error(msg, append(attrs, "action", c.action, "error", err)...)
		return false
	}
	return true
}

func (g *Gateway) SyncOnboarding(ctx context.Context, data academy.OnboardingData, userID int64) bool {
	return g.push(ctx, call{
		method: http.MethodPost,
		action: ActionSaveOnboarding,
		body: map[string]any{
			"user_id":         userID,
			"onboarding_data": data,
		},
	}, "error syncing onboarding", "user_id", userID)
}

func (g *Gateway) SyncCourse(ctx context.Context, course academy.Course, userID int64) bool {
	return g.push(ctx, call{
		method: http.MethodPost,
		action: ActionSaveCourse,
		body: map[string]any{
			"user_id": userID,
			"course":  course,
		},
	}, "error syncing course", "user_id", userID, "course_id", course.ID)
}

func (g *Gateway) SyncProgress(ctx context.Context, courseID, lessonID string, completed bool, userID int64) bool {
	return g.push(ctx, call{
		method: http.MethodPut,
		action: ActionSaveProgress,
		body: map[string]any{
			"user_id":   userID,
			"course_id": courseID,
			"lesson_id": lessonID,
			"completed": completed,
		},
	}, "error syncing progress", "user_id", userID, "course_id", courseID, "lesson_id", lessonID)
}

func (g *Gateway) SyncTestAttempt(ctx context.Context, attempt academy.TestAttempt, courseID string, userID int64) bool {
	return g.push(ctx, call{
		method: http.MethodPost,
		action: ActionSaveTestAttempt,
		body: map[string]any{
			"user_id":   userID,
			"course_id": courseID,
			"attempt":   attempt,
		},
	}, "error syncing test attempt", "user_id", userID, "course_id", courseID)
}

func (g *Gateway) SyncCertificate(ctx context.Context, cert academy.Certificate, userID int64) bool {
	return g.push(ctx, call{
		method: http.MethodPost,
		action: ActionSaveCertificate,
		body: map[string]any{
			"user_id":     userID,
			"certificate": cert,
		},
	}, "error syncing certificate", "user_id", userID)
}

// FetchOnboarding returns the user's onboarding answers, or nil when the
// server has none or the call fails.
func (g *Gateway) FetchOnboarding(ctx context.Context, userID int64) *academy.OnboardingData {
	resp, err := g.do(ctx, call{
		method: http.MethodGet,
		action: ActionGetOnboarding,
		header: map[string]string{"X-User-Id": strconv.FormatInt(userID, 10)},
	})
	if err != nil {
		slog.Error("error fetching onboarding", "user_id", userID, "error", err)
		return nil
	}
	return decodeOnboarding(resp.Body())
}

// FetchUserAcademyData returns the user's full snapshot. Missing or
// malformed fields get empty defaults; nil means the call failed or the body
// was not a JSON object.
func (g *Gateway) FetchUserAcademyData(ctx context.Context, userID int64) *academy.Snapshot {
	resp, err := g.do(ctx, call{
		method: http.MethodGet,
		action: ActionGetUserData,
		query:  map[string]string{"user_id": strconv.FormatInt(userID, 10)},
	})
	if err != nil {
		slog.Error("error fetching user data", "user_id", userID, "error", err)
		return nil
	}
	snap, err := DecodeSnapshot(resp.Body())
	if err != nil {
		slog.Error("error fetching user data", "user_id", userID, "error", err)
		return nil
	}
	return snap
}

// slogLogger routes resty's internal messages to slog.
type slogLogger struct{}

func (slogLogger) Errorf(format string, v ...any) {
	slog.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (slogLogger) Warnf(format string, v ...any) {
	slog.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (slogLogger) Debugf(format string, v ...any) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

var _ academy.Syncer = (*Gateway)(nil)
