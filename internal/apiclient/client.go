// ABOUTME: Authenticated HTTP client for the CirclesFundMe REST API
// ABOUTME: Attaches bearer tokens, normalizes failures, and retries once after a shared token refresh

package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/circlesfundme/cfmctl/internal/endpoints"
	"github.com/circlesfundme/cfmctl/internal/metrics"
	"github.com/circlesfundme/cfmctl/internal/session"
)

const (
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is sent when Options.UserAgent is empty.
	DefaultUserAgent = "cfmctl/dev"

	maxErrorBody = 1 << 20
)

var tracer = otel.Tracer("github.com/circlesfundme/cfmctl/internal/apiclient")

// TokenRefresher obtains a refreshed session after an authorization failure.
// A failed Refresh has already torn the stored session down.
type TokenRefresher interface {
	Refresh(ctx context.Context) (*session.Session, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Endpoints  endpoints.Table
	// Sessions supplies the bearer token for authenticated requests.
	Sessions *session.Repository
	// Refresher is asked for a new session when an authenticated request gets 401/403.
	// Without one, authorization failures are never retried.
	Refresher TokenRefresher
	// Teardown runs when an authenticated request ends unauthorized.
	Teardown  session.Teardown
	Limiter   *rate.Limiter
	UserAgent string
	Logger    *slog.Logger
}

// Client sends Descriptor-based requests to the API.
type Client struct {
	baseURL   string
	http      *http.Client
	endpoints endpoints.Table
	sessions  *session.Repository
	refresher TokenRefresher
	teardown  session.Teardown
	limiter   *rate.Limiter
	userAgent string
	logger    *slog.Logger
}

// New creates a client.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base URL %q", opts.BaseURL)
	}

	c := &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		http:      opts.HTTPClient,
		endpoints: opts.Endpoints,
		sessions:  opts.Sessions,
		refresher: opts.Refresher,
		teardown:  opts.Teardown,
		limiter:   opts.Limiter,
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.endpoints == nil {
		c.endpoints = endpoints.Default()
	}
	if c.teardown == nil {
		c.teardown = func(context.Context, session.Reason, string) {}
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Endpoints returns the endpoint table used to resolve descriptors.
func (c *Client) Endpoints() endpoints.Table {
	return c.endpoints
}

// attempt is one send of a prepared request. Only attempt 0 that carried a
// bearer token may be followed by a refresh and a second attempt.
type attempt struct {
	number int
	bearer string
}

func (a attempt) canRetry(status int) bool {
	return a.number == 0 && a.bearer != "" && isAuthFailure(status)
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// prepared holds everything needed to send a request more than once.
type prepared struct {
	method      string
	url         string
	contentType string
	body        []byte
	requestID   string
}

// Do sends the request described by d.
//
// On success the decoded payload is returned. Failures come back as *Error with a
// normalized message. An authenticated request rejected with 401/403 triggers one
// token refresh and, if that succeeds, exactly one retry with the new token.
func (c *Client) Do(ctx context.Context, d Descriptor) (*Response, error) {
	method, err := d.method()
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "apiclient.Do",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("cfm.endpoint", d.Endpoint),
			attribute.Bool("cfm.requires_auth", d.RequiresAuth),
		))
	defer span.End()

	p, err := c.prepare(d, method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	first := attempt{bearer: c.bearer(ctx, d)}
	resp, err := c.send(ctx, p, first)
	if err != nil {
		return nil, c.fail(span, Normalize(Failure{Err: err}))
	}

	cleared := false
	if first.canRetry(resp.StatusCode) {
		next, err := c.refreshAttempt(ctx, first, resp.StatusCode)
		switch {
		case err != nil && ctx.Err() != nil:
			drain(resp)
			return nil, c.fail(span, Normalize(Failure{Err: err}))
		case err != nil:
			cleared = true
		case next.number > first.number:
			drain(resp)
			metrics.RecordRetry()
			span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", next.number)))

			resp, err = c.send(ctx, p, next)
			if err != nil {
				return nil, c.fail(span, Normalize(Failure{Err: err}))
			}
		}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return c.handle(ctx, span, d, p, resp, cleared)
}

func (c *Client) prepare(d Descriptor, method string) (*prepared, error) {
	path := c.endpoints.Join(d.Endpoint, d.Extra, d.Param)
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if q := buildQuery(d.Query); q != "" {
		target += "?" + q
	}
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("apiclient: invalid request URL: %w", err)
	}

	body, contentType, err := encodeBody(d, method)
	if err != nil {
		return nil, err
	}

	return &prepared{
		method:      method,
		url:         target,
		contentType: contentType,
		body:        body,
		requestID:   uuid.NewString(),
	}, nil
}

// bearer reads the stored access token. A missing session is not an error:
// the request goes out unauthenticated.
func (c *Client) bearer(ctx context.Context, d Descriptor) string {
	if !d.RequiresAuth || c.sessions == nil {
		return ""
	}

	s, err := c.sessions.Load(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.logger.Warn("No stored session; sending request without token", "endpoint", d.Endpoint)
		} else {
			c.logger.Warn("Failed to retrieve token", "endpoint", d.Endpoint, "error", err)
		}
		return ""
	}
	if !s.HasToken() {
		c.logger.Warn("Stored session has no access token", "endpoint", d.Endpoint)
		return ""
	}
	return s.AccessToken
}

func (c *Client) send(ctx context.Context, p *prepared, a attempt) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", p.contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", p.requestID)
	if a.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+a.bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	metrics.RecordRequest(p.method, metrics.StatusClass(status), elapsed.Seconds())
	c.logger.Debug("API request",
		"method", p.method,
		"url", p.url,
		"attempt", a.number,
		"authenticated", a.bearer != "",
		"status", status,
		"request_id", p.requestID,
		"duration_ms", elapsed.Milliseconds())

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// refreshAttempt returns the attempt that follows prev, or prev itself when there
// is nothing to retry with. An error means the refresh failed.
func (c *Client) refreshAttempt(ctx context.Context, prev attempt, status int) (attempt, error) {
	if c.refresher == nil {
		return prev, nil
	}

	c.logger.Info("Authorization rejected; refreshing token", "status", status)
	s, err := c.refresher.Refresh(ctx)
	if err != nil {
		c.logger.Warn("Token refresh failed; not retrying", "error", err)
		return prev, err
	}
	if !s.HasToken() {
		c.logger.Warn("Refreshed session has no access token; not retrying")
		return prev, nil
	}
	return attempt{number: prev.number + 1, bearer: s.AccessToken}, nil
}

// handle turns the final response into a result. cleared reports that a failed
// refresh already removed the session.
func (c *Client) handle(ctx context.Context, span trace.Span, d Descriptor, p *prepared, resp *http.Response, cleared bool) (*Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if d.wantsRaw() {
			return &Response{StatusCode: resp.StatusCode, Method: p.method, Raw: resp}, nil
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, c.fail(span, Normalize(Failure{Err: fmt.Errorf("read response: %w", err)}))
		}
		payload, err := decodePayload(body)
		if err != nil {
			c.logger.Warn("Response body is not JSON", "url", p.url, "error", err)
		}
		return &Response{StatusCode: resp.StatusCode, Method: p.method, Body: payload}, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	payload, err := decodePayload(body)
	if err != nil {
		payload = nil
	}

	apiErr := Normalize(Failure{
		StatusCode: resp.StatusCode,
		StatusText: reasonPhrase(resp),
		Payload:    payload,
	})
	if apiErr.Kind == KindUnauthorized && d.RequiresAuth {
		c.endSession(ctx, apiErr.Message, cleared)
	}

	if d.ReturnErrorPayload {
		if payload == nil {
			payload = map[string]any{}
		}
		return &Response{StatusCode: resp.StatusCode, Method: p.method, Body: payload}, nil
	}
	return nil, c.fail(span, apiErr)
}

// endSession runs the teardown hook for a terminal authorization failure. When
// the session is already gone only the message is recorded.
func (c *Client) endSession(ctx context.Context, message string, cleared bool) {
	ctx = context.WithoutCancel(ctx)
	if !cleared || c.sessions == nil {
		c.teardown(ctx, session.ReasonUnauthorized, message)
		return
	}
	if err := c.sessions.RecordError(ctx, message); err != nil {
		c.logger.Warn("Failed to record session error", "error", err)
	}
}

func (c *Client) fail(span trace.Span, apiErr *Error) *Error {
	span.SetStatus(codes.Error, apiErr.Message)
	if apiErr.Err != nil {
		span.RecordError(apiErr.Err)
	}
	c.logger.Debug("API request failed",
		"kind", apiErr.Kind,
		"status", apiErr.StatusCode,
		"message", apiErr.Message)
	return apiErr
}

// reasonPhrase returns the status line text the server sent, e.g. "Not Found".
func reasonPhrase(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
