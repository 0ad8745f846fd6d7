// ABOUTME: Coordinates token refresh so concurrent callers share one in-flight exchange
// ABOUTME: A refreshed session is remembered briefly so late callers skip the network entirely

package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/circlesfundme/cfmctl/internal/metrics"
	"github.com/circlesfundme/cfmctl/internal/session"
)

// DefaultCacheTTL is how long a refreshed session is reused without another exchange.
const DefaultCacheTTL = 10 * time.Second

const (
	flightKey = "token_refresh"
	cacheKey  = "session"
)

var (
	// ErrRefreshFailed is returned when no new session could be obtained.
	// The session has been torn down by the time a caller sees it.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrMissingAccessToken is returned when the backend replies without an access token.
	ErrMissingAccessToken = errors.New("refresh response has no access token")
	// ErrNoRefreshToken is returned when the stored session cannot be refreshed.
	ErrNoRefreshToken = errors.New("stored session has no refresh token")
)

var tracer = otel.Tracer("github.com/circlesfundme/cfmctl/internal/refresh")

// Coordinator owns the refresh state: an in-flight call shared by all waiters and
// the last refreshed session.
type Coordinator struct {
	repo      *session.Repository
	refresher Refresher
	teardown  session.Teardown
	logger    *slog.Logger

	group singleflight.Group
	cache *expirable.LRU[string, *session.Session]
}

// NewCoordinator creates a coordinator with DefaultCacheTTL.
func NewCoordinator(repo *session.Repository, refresher Refresher, teardown session.Teardown, logger *slog.Logger) *Coordinator {
	return NewCoordinatorWithTTL(repo, refresher, teardown, logger, DefaultCacheTTL)
}

// NewCoordinatorWithTTL creates a coordinator. A ttl <= 0 disables result reuse.
func NewCoordinatorWithTTL(repo *session.Repository, refresher Refresher, teardown session.Teardown, logger *slog.Logger, ttl time.Duration) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if teardown == nil {
		teardown = func(context.Context, session.Reason, string) {}
	}

	c := &Coordinator{
		repo:      repo,
		refresher: refresher,
		teardown:  teardown,
		logger:    logger,
	}
	if ttl > 0 {
		c.cache = expirable.NewLRU[string, *session.Session](1, nil, ttl)
	}
	return c
}

// Refresh returns a refreshed session.
//
// A session refreshed within the TTL is returned without a network call. Otherwise
// all concurrent callers share one exchange, which keeps running when an individual
// caller's context is cancelled.
func (c *Coordinator) Refresh(ctx context.Context) (*session.Session, error) {
	if s, ok := c.cached(); ok {
		metrics.RecordRefresh(metrics.RefreshCached)
		c.logger.Debug("Using recently refreshed session")
		return s, nil
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			metrics.RecordRefresh(metrics.RefreshShared)
		}
		return res.Val.(*session.Session).Clone(), nil
	}
}

// Forget drops the remembered session so the next Refresh performs an exchange.
func (c *Coordinator) Forget() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

func (c *Coordinator) cached() (*session.Session, bool) {
	if c.cache == nil {
		return nil, false
	}
	s, ok := c.cache.Get(cacheKey)
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (c *Coordinator) refresh(ctx context.Context) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "refresh.exchange")
	defer span.End()

	// Another flight may have finished between the caller's cache check and this one.
	if s, ok := c.cached(); ok {
		span.SetAttributes(attribute.Bool("cfm.cached", true))
		return s, nil
	}

	current, err := c.repo.Load(ctx)
	if err != nil {
		return nil, c.fail(ctx, span, fmt.Errorf("load session: %w", err))
	}
	if current.RefreshToken == "" {
		return nil, c.fail(ctx, span, ErrNoRefreshToken)
	}

	c.logger.Info("Refreshing access token",
		"refresh_token_prefix", session.TokenPrefix(current.RefreshToken))

	fragment, err := c.refresher.Exchange(ctx, current.AccessToken, current.RefreshToken)
	if err != nil {
		return nil, c.fail(ctx, span, err)
	}
	if fragment.AccessToken() == "" {
		return nil, c.fail(ctx, span, ErrMissingAccessToken)
	}

	merged := current.Clone()
	if err := merged.Merge(fragment); err != nil {
		return nil, c.fail(ctx, span, err)
	}

	if err := c.repo.Save(ctx, merged); err != nil {
		rotated := fragment.RefreshToken() != "" && fragment.RefreshToken() != current.RefreshToken
		if rotated {
			// The old refresh token is already spent; an unsaved new one is lost for good.
			c.logger.Error("CRITICAL: Failed to save rotated refresh token",
				"error", err,
				"old_refresh_token_prefix", session.TokenPrefix(current.RefreshToken),
				"new_refresh_token_prefix", session.TokenPrefix(fragment.RefreshToken()))
			return nil, c.fail(ctx, span, fmt.Errorf("save refreshed session: %w", err))
		}
		c.logger.Warn("Failed to save refreshed session; continuing with in-memory session", "error", err)
	}

	if c.cache != nil {
		c.cache.Add(cacheKey, merged.Clone())
	}
	metrics.RecordRefresh(metrics.RefreshSuccess)
	span.SetStatus(codes.Ok, "")

	c.logger.Info("Access token refreshed",
		"access_token_prefix", session.TokenPrefix(merged.AccessToken),
		"refresh_token_rotated", fragment.RefreshToken() != "" && fragment.RefreshToken() != current.RefreshToken)
	return merged, nil
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.RecordRefresh(metrics.RefreshFailure)

	c.logger.Warn("Token refresh failed; tearing down session", "error", err)
	c.teardown(ctx, session.ReasonRefreshFailed, "")
	return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
}
