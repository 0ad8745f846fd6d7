package session

import (
	"context"
	"log/slog"

	"github.com/circlesfundme/cfmctl/internal/metrics"
)

// Reason explains why a session was torn down.
type Reason string

const (
	ReasonUnauthorized  Reason = "unauthorized"
	ReasonRefreshFailed Reason = "refresh_failed"
	ReasonLogout        Reason = "logout"
	ReasonIdleTimeout   Reason = "idle_timeout"
)

// Teardown invalidates the persisted session. Implementations must be safe to call
// repeatedly and from concurrent goroutines.
type Teardown func(ctx context.Context, reason Reason, message string)

// NewTeardown returns the default teardown: it removes the session blob and, when a
// message is given, records it under ErrorKey for the next login.
func NewTeardown(repo *Repository, logger *slog.Logger) Teardown {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, reason Reason, message string) {
		metrics.RecordTeardown(string(reason))

		if message != "" {
			if err := repo.RecordError(ctx, message); err != nil {
				logger.Warn("Failed to record session error", "error", err)
			}
		}
		if err := repo.Clear(ctx); err != nil {
			logger.Error("Failed to clear session", "reason", reason, "error", err)
			return
		}
		logger.Info("Session torn down", "reason", reason)
	}
}
