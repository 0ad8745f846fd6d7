package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/circlesfundme/cfmctl/internal/session"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or refresh the stored session",
	}
	cmd.AddCommand(newSessionShowCmd(a), newSessionRefreshCmd(a))
	return cmd
}

func newSessionShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored session without contacting the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			s, err := a.repo.Load(ctx)
			if errors.Is(err, session.ErrNotFound) {
				lastErr, _ := a.repo.LastError(ctx)
				if a.jsonOut {
					return a.printer.JSON(map[string]any{"loggedIn": false, "lastError": lastErr})
				}
				a.printer.Info("Not logged in")
				if lastErr != "" {
					a.printer.Print("Last error: %s", lastErr)
				}
				return nil
			}
			if err != nil {
				return err
			}

			return a.render("Session", a.describeSession(s))
		},
	}
}

func newSessionRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireSession(ctx); err != nil {
				return err
			}

			s, err := a.coordinator.Refresh(ctx)
			if err != nil {
				return err
			}
			if !a.jsonOut {
				a.printer.Success("Access token refreshed")
			}
			return a.render("Session", a.describeSession(s))
		},
	}
}

func (a *app) describeSession(s *session.Session) map[string]any {
	info := map[string]any{
		"loggedIn":         s.HasToken(),
		"accessToken":      session.TokenPrefix(s.AccessToken),
		"refreshToken":     session.TokenPrefix(s.RefreshToken),
		"onboardingStatus": string(s.OnboardingStatus),
		"isKycComplete":    s.IsKycComplete,
		"nextStep":         string(s.NextStep()),
	}
	if s.LoginTime != 0 {
		login := s.LoginAt()
		info["loginTime"] = login.Format(time.RFC3339)
		if idle := a.cfg.Session.IdleTimeout; idle > 0 {
			info["idleExpiresAt"] = login.Add(idle).Format(time.RFC3339)
			info["idleExpired"] = s.IdleExpired(a.now(), idle)
		}
	}
	if claims, err := s.AccessTokenClaims(); err == nil {
		if claims.Subject != "" {
			info["subject"] = claims.Subject
		}
		if !claims.ExpiresAt.IsZero() {
			info["tokenExpiresAt"] = claims.ExpiresAt.Format(time.RFC3339)
		}
	}
	return info
}
