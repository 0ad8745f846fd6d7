package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/circlesfundme/cfmctl/internal/apiclient"
	"github.com/circlesfundme/cfmctl/internal/endpoints"
	"github.com/circlesfundme/cfmctl/internal/output"
	"github.com/circlesfundme/cfmctl/internal/session"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Log in with email (or phone) and password.

The password is read from stdin when --password is not given.

Examples:
  cfmctl login --email ada@example.com
  echo "$PASSWORD" | cfmctl login --email ada@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return &output.CLIError{Summary: "password is required", Suggestion: "pass --password or pipe it on stdin", ExitCode: output.ExitUsageError}
				}
				password = line
			}
			password = strings.TrimSpace(password)
			if email == "" || password == "" {
				return &output.CLIError{Summary: "all fields are required", ExitCode: output.ExitUsageError}
			}
			return a.runLogin(cmd, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address or phone number")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func (a *app) runLogin(cmd *cobra.Command, email, password string) error {
	ctx := cmd.Context()
	if err := a.connect(ctx); err != nil {
		return err
	}

	resp, err := a.client.Do(ctx, apiclient.Descriptor{
		Endpoint: endpoints.Auth,
		Extra:    "login",
		Method:   http.MethodPost,
		Body:     map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		msg, _ := resp.Body["message"].(string)
		if msg == "" {
			msg = "Invalid credentials"
		}
		return &output.CLIError{Summary: "login failed", Detail: msg, ExitCode: output.ExitAuthError}
	}

	fragment, err := fragmentOf(resp)
	if err != nil || fragment.AccessToken() == "" {
		return &output.CLIError{Summary: "login failed", Detail: "response carried no access token", ExitCode: output.ExitAuthError}
	}

	s, err := session.FromFragment(fragment)
	if err != nil {
		return fmt.Errorf("decode login session: %w", err)
	}
	s.LoginTime = a.now().UnixMilli()
	s.IsKycComplete = true

	if err := a.repo.Save(ctx, s); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if err := a.repo.ClearError(ctx); err != nil {
		a.logger.Warn("Failed to clear previous session error", "error", err)
	}
	a.coordinator.Forget()

	a.logger.Info("Logged in", "access_token_prefix", session.TokenPrefix(s.AccessToken))
	if a.jsonOut {
		return a.printer.JSON(map[string]any{"loggedIn": true, "nextStep": s.NextStep()})
	}
	a.printer.Success("Login successful")
	if step := s.NextStep(); step != session.StepReady {
		a.printer.Info("Next step: %s", step)
	}
	a.printer.PrintHints("login")
	return nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			a.teardown(ctx, session.ReasonLogout, "")
			if err := a.repo.ClearError(ctx); err != nil {
				return fmt.Errorf("clear session error: %w", err)
			}
			a.printer.Success("Logged out")
			return nil
		},
	}
}
