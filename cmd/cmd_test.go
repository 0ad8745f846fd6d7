package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlesfundme/cfmctl/internal/apiclient"
	"github.com/circlesfundme/cfmctl/internal/mockapi"
	"github.com/circlesfundme/cfmctl/internal/output"
	"github.com/circlesfundme/cfmctl/internal/refresh"
	"github.com/circlesfundme/cfmctl/internal/session"
)

type cliEnv struct {
	srv         *mockapi.Server
	dir         string
	sessionFile string
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("NO_COLOR", "1")
	t.Setenv("EXPO_PUBLIC_API_URL", "")

	srv := mockapi.New(t)
	file := filepath.Join(dir, "session.json")
	t.Setenv("CFMCTL_API_BASE_URL", srv.URL())
	t.Setenv("CFMCTL_SESSION_FILE", file)

	return &cliEnv{srv: srv, dir: dir, sessionFile: file}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--color", "never"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (e *cliEnv) storedSession(t *testing.T) (*session.Session, error) {
	t.Helper()
	return session.NewRepository(session.NewFileStore(e.sessionFile, nil), "").Load(context.Background())
}

func (e *cliEnv) login(t *testing.T) {
	t.Helper()
	_, _, err := runCLI(t, "", "login", "--email", mockapi.Email, "--password", mockapi.Password)
	require.NoError(t, err)
}

func TestRootCmd_Help(t *testing.T) {
	setupCLI(t)

	out, _, err := runCLI(t, "", "--help")
	require.NoError(t, err)

	for _, name := range []string{"login", "logout", "session", "me", "dashboard", "loans", "notifications", "upload", "request", "config", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	setupCLI(t)

	_, _, err := runCLI(t, "", "nonexistent-command")
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	setupCLI(t)

	out, _, err := runCLI(t, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)

	out, _, err = runCLI(t, "", "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version, info["version"])
}

func TestLoginCmd(t *testing.T) {
	env := setupCLI(t)
	before := time.Now().UnixMilli()

	out, _, err := runCLI(t, "", "login", "--email", mockapi.Email, "--password", mockapi.Password)
	require.NoError(t, err)
	assert.Contains(t, out, "[OK] Login successful")

	s, err := env.storedSession(t)
	require.NoError(t, err)
	assert.True(t, s.HasToken())
	assert.NotEmpty(t, s.RefreshToken)
	assert.GreaterOrEqual(t, s.LoginTime, before)
	assert.True(t, s.IsKycComplete)
	assert.Equal(t, session.OnboardingCompleted, s.OnboardingStatus)
	firstName, ok := s.Extra("firstName")
	require.True(t, ok)
	assert.JSONEq(t, `"Ada"`, string(firstName))

	info, err := os.Stat(env.sessionFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoginCmd_PasswordFromStdin(t *testing.T) {
	env := setupCLI(t)

	_, _, err := runCLI(t, mockapi.Password+"\n", "login", "--email", mockapi.Email)
	require.NoError(t, err)

	_, err = env.storedSession(t)
	assert.NoError(t, err)
}

func TestLoginCmd_WrongPassword(t *testing.T) {
	env := setupCLI(t)

	_, _, err := runCLI(t, "", "login", "--email", mockapi.Email, "--password", "wrong")
	require.Error(t, err)

	assert.Equal(t, "Invalid email or password.", err.Error())
	assert.Equal(t, output.ExitAuthError, ExitCode(err))
	_, err = env.storedSession(t)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestLoginCmd_MissingFields(t *testing.T) {
	setupCLI(t)

	_, _, err := runCLI(t, "", "login", "--password", "x")
	require.Error(t, err)
	assert.Equal(t, output.ExitUsageError, ExitCode(err))
}

func TestMeCmd(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	out, _, err := runCLI(t, "", "me")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile")
	assert.Contains(t, out, "Lovelace")

	out, _, err = runCLI(t, "", "me", "--json")
	require.NoError(t, err)
	var profile map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &profile))
	assert.Equal(t, mockapi.UserID, profile["id"])
}

func TestMeCmd_NotLoggedIn(t *testing.T) {
	setupCLI(t)

	_, _, err := runCLI(t, "", "me")
	require.Error(t, err)

	var cliErr *output.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, "not logged in", cliErr.Summary)
	assert.Equal(t, output.ExitAuthError, ExitCode(err))
}

func TestMeCmd_IdleSessionExpires(t *testing.T) {
	env := setupCLI(t)
	access, refreshToken := env.srv.IssueSession()
	repo := session.NewRepository(session.NewFileStore(env.sessionFile, nil), "")
	require.NoError(t, repo.Save(context.Background(), &session.Session{
		AccessToken:   access,
		RefreshToken:  refreshToken,
		LoginTime:     time.Now().Add(-20 * time.Minute).UnixMilli(),
		IsKycComplete: true,
	}))

	_, _, err := runCLI(t, "", "me")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
	assert.Zero(t, env.srv.Hits("/api/users/me"))

	_, err = env.storedSession(t)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDashboardCmd_SharesOneRefresh(t *testing.T) {
	env := setupCLI(t)
	env.login(t)
	env.srv.ExpireAccessTokens()

	out, _, err := runCLI(t, "", "dashboard")
	require.NoError(t, err)

	assert.Equal(t, 1, env.srv.RefreshCalls())
	for _, want := range []string{"Profile", "Wallets", "Active Loan", "Loan Eligibility", "Contribution", "500000"} {
		assert.Contains(t, out, want)
	}

	s, err := env.storedSession(t)
	require.NoError(t, err)
	assert.Equal(t, session.OnboardingCompleted, s.OnboardingStatus)
}

func TestDashboardCmd_RefreshRejected(t *testing.T) {
	env := setupCLI(t)
	env.login(t)
	env.srv.ExpireAccessTokens()
	env.srv.RevokeRefreshTokens()

	_, _, err := runCLI(t, "", "dashboard")
	require.Error(t, err)
	assert.Equal(t, apiclient.MsgUnauthorized, err.Error())
	assert.Equal(t, output.ExitAuthError, ExitCode(err))

	out, _, err := runCLI(t, "", "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
	assert.Contains(t, out, "Last error: "+apiclient.MsgUnauthorized)
}

func TestSessionCmds(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	out, _, err := runCLI(t, "", "session", "show", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, true, info["loggedIn"])
	assert.Equal(t, mockapi.UserID, info["subject"])
	assert.Equal(t, "ready", info["nextStep"])
	assert.Equal(t, false, info["idleExpired"])

	before, err := env.storedSession(t)
	require.NoError(t, err)

	out, _, err = runCLI(t, "", "session", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Access token refreshed")
	assert.Equal(t, 1, env.srv.RefreshCalls())

	after, err := env.storedSession(t)
	require.NoError(t, err)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	assert.Equal(t, before.LoginTime, after.LoginTime)
}

func TestLogoutCmd(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	out, _, err := runCLI(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	_, err = env.storedSession(t)
	assert.ErrorIs(t, err, session.ErrNotFound)

	out, _, err = runCLI(t, "", "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
	assert.NotContains(t, out, "Last error")
}

func TestLoansCmd(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	out, _, err := runCLI(t, "", "loans")
	require.NoError(t, err)
	assert.Contains(t, out, "la-1")
	assert.Contains(t, out, "lh-1")
	assert.Contains(t, out, "[Pending]")
}

func TestNotificationsCmd(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	out, _, err := runCLI(t, "", "notifications", "--page", "1", "--size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "n-1")
	assert.Contains(t, out, "n-2")
	assert.NotContains(t, out, "n-3")
	assert.Contains(t, out, "page 1, total 3")
}

func TestUploadCmd(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	path := filepath.Join(env.dir, "passport.PNG")
	require.NoError(t, os.WriteFile(path, []byte("fake png bytes"), 0o600))

	out, _, err := runCLI(t, "", "upload", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded passport.PNG")

	uploads := env.srv.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "image/png", uploads[0].ContentType)
	assert.Equal(t, len("fake png bytes"), uploads[0].Size)
}

func TestUploadCmd_TooLarge(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	path := filepath.Join(env.dir, "big.pdf")
	require.NoError(t, os.WriteFile(path, make([]byte, maxDocumentSize+1), 0o600))

	_, _, err := runCLI(t, "", "upload", path)
	require.Error(t, err)
	assert.Equal(t, "File size must not exceed 5MB", err.Error())
	assert.Empty(t, env.srv.Uploads())
}

func TestDocumentContentType(t *testing.T) {
	tests := map[string]string{
		"a.jpg":  "image/jpeg",
		"a.JPEG": "image/jpeg",
		"a.png":  "image/png",
		"a.pdf":  "application/pdf",
		"a.docx": "application/octet-stream",
		"noext":  "application/octet-stream",
	}
	for name, want := range tests {
		assert.Equal(t, want, documentContentType(name), name)
	}
}

func TestRequestCmd(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	out, _, err := runCLI(t, "", "request", "users", "--extra", "me", "--auth")
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	assert.Equal(t, 200.0, fields["status"])
	assert.Equal(t, "GET", fields["method"])

	out, _, err = runCLI(t, "", "request", "notifications", "--auth", "-q", "PageNumber=2", "-q", "PageSize=2")
	require.NoError(t, err)
	assert.Contains(t, out, "n-3")

	out, _, err = runCLI(t, "", "request", "loanapplications/create", "-X", "POST", "--auth", "-d", `{"amount":50000}`)
	require.NoError(t, err)
	assert.Contains(t, out, "la-new")
}

func TestRequestCmd_RawErrorAndDownload(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	out, _, err := runCLI(t, "", "request", "auth/login", "-X", "POST", "-d", `{"email":"x@example.com","password":"y"}`, "--raw-error")
	require.NoError(t, err)
	assert.Contains(t, out, "Invalid email or password.")
	assert.Contains(t, out, `"status": 401`)

	target := filepath.Join(env.dir, "report.pdf")
	_, _, err = runCLI(t, "", "request", "utility/download", "--param", "report.pdf", "--auth", "-o", target)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "file:report.pdf", string(data))
}

func TestRequestCmd_BadInput(t *testing.T) {
	setupCLI(t)

	_, _, err := runCLI(t, "", "request", "users", "-q", "novalue")
	assert.Equal(t, output.ExitUsageError, ExitCode(err))

	_, _, err = runCLI(t, "", "request", "users", "-d", "{bad")
	assert.Equal(t, output.ExitUsageError, ExitCode(err))

	_, _, err = runCLI(t, "", "request", "users", "-X", "TRACE")
	assert.ErrorIs(t, err, apiclient.ErrInvalidMethod)
}

func TestConfigCmd(t *testing.T) {
	env := setupCLI(t)

	out, _, err := runCLI(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, env.srv.URL())
	assert.Contains(t, out, "loanapplications")

	out, _, err = runCLI(t, "", "config", "--path")
	require.NoError(t, err)
	assert.Contains(t, out, "No config file found")
}

func TestShowMetrics(t *testing.T) {
	env := setupCLI(t)
	env.login(t)

	_, errOut, err := runCLI(t, "", "me", "--show-metrics")
	require.NoError(t, err)
	assert.Contains(t, errOut, "cfmctl_api_requests_total")
}

func TestMissingBaseURL(t *testing.T) {
	setupCLI(t)
	t.Setenv("CFMCTL_API_BASE_URL", "")

	_, _, err := runCLI(t, "", "me")
	require.Error(t, err)
	assert.Equal(t, output.ExitConfigError, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, output.ExitSuccess, ExitCode(nil))
	assert.Equal(t, output.ExitGeneral, ExitCode(errors.New("boom")))
	assert.Equal(t, output.ExitNetworkError, ExitCode(apiclient.Normalize(apiclient.Failure{Err: errors.New("dial")})))
	assert.Equal(t, output.ExitAuthError, ExitCode(apiclient.Normalize(apiclient.Failure{StatusCode: 403})))
	assert.Equal(t, output.ExitAuthError, ExitCode(refresh.ErrRefreshFailed))
	assert.Equal(t, output.ExitConfigError, ExitCode(&output.CLIError{ExitCode: output.ExitConfigError}))
}

func TestRequestCmd_RawErrorEndsRejectedSession(t *testing.T) {
	env := setupCLI(t)
	env.login(t)
	env.srv.ExpireAccessTokens()
	env.srv.RevokeRefreshTokens()

	out, _, err := runCLI(t, "", "request", "users/me", "--auth", "--raw-error")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": 401`)

	_, err = env.storedSession(t)
	assert.ErrorIs(t, err, session.ErrNotFound)

	out, _, err = runCLI(t, "", "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Last error: "+apiclient.MsgUnauthorized)
}

func TestReportError(t *testing.T) {
	setupCLI(t)

	a := newApp()
	root := a.rootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"--color", "never", "me"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)

	a.reportError(&errOut, err)
	assert.Contains(t, errOut.String(), "Error: not logged in")
	assert.Contains(t, errOut.String(), "Suggestion: run 'cfmctl login'")
}

func TestReportError_PlainError(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	newApp().reportError(&buf, errors.New("boom"))
	assert.Equal(t, "Error: boom\n", buf.String())
}
