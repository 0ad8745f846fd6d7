package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/circlesfundme/cfmctl/internal/session"
)

// ErrRefreshRejected is returned when the backend answers the refresh call with a non-2xx status.
var ErrRefreshRejected = errors.New("refresh token rejected")

// Refresher exchanges an expired access token and a refresh token for a new session fragment.
type Refresher interface {
	Exchange(ctx context.Context, expiredToken, refreshToken string) (session.Fragment, error)
}

// HTTPRefresher calls the backend refresh-token endpoint.
type HTTPRefresher struct {
	url       string
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewHTTPRefresher creates a refresher posting to baseURL + "/" + path.
func NewHTTPRefresher(baseURL, path string, client *http.Client, userAgent string, logger *slog.Logger) *HTTPRefresher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRefresher{
		url:       strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}
}

type refreshRequest struct {
	ExpiredToken string `json:"expiredToken"`
	RefreshToken string `json:"refreshToken"`
}

// Exchange implements Refresher.
func (r *HTTPRefresher) Exchange(ctx context.Context, expiredToken, refreshToken string) (session.Fragment, error) {
	body, err := json.Marshal(refreshRequest{ExpiredToken: expiredToken, RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("Refresh endpoint rejected request",
			"status_code", resp.StatusCode,
			"refresh_token_prefix", session.TokenPrefix(refreshToken))
		return nil, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	return unwrapEnvelope(data)
}

// unwrapEnvelope returns the "data" object of a response, or the whole object
// when the response has no envelope.
func unwrapEnvelope(body []byte) (session.Fragment, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return session.ParseFragment(trimmed)
	}
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("refresh response data is not an object")
	}
	return session.ParseFragment(body)
}
