// ABOUTME: Session model persisted by the mobile client and the CLI as an opaque JSON blob
// ABOUTME: Known fields are typed; unknown fields survive read/modify/write untouched

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Store keys and defaults shared by every backend.
const (
	DefaultKey         = "data"
	ErrorKey           = "err"
	DefaultIdleTimeout = 15 * time.Minute
)

// OnboardingStatus mirrors the backend's onboarding state string.
type OnboardingStatus string

const (
	OnboardingInProgress OnboardingStatus = "InProgress"
	OnboardingCompleted  OnboardingStatus = "Completed"
)

// Step is where a caller should send the user next.
type Step string

const (
	StepLogin      Step = "login"
	StepOnboarding Step = "onboarding"
	StepKYC        Step = "kyc"
	StepReady      Step = "ready"
)

// ErrNoAccessToken is returned when a token is required but the session has none.
var ErrNoAccessToken = errors.New("session has no access token")

var knownKeys = []string{"accessToken", "refreshToken", "loginTime", "onboardingStatus", "isKycComplete"}

// Session is the persisted login state.
type Session struct {
	AccessToken      string           `json:"accessToken,omitempty"`
	RefreshToken     string           `json:"refreshToken,omitempty"`
	LoginTime        int64            `json:"loginTime,omitempty"` // epoch milliseconds
	OnboardingStatus OnboardingStatus `json:"onboardingStatus,omitempty"`
	IsKycComplete    bool             `json:"isKycComplete"`

	extra map[string]json.RawMessage
}

// UnmarshalJSON decodes the known fields and keeps everything else verbatim.
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownKeys {
		delete(raw, k)
	}

	*s = Session(p)
	if len(raw) > 0 {
		s.extra = raw
	}
	return nil
}

// MarshalJSON encodes the known fields plus any preserved unknown fields.
func (s Session) MarshalJSON() ([]byte, error) {
	type plain Session
	known, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return known, nil
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(known, &out); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// Parse decodes a stored session blob.
func Parse(blob string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// FromFragment builds a new session from a backend payload such as a login response.
func FromFragment(fragment Fragment) (*Session, error) {
	s := &Session{}
	if err := s.Merge(fragment); err != nil {
		return nil, err
	}
	return s, nil
}

// Merge overlays every key of fragment onto the session, keeping all other fields.
func (s *Session) Merge(fragment Fragment) error {
	base, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	combined := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &combined); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	maps.Copy(combined, fragment)

	data, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("encode merged session: %w", err)
	}

	var merged Session
	if err := json.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("decode merged session: %w", err)
	}
	*s = merged
	return nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.extra = maps.Clone(s.extra)
	return &c
}

// Extra returns a preserved field that is not part of the typed model.
func (s *Session) Extra(key string) (json.RawMessage, bool) {
	v, ok := s.extra[key]
	return v, ok
}

// HasToken reports whether an access token is present.
func (s *Session) HasToken() bool {
	return s != nil && s.AccessToken != ""
}

// LoginAt returns the login timestamp, or the zero time when unknown.
func (s *Session) LoginAt() time.Time {
	if s.LoginTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LoginTime)
}

// IdleExpired reports whether more than idle has passed since login.
// Sessions without a login time never expire this way.
func (s *Session) IdleExpired(now time.Time, idle time.Duration) bool {
	if s.LoginTime == 0 || idle <= 0 {
		return false
	}
	return now.Sub(s.LoginAt()) > idle
}

// NextStep gates a session the way the app's protected routes do.
func (s *Session) NextStep() Step {
	switch {
	case !s.HasToken():
		return StepLogin
	case s.OnboardingStatus == OnboardingInProgress:
		return StepOnboarding
	case !s.IsKycComplete:
		return StepKYC
	default:
		return StepReady
	}
}

// TokenClaims holds the few access-token claims the CLI displays.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// AccessTokenClaims decodes the access token without verifying its signature.
// The client never trusts these values; they are informational only.
func (s *Session) AccessTokenClaims() (*TokenClaims, error) {
	if !s.HasToken() {
		return nil, ErrNoAccessToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	out := &TokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}

// Fragment is a partial session payload returned by the backend.
type Fragment map[string]json.RawMessage

// ParseFragment decodes a JSON object into a fragment.
func ParseFragment(data []byte) (Fragment, error) {
	var f Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode session fragment: %w", err)
	}
	return f, nil
}

// AccessToken returns the fragment's access token, if it carries one.
func (f Fragment) AccessToken() string {
	return f.stringField("accessToken")
}

// RefreshToken returns the fragment's refresh token, if it carries one.
func (f Fragment) RefreshToken() string {
	return f.stringField("refreshToken")
}

func (f Fragment) stringField(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

// TokenPrefix returns a short, log-safe prefix of a token.
func TokenPrefix(token string) string {
	if token == "" {
		return "none"
	}
	return token[:min(8, len(token))] + "..."
}
