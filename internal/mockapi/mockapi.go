// Package mockapi runs an in-process fake of the CirclesFundMe backend for tests.
//
// It issues signed JWT access tokens, rotates refresh tokens on every refresh and
// rejects protected routes without a currently valid bearer token.
package mockapi

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Credentials accepted by the login route.
const (
	Email    = "ada@example.com"
	Password = "secret"
	UserID   = "user-1"
)

var signingKey = []byte("mockapi-signing-key")

// Server is a running fake backend.
type Server struct {
	srv *httptest.Server
	e   *echo.Echo

	mu            sync.Mutex
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	issued        int
	refreshCalls  int
	refreshDelay  time.Duration
	failRefresh   bool
	authHeaders   []string
	hits          map[string]int
	uploads       []Upload
}

// Upload records a received document.
type Upload struct {
	FileName    string
	ContentType string
	Size        int
}

// Cleaner is the part of testing.TB that New needs.
type Cleaner interface {
	Helper()
	Cleanup(func())
}

// New starts a fake backend that is closed when the test ends.
func New(tb Cleaner) *Server {
	tb.Helper()
	s := Start()
	tb.Cleanup(s.Close)
	return s
}

// Start runs a fake backend until Close is called.
func Start() *Server {
	s := &Server{
		e:             echo.New(),
		accessTokens:  make(map[string]bool),
		refreshTokens: make(map[string]bool),
		hits:          make(map[string]int),
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.routes()

	s.srv = httptest.NewServer(s.e)
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// URL returns the API base URL.
func (s *Server) URL() string {
	return s.srv.URL + "/api"
}

// Echo exposes the router so tests can add custom routes.
func (s *Server) Echo() *echo.Echo {
	return s.e
}

func (s *Server) routes() {
	s.e.Use(s.countHits)

	api := s.e.Group("/api")
	api.POST("/auth/login", s.login)
	api.POST("/auth/refresh-token", s.refreshToken)

	protected := api.Group("", s.requireBearer)
	protected.GET("/users/me", s.me)
	protected.GET("/financials/my-wallets", s.wallets)
	protected.GET("/financials/has-active-loan", s.hasActiveLoan)
	protected.GET("/users/my-eligible-loan", s.eligibleLoan)
	protected.GET("/loanapplications", s.loanApplications)
	protected.POST("/loanapplications/create", s.createLoanApplication)
	protected.GET("/users/my-loan-history", s.loanHistory)
	protected.GET("/notifications", s.notifications)
	protected.POST("/utility/upload-document", s.uploadDocument)
	protected.GET("/utility/download/:name", s.download)
}

// IssueSession mints a valid access/refresh token pair without going through login.
func (s *Server) IssueSession() (accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked()
}

func (s *Server) issueLocked() (string, string) {
	s.issued++
	now := time.Now()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   UserID,
		ID:        strconv.Itoa(s.issued),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
	}).SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("mockapi: sign token: %v", err))
	}
	refresh := fmt.Sprintf("refresh-%d", s.issued)

	s.accessTokens[access] = true
	s.refreshTokens[refresh] = true
	return access, refresh
}

// ExpireAccessTokens invalidates every issued access token.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.accessTokens)
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refreshTokens)
}

// FailRefresh makes the refresh route answer 500 while enabled.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRefreshDelay delays every refresh response.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// RefreshCalls returns how many times the refresh route was hit.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// Hits returns how many requests reached path (e.g. "/api/users/me").
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// AuthHeaders returns every Authorization header seen on protected routes.
func (s *Server) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeaders...)
}

// Uploads returns the received documents.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Protect wraps h with the bearer check used by the built-in protected routes.
func (s *Server) Protect(h echo.HandlerFunc) echo.HandlerFunc {
	return s.requireBearer(h)
}

func (s *Server) countHits(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.hits[c.Request().URL.Path]++
		s.mu.Unlock()
		return next(c)
	}
}

func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, _ := strings.CutPrefix(header, "Bearer ")

		s.mu.Lock()
		s.authHeaders = append(s.authHeaders, header)
		valid := token != "" && s.accessTokens[token]
		s.mu.Unlock()

		if !valid {
			return c.NoContent(http.StatusUnauthorized)
		}
		return next(c)
	}
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, map[string]any{
		"statusCode": "200",
		"isSuccess":  true,
		"data":       data,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"message": "Malformed request."})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"errors": map[string][]string{"": {"Email and password are required."}},
		})
	}
	if !strings.EqualFold(req.Email, Email) || req.Password != Password {
		return c.JSON(http.StatusUnauthorized, map[string]any{"title": "Invalid email or password."})
	}

	s.mu.Lock()
	access, refresh := s.issueLocked()
	s.mu.Unlock()

	return ok(c, map[string]any{
		"accessToken":      access,
		"refreshToken":     refresh,
		"onboardingStatus": "Completed",
		"firstName":        "Ada",
	})
}

type refreshRequest struct {
	ExpiredToken string `json:"expiredToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) refreshToken(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"message": "Malformed request."})
	}

	s.mu.Lock()
	s.refreshCalls++
	delay := s.refreshDelay
	fail := s.failRefresh
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return c.JSON(http.StatusInternalServerError, map[string]any{"message": "Refresh unavailable."})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.refreshTokens[req.RefreshToken] {
		return c.JSON(http.StatusUnauthorized, map[string]any{"detail": "Invalid refresh token."})
	}
	delete(s.refreshTokens, req.RefreshToken)
	access, refresh := s.issueLocked()

	return ok(c, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (s *Server) me(c echo.Context) error {
	return ok(c, map[string]any{
		"id":        UserID,
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"email":     Email,
	})
}

func (s *Server) wallets(c echo.Context) error {
	return ok(c, []map[string]any{
		{"id": "w-1", "title": "Contribution", "balance": 150000.0, "status": "Active"},
		{"id": "w-2", "title": "Loan", "balance": 0.0, "status": "Active"},
	})
}

func (s *Server) hasActiveLoan(c echo.Context) error {
	return ok(c, false)
}

func (s *Server) eligibleLoan(c echo.Context) error {
	return ok(c, map[string]any{"eligibleLoanAmount": 500000.0, "currency": "NGN"})
}

func (s *Server) loanApplications(c echo.Context) error {
	return ok(c, []map[string]any{
		{"id": "la-1", "amount": 200000.0, "status": "Pending", "createdDate": "2026-09-01T10:00:00Z"},
	})
}

func (s *Server) createLoanApplication(c echo.Context) error {
	var body map[string]any
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"message": "Malformed request."})
	}
	if _, ok := body["amount"]; !ok {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"errors": map[string][]string{"": {"Amount is required."}},
		})
	}
	body["id"] = "la-new"
	body["status"] = "Pending"
	return c.JSON(http.StatusCreated, map[string]any{"statusCode": "200", "isSuccess": true, "data": body})
}

func (s *Server) loanHistory(c echo.Context) error {
	return ok(c, []map[string]any{
		{"id": "lh-1", "amount": 100000.0, "status": "Repaid", "createdDate": "2025-03-01T10:00:00Z"},
	})
}

func (s *Server) notifications(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("PageNumber"))
	size, _ := strconv.Atoi(c.QueryParam("PageSize"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}

	const total = 3
	items := []map[string]any{}
	for i := (page-1)*size + 1; i <= min(page*size, total); i++ {
		items = append(items, map[string]any{
			"id":      fmt.Sprintf("n-%d", i),
			"title":   fmt.Sprintf("Notification %d", i),
			"isRead":  i%2 == 0,
			"created": "2026-10-01T09:00:00Z",
		})
	}
	return ok(c, map[string]any{
		"items":      items,
		"pageNumber": page,
		"pageSize":   size,
		"totalCount": total,
	})
}

func (s *Server) uploadDocument(c echo.Context) error {
	fh, err := c.FormFile("Document")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"errors": []string{"Document is required."}})
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	up := Upload{FileName: fh.Filename, ContentType: fh.Header.Get(echo.HeaderContentType), Size: len(data)}
	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	s.mu.Unlock()

	return ok(c, map[string]any{
		"fileName": up.FileName,
		"url":      "https://files.example.com/" + up.FileName,
		"size":     up.Size,
	})
}

func (s *Server) download(c echo.Context) error {
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, []byte("file:"+c.Param("name")))
}
