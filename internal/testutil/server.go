package testutil

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/handlers"
	"github.com/ebadeco/rainbow-form-app/internal/platform/session"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
	"github.com/ebadeco/rainbow-form-app/internal/repositories/memory"
	"github.com/ebadeco/rainbow-form-app/internal/services"
)

const maxUploadBytes = 1 << 20

// PNG is a minimal payload that sniffs as image/png.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRtest")

// FakeRenderer answers every prompt with a PNG tagged with its variant unless told to fail or
// to return nothing.
type FakeRenderer struct {
	mu    sync.Mutex
	err   error
	empty bool
	calls int
}

// Fail makes every later call return err.
func (r *FakeRenderer) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// ReturnNoImage makes every later call answer without an image.
func (r *FakeRenderer) ReturnNoImage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.empty = true
}

// Model names the fake model.
func (r *FakeRenderer) Model() string { return "fake-image-model" }

// Render records the call and returns a canned image.
func (r *FakeRenderer) Render(_ context.Context, prompt string, _ ...domain.Image) (*domain.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.empty {
		return nil, nil
	}
	data := append([]byte{}, PNG...)
	if strings.Contains(prompt, "Color Me") {
		data = append(data, "white"...)
	} else {
		data = append(data, "color"...)
	}
	return &domain.Image{Data: data, MIMEType: "image/png"}, nil
}

// Calls reports how many model calls were made.
func (r *FakeRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type serverConfig struct {
	initialCredits int
	logo           []byte
	checks         []repositories.DependencyCheck
}

// ServerOption customises the test server.
type ServerOption func(*serverConfig)

// WithInitialCredits overrides the credits granted to new sessions.
func WithInitialCredits(n int) ServerOption {
	return func(cfg *serverConfig) { cfg.initialCredits = n }
}

// WithLogo sets the branding image.
func WithLogo(logo []byte) ServerOption {
	return func(cfg *serverConfig) { cfg.logo = logo }
}

// WithDependencyCheck adds a readiness probe.
func WithDependencyCheck(check repositories.DependencyCheck) ServerOption {
	return func(cfg *serverConfig) { cfg.checks = append(cfg.checks, check) }
}

// Server is a running portal with in-memory state and a cookie-aware client that does not
// follow redirects.
type Server struct {
	*httptest.Server
	Sessions *memory.SessionRepository
	Renderer *FakeRenderer
	Client   *http.Client
}

// NewServer constructs an httptest server running the portal HTTP stack.
func NewServer(t testing.TB, opts ...ServerOption) *Server {
	t.Helper()

	cfg := serverConfig{initialCredits: 3}
	for _, opt := range opts {
		opt(&cfg)
	}

	repo := memory.NewSessionRepository(time.Hour)
	renderer := &FakeRenderer{}

	identity, err := services.NewIdentityService(services.IdentityServiceDeps{Sessions: repo, InitialCredits: cfg.initialCredits})
	require.NoError(t, err)
	generation, err := services.NewGenerationService(services.GenerationServiceDeps{Sessions: repo, Renderer: renderer, MaxUploadBytes: maxUploadBytes})
	require.NoError(t, err)
	storefront, err := services.NewStorefrontService(services.StorefrontServiceDeps{DesignRefEnabled: true, InitialCredits: cfg.initialCredits})
	require.NoError(t, err)
	manager, err := session.NewManager(session.Config{
		CookieName: "rf_session",
		HashKey:    []byte("0123456789abcdef0123456789abcdef"),
		BlockKey:   []byte("fedcba9876543210fedcba9876543210"),
	})
	require.NoError(t, err)

	portal, err := handlers.NewPortalHandlers(handlers.PortalDeps{
		Identity:       identity,
		Generation:     generation,
		Storefront:     storefront,
		Sessions:       manager,
		Logo:           cfg.logo,
		MaxUploadBytes: maxUploadBytes,
	})
	require.NoError(t, err)

	checker, err := repositories.NewHealthChecker(cfg.checks...)
	require.NoError(t, err)

	router := handlers.NewRouter(
		handlers.WithPortal(portal),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(checker)),
	)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Server{Server: ts, Sessions: repo, Renderer: renderer, Client: client}
}

// Do sends req with the server's client and returns the response and its body.
func (s *Server) Do(t testing.TB, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

// Get fetches path.
func (s *Server) Get(t testing.TB, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	return s.Do(t, req)
}

// CSRFToken loads the home page and returns the token from its meta tag.
func (s *Server) CSRFToken(t testing.TB) string {
	t.Helper()
	resp, body := s.Get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := ParsePage(t, body).CSRFToken()
	require.NotEmpty(t, token)
	return token
}

// PostForm submits form values to path including the CSRF token.
func (s *Server) PostForm(t testing.TB, path string, values url.Values, token string) (*http.Response, []byte) {
	t.Helper()
	if values == nil {
		values = url.Values{}
	}
	if token != "" {
		values.Set(session.CSRFField, token)
	}
	req, err := http.NewRequest(http.MethodPost, s.URL+path, strings.NewReader(values.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.Do(t, req)
}

// Unlock passes the gate with email and returns the session's CSRF token.
func (s *Server) Unlock(t testing.TB, email string) string {
	t.Helper()
	token := s.CSRFToken(t)
	resp, _ := s.PostForm(t, "/unlock", url.Values{"email": {email}}, token)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	return token
}

// Upload posts a multipart sketch to path.
func (s *Server) Upload(t testing.TB, path, fileName, contentType string, data []byte, token string, header bool) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if !header {
		require.NoError(t, mw.WriteField(session.CSRFField, token))
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="sketch"; filename="` + fileName + `"`},
		"Content-Type":        {contentType},
	})
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if header {
		req.Header.Set(session.CSRFHeader, token)
	}
	return s.Do(t, req)
}
