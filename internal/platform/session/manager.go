// Package session encodes the portal session cookie. The cookie only carries the session id and
// its CSRF token; portal state lives in a repository keyed by that id.
package session

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	defaultCookieName = "rf_session"
	defaultCookiePath = "/"
	defaultLifetime   = 24 * time.Hour

	// CSRFHeader and CSRFField are where unsafe requests submit the token.
	CSRFHeader = "X-CSRF-Token"
	CSRFField  = "csrf_token"
)

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

// Ticket is the signed cookie payload.
type Ticket struct {
	ID        string    `json:"id"`
	CSRFToken string    `json:"csrf"`
	IssuedAt  time.Time `json:"iat"`
}

// Config controls cookie encoding and lifetime.
type Config struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookiePath   string
	CookieSecure bool
	Lifetime     time.Duration
	Now          func() time.Time
}

// Manager signs (and optionally encrypts) session tickets into cookies.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewManager constructs a Manager. The block key, when set, must be 16, 24 or 32 bytes.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	var blockKey []byte
	if len(cfg.BlockKey) > 0 {
		blockKey = cfg.BlockKey
	}
	codec := securecookie.New(cfg.HashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime.Seconds()))

	return &Manager{cfg: cfg, codec: codec, now: nowFn}, nil
}

// Load decodes the ticket from r. A missing, tampered or expired cookie reports false.
func (m *Manager) Load(r *http.Request) (Ticket, bool) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return Ticket{}, false
	}
	var ticket Ticket
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &ticket); err != nil {
		return Ticket{}, false
	}
	if ticket.ID == "" || ticket.CSRFToken == "" {
		return Ticket{}, false
	}
	return ticket, true
}

// Issue creates a ticket for a freshly created session.
func (m *Manager) Issue(id string) (Ticket, error) {
	token, err := generateToken(32)
	if err != nil {
		return Ticket{}, err
	}
	return Ticket{ID: id, CSRFToken: token, IssuedAt: m.now().UTC()}, nil
}

// Save writes ticket as the session cookie.
func (m *Manager) Save(w http.ResponseWriter, ticket Ticket) error {
	encoded, err := m.codec.Encode(m.cfg.CookieName, ticket)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		MaxAge:   int(m.cfg.Lifetime.Seconds()),
		Expires:  m.now().Add(m.cfg.Lifetime).UTC(),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy clears the session cookie.
func (m *Manager) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ValidCSRF reports whether r submitted the ticket's token in the header or the form field.
// Safe methods always pass.
func ValidCSRF(r *http.Request, ticket Ticket) bool {
	if !IsUnsafeMethod(r.Method) {
		return true
	}
	submitted := strings.TrimSpace(r.Header.Get(CSRFHeader))
	if submitted == "" {
		submitted = strings.TrimSpace(r.FormValue(CSRFField))
	}
	if submitted == "" || ticket.CSRFToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(ticket.CSRFToken)) == 1
}

// IsUnsafeMethod reports whether method can change server state.
func IsUnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

// KeyFromString turns a configured key into bytes. Base64 values are decoded; anything else is
// used verbatim.
func KeyFromString(value string) []byte {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(value); err == nil && len(decoded) >= 16 {
			return decoded
		}
	}
	return []byte(value)
}

// RandomKey returns n random bytes for deployments that did not configure a key.
func RandomKey(n int) []byte {
	return securecookie.GenerateRandomKey(n)
}

func generateToken(length int) (string, error) {
	key := securecookie.GenerateRandomKey(length)
	if key == nil {
		return "", errors.New("session: random source unavailable")
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}
