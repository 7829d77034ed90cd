package services

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
)

const designRefSuffixLen = 8

// DesignRefGenerator derives design references of the form
// <sanitized email>_<YYYYmmdd_HHMMSS>_<suffix>. References from one generator never repeat.
type DesignRefGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    string
}

// NewDesignRefGenerator returns a generator seeded from crypto/rand.
func NewDesignRefGenerator() *DesignRefGenerator {
	return &DesignRefGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a reference for email at the given time.
func (g *DesignRefGenerator) New(email string, at time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	at = at.UTC()
	prefix := SafeEmail(email) + "_" + at.Format("20060102_150405") + "_"
	for {
		id, err := ulid.New(ulid.Timestamp(at), g.entropy)
		if err != nil {
			return "", fmt.Errorf("design ref: %w", err)
		}
		s := id.String()
		ref := prefix + s[len(s)-designRefSuffixLen:]
		if ref != g.last {
			g.last = ref
			return ref, nil
		}
	}
}

// SafeEmail replaces "@" with "_at_" and every character outside [A-Za-z0-9._-] with "_".
func SafeEmail(email string) string {
	email = strings.ReplaceAll(strings.TrimSpace(email), "@", "_at_")
	var b strings.Builder
	b.Grow(len(email))
	for _, r := range email {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}

// SketchObjectName names the persisted upload for ref.
func SketchObjectName(ref, mimeType string) string {
	return ref + "_SKETCH" + extensionFor(mimeType)
}

// RenderObjectName names the persisted render of v for ref.
func RenderObjectName(ref string, v domain.Variant, mimeType string) string {
	return ref + "_" + strings.ToUpper(string(v)) + extensionFor(mimeType)
}

func extensionFor(mimeType string) string {
	switch normalizeMIME(mimeType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func normalizeMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" || mimeType == "image/pjpeg" {
		return "image/jpeg"
	}
	return mimeType
}
