// Package testutil holds helpers for HTTP-level tests of the portal.
package testutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

// ParseHTML parses body into a goquery document.
func ParseHTML(t testing.TB, body []byte) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

// Page reads the landmarks every portal page shares.
type Page struct {
	*goquery.Document
}

// ParsePage parses a rendered portal page.
func ParsePage(t testing.TB, body []byte) Page {
	t.Helper()
	return Page{Document: ParseHTML(t, body)}
}

// CSRFToken is the token the layout publishes in its csrf-token meta tag.
func (p Page) CSRFToken() string {
	token, _ := p.Find(`meta[name="csrf-token"]`).Attr("content")
	return token
}

// IsGate reports whether the email gate was rendered instead of the portal.
func (p Page) IsGate() bool {
	return p.Find("#gate").Length() > 0
}

// Credits is the remaining-credit counter of the status line, or "" on the gate.
func (p Page) Credits() string {
	return strings.TrimSpace(p.Find("#credits").Text())
}

// Flashes returns the trimmed messages of one flash kind (success, warning or error).
func (p Page) Flashes(kind string) []string {
	var out []string
	p.Find(".flash-" + kind).Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}
