package services

import (
	"strings"
	"testing"
	"time"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
)

func TestSafeEmail(t *testing.T) {
	tests := map[string]string{
		"a@b.c":                 "a_at_b.c",
		"Mom+Kids@Example.co":   "Mom_Kids_at_Example.co",
		"first last@x.org":      "first_last_at_x.org",
		"ünïcode@mail.de":       "_n_code_at_mail.de",
		"":                      "anonymous",
		"../../etc@passwd.test": ".._.._etc_at_passwd.test",
	}
	for in, want := range tests {
		if got := SafeEmail(in); got != want {
			t.Errorf("SafeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDesignRefsAreDistinctWithinOneSecond(t *testing.T) {
	gen := NewDesignRefGenerator()
	at := time.Date(2025, 6, 1, 10, 30, 45, 0, time.UTC)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ref, err := gen.New("a@b.c", at)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if !strings.HasPrefix(ref, "a_at_b.c_20250601_103045_") {
			t.Fatalf("unexpected ref %q", ref)
		}
		if suffix := ref[strings.LastIndex(ref, "_")+1:]; len(suffix) != designRefSuffixLen {
			t.Fatalf("unexpected suffix %q", suffix)
		}
		if seen[ref] {
			t.Fatalf("duplicate ref %q", ref)
		}
		seen[ref] = true
	}
}

func TestDesignRefUsesUTC(t *testing.T) {
	gen := NewDesignRefGenerator()
	at := time.Date(2025, 6, 1, 19, 0, 0, 0, time.FixedZone("JST", 9*3600))
	ref, err := gen.New("a@b.c", at)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.Contains(ref, "_20250601_100000_") {
		t.Fatalf("expected UTC timestamp in %q", ref)
	}
}

func TestObjectNames(t *testing.T) {
	ref := "a_at_b.c_20250601_103045_ABCDEFGH"
	if got := SketchObjectName(ref, "image/jpg"); got != ref+"_SKETCH.jpg" {
		t.Fatalf("sketch name = %q", got)
	}
	if got := RenderObjectName(ref, domain.VariantColor, "image/png"); got != ref+"_COLOR.png" {
		t.Fatalf("color name = %q", got)
	}
	if got := RenderObjectName(ref, domain.VariantWhite, ""); got != ref+"_WHITE.jpg" {
		t.Fatalf("white name = %q", got)
	}
}

func TestPrompts(t *testing.T) {
	color := Prompt(domain.VariantColor, false)
	white := Prompt(domain.VariantWhite, true)
	if color == "" || white == "" || color == white {
		t.Fatal("expected two distinct prompts")
	}
	if strings.Contains(color, brandingInstruction) || !strings.HasSuffix(white, brandingInstruction) {
		t.Fatal("branding instruction placement is wrong")
	}
	if Prompt(domain.Variant("gold"), true) != "" {
		t.Fatal("unknown variant must have no prompt")
	}
}
