package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/genai"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
)

type recordedRequest struct {
	path   string
	apiKey string
	body   string
}

func newModelServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, recordedRequest{path: r.URL.Path, apiKey: r.Header.Get("x-goog-api-key"), body: string(body)})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func imageResponse(data []byte) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":"here you go"},{"inlineData":{"mimeType":"image/jpeg","data":%q}}]},"finishReason":"STOP"}]}`,
		base64.StdEncoding.EncodeToString(data))
}

func TestRenderReturnsFirstInlineImage(t *testing.T) {
	srv, requests := newModelServer(t, http.StatusOK, imageResponse([]byte("jpeg-bytes")))
	renderer, err := NewRenderer(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	img, err := renderer.Render(context.Background(), "Turn this drawing into a toy",
		domain.Image{Data: []byte("sketch"), MIMEType: "image/png"},
		domain.Image{Data: []byte("logo"), MIMEType: "image/png"},
		domain.Image{},
	)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img == nil || string(img.Data) != "jpeg-bytes" || img.MIMEType != "image/jpeg" {
		t.Fatalf("unexpected image %+v", img)
	}

	if len(*requests) != 1 {
		t.Fatalf("expected one request, got %d", len(*requests))
	}
	req := (*requests)[0]
	if !strings.HasSuffix(req.path, "models/"+DefaultModel+":generateContent") {
		t.Errorf("unexpected path %q", req.path)
	}
	if req.apiKey != "test-key" {
		t.Errorf("api key header = %q", req.apiKey)
	}
	if n := strings.Count(req.body, "inlineData"); n != 2 {
		t.Errorf("expected sketch and logo parts, found %d inline parts in %s", n, req.body)
	}
	for _, want := range []string{"BLOCK_NONE", "HARM_CATEGORY_HARASSMENT", "HARM_CATEGORY_HATE_SPEECH", "HARM_CATEGORY_SEXUALLY_EXPLICIT", "HARM_CATEGORY_DANGEROUS_CONTENT"} {
		if !strings.Contains(req.body, want) {
			t.Errorf("request body missing %s", want)
		}
	}
}

func TestRenderWithoutImageReturnsNil(t *testing.T) {
	srv, _ := newModelServer(t, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"I cannot draw that"}]},"finishReason":"STOP"}]}`)
	renderer, err := NewRenderer(context.Background(), Config{APIKey: "k", BaseURL: srv.URL, Model: "custom-model"})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	img, err := renderer.Render(context.Background(), "prompt", domain.Image{Data: []byte("s"), MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img != nil {
		t.Fatalf("expected nil image, got %+v", img)
	}
	if renderer.Model() != "custom-model" {
		t.Fatalf("model = %q", renderer.Model())
	}
}

func TestRenderPropagatesAPIErrors(t *testing.T) {
	srv, _ := newModelServer(t, http.StatusBadRequest, `{"error":{"code":400,"message":"bad image","status":"INVALID_ARGUMENT"}}`)
	renderer, err := NewRenderer(context.Background(), Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	if _, err := renderer.Render(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewRendererRequiresAPIKey(t *testing.T) {
	if _, err := NewRenderer(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestFirstInlineImage(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		want string
	}{
		{name: "nil response"},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}},
		{name: "nil content", resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}},
		{
			name: "skips text and empty blobs",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
				genai.NewPartFromText("caption"),
				{InlineData: &genai.Blob{}},
				genai.NewPartFromBytes([]byte("second"), ""),
			}}}}},
			want: "second",
		},
		{
			name: "ignores later candidates",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText("none")}}},
				{Content: &genai.Content{Parts: []*genai.Part{genai.NewPartFromBytes([]byte("x"), "image/png")}}},
			}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := firstInlineImage(tc.resp)
			if tc.want == "" {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil || string(got.Data) != tc.want || got.MIMEType != "image/png" {
				t.Fatalf("unexpected image %+v", got)
			}
		})
	}
}
