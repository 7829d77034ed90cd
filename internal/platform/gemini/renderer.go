// Package gemini renders product photographs from sketches with the Gemini image model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
)

// DefaultModel is the image model used when none is configured.
const DefaultModel = "gemini-3-pro-image-preview"

// blockNone turns off every adjustable safety filter.
var blockNone = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// Config configures the renderer.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Logger  *zap.Logger
}

// Renderer calls GenerateContent once per render.
type Renderer struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewRenderer builds a Gemini API client. BaseURL overrides the endpoint.
func NewRenderer(ctx context.Context, cfg Config) (*Renderer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{client: client, model: model, logger: logger}, nil
}

// Model returns the configured model name.
func (r *Renderer) Model() string { return r.model }

// Render sends the prompt followed by the given images and returns the first inline image of
// the first candidate. A nil image with a nil error means the model answered without an image.
func (r *Renderer) Render(ctx context.Context, prompt string, images ...domain.Image) (*domain.Image, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	for _, img := range images {
		if img.Empty() {
			continue
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}

	resp, err := r.client.Models.GenerateContent(ctx, r.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{SafetySettings: blockNone},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	img := firstInlineImage(resp)
	if img == nil {
		r.logger.Warn("gemini: response contained no image", zap.String("model", r.model), zap.String("finish_reason", finishReason(resp)))
	}
	return img, nil
}

func firstInlineImage(resp *genai.GenerateContentResponse) *domain.Image {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil
	}
	for _, part := range candidate.Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return &domain.Image{Data: part.InlineData.Data, MIMEType: mime}
	}
	return nil
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}
