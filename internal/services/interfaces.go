package services

import (
	"context"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/platform/storage"
)

// ImageRenderer turns a prompt plus input images into one output image. A nil image with a
// nil error means the model answered without an image.
type ImageRenderer interface {
	Render(ctx context.Context, prompt string, images ...domain.Image) (*domain.Image, error)
	Model() string
}

// AssetUploader persists bytes and never fails past its boundary; failures live in the result.
type AssetUploader interface {
	Enabled() bool
	Upload(ctx context.Context, asset storage.Asset) storage.UploadResult
}

// IdentityService owns session creation and the email gate.
type IdentityService interface {
	Begin(ctx context.Context) (domain.SessionState, error)
	Load(ctx context.Context, sessionID string) (domain.SessionState, error)
	Unlock(ctx context.Context, sessionID, rawEmail string) (domain.SessionState, error)
}

// GenerationService runs one credit-consuming generation.
type GenerationService interface {
	Generate(ctx context.Context, cmd GenerateCommand) (GenerateResult, error)
}

// StorefrontService builds the purchase view from session state. It never mutates state.
type StorefrontService interface {
	Present(state domain.SessionState) StorefrontView
	ResolveCartURL(state domain.SessionState, product, option string) (string, error)
	CreditPackURL(state domain.SessionState) string
}

// GenerateCommand carries the uploaded sketch for a session.
type GenerateCommand struct {
	SessionID string
	FileName  string
	Sketch    domain.Image
}

// GenerateResult is the stored outcome of a generation.
type GenerateResult struct {
	Pair        domain.GeneratedPair
	DesignRef   string
	CreditsLeft int
	Incomplete  bool
	SketchURL   string
}
