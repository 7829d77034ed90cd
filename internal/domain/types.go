package domain

import "time"

// Variant identifies one of the two rendered products.
type Variant string

const (
	VariantColor Variant = "color"
	VariantWhite Variant = "white"
)

// Variants lists the products in display order.
var Variants = []Variant{VariantColor, VariantWhite}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantColor || v == VariantWhite
}

// Image is raw image bytes with their MIME type.
type Image struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Empty reports whether the image carries no bytes.
func (i Image) Empty() bool { return len(i.Data) == 0 }

// Artifact is one rendered product photograph and where it was persisted, if anywhere.
type Artifact struct {
	Image
	ObjectID    string `json:"objectId,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// GeneratedPair holds the color and white renders of a single generation. A nil slot means
// the model returned no image for that variant.
type GeneratedPair struct {
	Color *Artifact `json:"color,omitempty"`
	White *Artifact `json:"white,omitempty"`
}

// Slot returns the artifact for v.
func (p *GeneratedPair) Slot(v Variant) *Artifact {
	if p == nil {
		return nil
	}
	switch v {
	case VariantColor:
		return p.Color
	case VariantWhite:
		return p.White
	}
	return nil
}

// Empty reports whether neither slot has an image.
func (p *GeneratedPair) Empty() bool {
	return p == nil || (p.Color == nil && p.White == nil)
}

// SessionState is the per-visitor portal state kept server side.
type SessionState struct {
	ID        string         `json:"id"`
	Email     string         `json:"email,omitempty"`
	Credits   int            `json:"credits"`
	Pair      *GeneratedPair `json:"pair,omitempty"`
	DesignRef string         `json:"designRef,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Authenticated reports whether the identity gate has been passed.
func (s SessionState) Authenticated() bool { return s.Email != "" }

// GenerationOutcome classifies a finished generation attempt.
type GenerationOutcome string

const (
	OutcomeSucceeded  GenerationOutcome = "succeeded"
	OutcomeIncomplete GenerationOutcome = "incomplete"
	OutcomeFailed     GenerationOutcome = "failed"
)

// GenerationRecord is the audit row written for each attempt that consumed a credit.
type GenerationRecord struct {
	DesignRef    string            `firestore:"designRef" json:"designRef"`
	SessionID    string            `firestore:"sessionId" json:"sessionId"`
	Email        string            `firestore:"email" json:"email"`
	Model        string            `firestore:"model" json:"model"`
	SketchObject string            `firestore:"sketchObject,omitempty" json:"sketchObject,omitempty"`
	ColorObject  string            `firestore:"colorObject,omitempty" json:"colorObject,omitempty"`
	WhiteObject  string            `firestore:"whiteObject,omitempty" json:"whiteObject,omitempty"`
	ColorPresent bool              `firestore:"colorPresent" json:"colorPresent"`
	WhitePresent bool              `firestore:"whitePresent" json:"whitePresent"`
	Outcome      GenerationOutcome `firestore:"outcome" json:"outcome"`
	Error        string            `firestore:"error,omitempty" json:"error,omitempty"`
	CreditsLeft  int               `firestore:"creditsLeft" json:"creditsLeft"`
	CreatedAt    time.Time         `firestore:"createdAt" json:"createdAt"`
}

// Clone returns a copy that shares no mutable pointers with s. Image bytes are shared; they
// are never modified after creation.
func (s SessionState) Clone() SessionState {
	if s.Pair != nil {
		pair := GeneratedPair{}
		if s.Pair.Color != nil {
			color := *s.Pair.Color
			pair.Color = &color
		}
		if s.Pair.White != nil {
			white := *s.Pair.White
			pair.White = &white
		}
		s.Pair = &pair
	}
	return s
}
