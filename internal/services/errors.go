package services

import (
	"errors"
	"fmt"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
)

var (
	// ErrInvalidEmail indicates the gate input lacks "@" or ".".
	ErrInvalidEmail = &ValidationError{Field: "email", Reason: "please enter a valid email address"}
	// ErrUnauthenticated indicates the session has not passed the identity gate.
	ErrUnauthenticated = errors.New("portal: session is not unlocked")
	// ErrNoCredits indicates the session has no generations left.
	ErrNoCredits = errors.New("portal: no credits remaining")
	// ErrInvalidUpload indicates the sketch is missing, too large, or of an unsupported type.
	ErrInvalidUpload = errors.New("portal: invalid upload")
	// ErrSessionNotFound indicates the session expired or never existed.
	ErrSessionNotFound = errors.New("portal: session not found")
	// ErrUnknownVariant indicates a product or option outside the catalog.
	ErrUnknownVariant = errors.New("portal: unknown product option")
)

// ValidationError reports user input that was rejected without changing any state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("portal: invalid %s: %s", e.Field, e.Reason)
}

// Is matches any ValidationError for the same field.
func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	if !errors.As(target, &other) {
		return false
	}
	return other.Field == e.Field
}

// GenerationMessage is the only text shown to a user when a generation fails.
const GenerationMessage = "Something went wrong while creating your toys. Please try again."

// GenerationError wraps a failure from the model call or the steps that follow it. The
// consumed credit stays consumed.
type GenerationError struct {
	Variant     domain.Variant
	DesignRef   string
	CreditsLeft int
	Err         error
}

func (e *GenerationError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("portal: generate %s for %s: %v", e.Variant, e.DesignRef, e.Err)
	}
	return fmt.Sprintf("portal: generate %s: %v", e.DesignRef, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
