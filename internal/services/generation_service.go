package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/platform/observability"
	"github.com/ebadeco/rainbow-form-app/internal/platform/storage"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
)

const (
	// DefaultMaxUploadBytes caps the sketch size when no limit is configured.
	DefaultMaxUploadBytes = int64(10 * 1024 * 1024)

	generationMeterName        = "github.com/ebadeco/rainbow-form-app/internal/services"
	generationEventStarted     = "generation.started"
	generationEventUploadError = "generation.upload.failed"
	generationEventRenderEmpty = "generation.render.empty"
	generationEventFinished    = "generation.finished"
	generationEventLedgerError = "generation.ledger.failed"
)

var allowedSketchTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

// GenerationServiceDeps wires dependencies for the generation workflow. Branding is attached
// to both prompts when it carries bytes.
type GenerationServiceDeps struct {
	Sessions         repositories.SessionRepository
	Renderer         ImageRenderer
	Uploader         AssetUploader
	Ledger           repositories.GenerationLedger
	Refs             *DesignRefGenerator
	Branding         domain.Image
	PersistAssets    bool
	ConcurrentRender bool
	MaxUploadBytes   int64
	Meter            metric.Meter
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type generationService struct {
	sessions   repositories.SessionRepository
	renderer   ImageRenderer
	uploader   AssetUploader
	ledger     repositories.GenerationLedger
	refs       *DesignRefGenerator
	branding   domain.Image
	persist    bool
	concurrent bool
	maxUpload  int64
	attempts   metric.Int64Counter
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewGenerationService constructs the generation workflow.
func NewGenerationService(deps GenerationServiceDeps) (GenerationService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("generation service: session repository is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("generation service: renderer is required")
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = repositories.NopLedger{}
	}
	refs := deps.Refs
	if refs == nil {
		refs = NewDesignRefGenerator()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(generationMeterName)
	}
	attempts, err := meter.Int64Counter("portal.generation.attempts",
		metric.WithDescription("Generation attempts that consumed a credit, by outcome."))
	if err != nil {
		return nil, fmt.Errorf("generation service: create counter: %w", err)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	persist := deps.PersistAssets && deps.Uploader != nil && deps.Uploader.Enabled()

	return &generationService{
		sessions:   deps.Sessions,
		renderer:   deps.Renderer,
		uploader:   deps.Uploader,
		ledger:     ledger,
		refs:       refs,
		branding:   deps.Branding,
		persist:    persist,
		concurrent: deps.ConcurrentRender,
		maxUpload:  maxUpload,
		attempts:   attempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *generationService) Generate(ctx context.Context, cmd GenerateCommand) (GenerateResult, error) {
	sketch, err := s.validateSketch(cmd.Sketch)
	if err != nil {
		return GenerateResult{}, err
	}

	state, err := s.sessions.Update(ctx, cmd.SessionID, func(state *domain.SessionState) error {
		if !state.Authenticated() {
			return ErrUnauthenticated
		}
		if state.Credits <= 0 {
			return ErrNoCredits
		}
		state.Credits--
		return nil
	})
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return GenerateResult{}, ErrSessionNotFound
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrNoCredits):
		return GenerateResult{}, err
	case err != nil:
		return GenerateResult{}, fmt.Errorf("generation service: consume credit: %w", err)
	}

	startedAt := s.clock()
	record := domain.GenerationRecord{
		SessionID:   cmd.SessionID,
		Email:       state.Email,
		Model:       s.renderer.Model(),
		CreditsLeft: state.Credits,
		CreatedAt:   startedAt,
	}

	ref, err := s.refs.New(state.Email, startedAt)
	if err != nil {
		s.finish(ctx, record, domain.OutcomeFailed, err)
		return GenerateResult{}, &GenerationError{CreditsLeft: state.Credits, Err: err}
	}
	record.DesignRef = ref
	s.logger(ctx, generationEventStarted, map[string]any{
		"designRef":   ref,
		"sessionId":   observability.SanitizeSessionID(cmd.SessionID),
		"creditsLeft": state.Credits,
		"concurrent":  s.concurrent,
	})

	result := GenerateResult{DesignRef: ref, CreditsLeft: state.Credits}
	if s.persist {
		upload := s.upload(ctx, SketchObjectName(ref, sketch.MIMEType), sketch)
		if upload.Ok() {
			record.SketchObject = upload.ObjectID
			result.SketchURL = upload.DownloadURL
		}
	}

	pair, err := s.render(ctx, sketch)
	if err != nil {
		s.finish(ctx, record, domain.OutcomeFailed, err)
		genErr := &GenerationError{DesignRef: ref, CreditsLeft: state.Credits, Err: err}
		var variantErr *renderError
		if errors.As(err, &variantErr) {
			genErr.Variant = variantErr.variant
			genErr.Err = variantErr.err
		}
		return GenerateResult{}, genErr
	}

	for _, v := range domain.Variants {
		artifact := pair.Slot(v)
		if artifact == nil {
			continue
		}
		if s.persist {
			upload := s.upload(ctx, RenderObjectName(ref, v, artifact.MIMEType), artifact.Image)
			if upload.Ok() {
				artifact.ObjectID = upload.ObjectID
				artifact.DownloadURL = upload.DownloadURL
			}
		}
	}
	record.ColorPresent = pair.Color != nil
	record.WhitePresent = pair.White != nil
	if pair.Color != nil {
		record.ColorObject = pair.Color.ObjectID
	}
	if pair.White != nil {
		record.WhiteObject = pair.White.ObjectID
	}

	stored := pair
	updated, err := s.sessions.Update(ctx, cmd.SessionID, func(state *domain.SessionState) error {
		p := stored
		state.Pair = &p
		state.DesignRef = ref
		return nil
	})
	if err != nil {
		s.finish(ctx, record, domain.OutcomeFailed, err)
		return GenerateResult{}, &GenerationError{DesignRef: ref, CreditsLeft: state.Credits, Err: fmt.Errorf("store result: %w", err)}
	}

	outcome := domain.OutcomeSucceeded
	if pair.Empty() {
		outcome = domain.OutcomeIncomplete
		result.Incomplete = true
	}
	record.CreditsLeft = updated.Credits
	s.finish(ctx, record, outcome, nil)

	result.Pair = pair
	result.CreditsLeft = updated.Credits
	return result, nil
}

func (s *generationService) validateSketch(sketch domain.Image) (domain.Image, error) {
	if sketch.Empty() {
		return domain.Image{}, fmt.Errorf("%w: sketch is empty", ErrInvalidUpload)
	}
	if int64(len(sketch.Data)) > s.maxUpload {
		return domain.Image{}, fmt.Errorf("%w: sketch exceeds %d bytes", ErrInvalidUpload, s.maxUpload)
	}
	sniffed := normalizeMIME(http.DetectContentType(sketch.Data))
	if _, ok := allowedSketchTypes[sniffed]; !ok {
		return domain.Image{}, fmt.Errorf("%w: unsupported type %q", ErrInvalidUpload, sniffed)
	}
	// An undeclared type is taken from the content; a declared one must agree with it.
	declared := normalizeMIME(sketch.MIMEType)
	if declared != "" && declared != "application/octet-stream" && declared != sniffed {
		return domain.Image{}, fmt.Errorf("%w: declared %q but content is %q", ErrInvalidUpload, declared, sniffed)
	}
	return domain.Image{Data: sketch.Data, MIMEType: sniffed}, nil
}

type renderError struct {
	variant domain.Variant
	err     error
}

func (e *renderError) Error() string { return fmt.Sprintf("render %s: %v", e.variant, e.err) }
func (e *renderError) Unwrap() error { return e.err }

func (s *generationService) render(ctx context.Context, sketch domain.Image) (domain.GeneratedPair, error) {
	images := []domain.Image{sketch}
	withBranding := !s.branding.Empty()
	if withBranding {
		images = append(images, s.branding)
	}

	var pair domain.GeneratedPair
	renderOne := func(ctx context.Context, v domain.Variant) (*domain.Artifact, error) {
		img, err := s.renderer.Render(ctx, Prompt(v, withBranding), images...)
		if err != nil {
			return nil, &renderError{variant: v, err: err}
		}
		if img == nil || img.Empty() {
			s.logger(ctx, generationEventRenderEmpty, map[string]any{"variant": string(v)})
			return nil, nil
		}
		return &domain.Artifact{Image: *img}, nil
	}

	if !s.concurrent {
		var err error
		if pair.Color, err = renderOne(ctx, domain.VariantColor); err != nil {
			return domain.GeneratedPair{}, err
		}
		if pair.White, err = renderOne(ctx, domain.VariantWhite); err != nil {
			return domain.GeneratedPair{}, err
		}
		return pair, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		artifact, err := renderOne(gctx, domain.VariantColor)
		pair.Color = artifact
		return err
	})
	g.Go(func() error {
		artifact, err := renderOne(gctx, domain.VariantWhite)
		pair.White = artifact
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.GeneratedPair{}, err
	}
	return pair, nil
}

func (s *generationService) upload(ctx context.Context, name string, img domain.Image) storage.UploadResult {
	result := s.uploader.Upload(ctx, storage.Asset{Name: name, MIMEType: img.MIMEType, Data: img.Data})
	if !result.Ok() {
		fields := map[string]any{"object": name}
		if result.Err != nil {
			fields["error"] = result.Err.Error()
		}
		s.logger(ctx, generationEventUploadError, fields)
	}
	return result
}

func (s *generationService) finish(ctx context.Context, record domain.GenerationRecord, outcome domain.GenerationOutcome, cause error) {
	record.Outcome = outcome
	if cause != nil {
		record.Error = strings.TrimSpace(cause.Error())
	}
	s.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))

	fields := map[string]any{
		"designRef":    record.DesignRef,
		"outcome":      string(outcome),
		"colorPresent": record.ColorPresent,
		"whitePresent": record.WhitePresent,
		"creditsLeft":  record.CreditsLeft,
		"elapsedMs":    s.clock().Sub(record.CreatedAt).Milliseconds(),
	}
	if cause != nil {
		fields["error"] = record.Error
	}
	s.logger(ctx, generationEventFinished, fields)

	if record.DesignRef == "" {
		return
	}
	if err := s.ledger.Record(context.WithoutCancel(ctx), record); err != nil {
		s.logger(ctx, generationEventLedgerError, map[string]any{
			"designRef": record.DesignRef,
			"error":     err.Error(),
		})
	}
}
