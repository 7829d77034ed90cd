package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/handlers"
	"github.com/ebadeco/rainbow-form-app/internal/platform/config"
	"github.com/ebadeco/rainbow-form-app/internal/platform/credentials"
	"github.com/ebadeco/rainbow-form-app/internal/platform/gemini"
	"github.com/ebadeco/rainbow-form-app/internal/platform/observability"
	"github.com/ebadeco/rainbow-form-app/internal/platform/secrets"
	"github.com/ebadeco/rainbow-form-app/internal/platform/session"
	"github.com/ebadeco/rainbow-form-app/internal/platform/storage"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
	firestorerepo "github.com/ebadeco/rainbow-form-app/internal/repositories/firestore"
	"github.com/ebadeco/rainbow-form-app/internal/repositories/memory"
	redisrepo "github.com/ebadeco/rainbow-form-app/internal/repositories/redis"
	"github.com/ebadeco/rainbow-form-app/internal/services"
)

const sessionKeyBytes = 32

// loadSettings builds the secret fetcher from the raw environment, resolves the configuration
// through it and validates the credentials. The fetcher is closed before returning.
func loadSettings(ctx context.Context, logger *zap.Logger, opts ...config.Option) (config.Config, credentials.Credentials, error) {
	envValues, err := config.EnvironmentValues(opts...)
	if err != nil {
		return config.Config{}, credentials.Credentials{}, fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return config.Config{}, credentials.Credentials{}, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	loadOpts := append([]config.Option{}, opts...)
	loadOpts = append(loadOpts,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		return config.Config{}, credentials.Credentials{}, err
	}

	creds, err := credentials.Load(cfg)
	if err != nil {
		return config.Config{}, credentials.Credentials{}, err
	}
	return cfg, creds, nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("PORTAL_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	fallbackPath := lookup("PORTAL_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project := lookup("PORTAL_SECRET_DEFAULT_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if credentialsFile := lookup("GOOGLE_APPLICATION_CREDENTIALS"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames always requires the model key. Storage secrets are required unless
// asset persistence is switched off.
func requiredSecretNames(env map[string]string) []string {
	required := []string{config.SecretAIAPIKey}
	persist := true
	if raw := strings.TrimSpace(env["PORTAL_FEATURE_PERSIST_ASSETS"]); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			persist = parsed
		}
	}
	if persist {
		required = append(required, config.SecretStorageFolder, config.SecretStorageServiceAccount)
	}
	return required
}

type app struct {
	Handler http.Handler
	closers []func() error
}

// Close releases clients in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func buildApp(ctx context.Context, logger *zap.Logger, cfg config.Config, creds credentials.Credentials) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	renderer, err := gemini.NewRenderer(ctx, gemini.Config{
		APIKey:  creds.APIKey,
		Model:   cfg.AI.Model,
		BaseURL: cfg.AI.BaseURL,
		Logger:  logger.Named("gemini"),
	})
	if err != nil {
		return nil, err
	}

	var uploader services.AssetUploader
	if creds.StorageEnabled() {
		gcsClient, err := cloudstorage.NewClient(ctx, option.WithCredentialsJSON(creds.ServiceAccount.JSON))
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, gcsClient.Close)

		signer, err := storage.NewServiceAccountSigner(creds.ServiceAccount)
		if err != nil {
			return nil, err
		}
		urls, err := storage.NewURLSigner(signer)
		if err != nil {
			return nil, err
		}
		uploader = storage.NewUploader(storage.GCSWriter{Client: gcsClient}, creds.Folder,
			storage.WithURLSigner(urls, cfg.Storage.SignedURLTTL),
			storage.WithUploaderLogger(logger.Named("storage")),
		)
		logger.Info("asset persistence configured", zap.String("folder", creds.Folder.String()))
	}

	var sessions repositories.SessionRepository
	if cfg.Session.RedisURL != "" {
		client, err := redisrepo.Connect(ctx, cfg.Session.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		repo, err := redisrepo.NewSessionRepository(client, cfg.Session.TTL)
		if err != nil {
			return nil, err
		}
		sessions = repo
	} else {
		sessions = memory.NewSessionRepository(cfg.Session.TTL)
	}
	checks := []repositories.DependencyCheck{{Name: "sessions", Check: sessions.Ping}}

	var ledger repositories.GenerationLedger = repositories.NopLedger{}
	if cfg.Ledger.ProjectID != "" {
		if cfg.Ledger.EmulatorHost != "" && os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
			_ = os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Ledger.EmulatorHost)
		}
		client, err := firestorerepo.NewClient(ctx, cfg.Ledger.ProjectID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		fsLedger, err := firestorerepo.NewGenerationLedger(client, cfg.Ledger.Collection)
		if err != nil {
			return nil, err
		}
		ledger = fsLedger
		checks = append(checks, repositories.DependencyCheck{Name: "ledger", Check: fsLedger.Ping})
	}

	logo := loadLogo(logger, cfg.Branding.LogoPath)

	hashKey := session.KeyFromString(cfg.Session.HashKey)
	if len(hashKey) == 0 {
		logger.Warn("PORTAL_SESSION_HASH_KEY not set; sessions will not survive a restart")
		hashKey = session.RandomKey(sessionKeyBytes)
	}
	var blockKey []byte
	if cfg.Session.BlockKey != "" {
		blockKey = session.KeyFromString(cfg.Session.BlockKey)
	}
	manager, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      hashKey,
		BlockKey:     blockKey,
		CookieSecure: cfg.Session.SecureCookie,
		Lifetime:     cfg.Session.TTL,
	})
	if err != nil {
		return nil, err
	}

	eventLogger := observability.EventLogger(logger.Named("services"))
	identity, err := services.NewIdentityService(services.IdentityServiceDeps{
		Sessions:       sessions,
		InitialCredits: cfg.Session.InitialCredits,
		Logger:         eventLogger,
	})
	if err != nil {
		return nil, err
	}
	generation, err := services.NewGenerationService(services.GenerationServiceDeps{
		Sessions:         sessions,
		Renderer:         renderer,
		Uploader:         uploader,
		Ledger:           ledger,
		Refs:             services.NewDesignRefGenerator(),
		Branding:         domain.Image{Data: logo, MIMEType: logoMIME(logo)},
		PersistAssets:    cfg.Features.PersistAssets,
		ConcurrentRender: cfg.Features.ConcurrentRender,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		Logger:           eventLogger,
	})
	if err != nil {
		return nil, err
	}
	storefront, err := services.NewStorefrontService(services.StorefrontServiceDeps{
		StoreDomain:      cfg.Store.Domain,
		DesignRefEnabled: cfg.Features.DesignRef,
		InitialCredits:   cfg.Session.InitialCredits,
	})
	if err != nil {
		return nil, err
	}

	portal, err := handlers.NewPortalHandlers(handlers.PortalDeps{
		Identity:       identity,
		Generation:     generation,
		Storefront:     storefront,
		Sessions:       manager,
		Logo:           logo,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return nil, err
	}
	checker, err := repositories.NewHealthChecker(checks...)
	if err != nil {
		return nil, err
	}

	a.Handler = handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProject(cfg, creds)),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(checker)),
		handlers.WithPortal(portal),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
	)
	return a, nil
}

// loadLogo reads the branding image once. A missing file disables branding.
func loadLogo(logger *zap.Logger, path string) []byte {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("branding logo not found; prompts will not carry branding", zap.String("path", path))
		} else {
			logger.Warn("branding logo unreadable", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	return data
}

func logoMIME(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return http.DetectContentType(data)
}

func traceProject(cfg config.Config, creds credentials.Credentials) string {
	switch {
	case cfg.Secrets.DefaultProjectID != "":
		return cfg.Secrets.DefaultProjectID
	case cfg.Ledger.ProjectID != "":
		return cfg.Ledger.ProjectID
	default:
		return creds.ServiceAccount.ProjectID
	}
}
