package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 30 * time.Second
	defaultWriteTimeout        = 5 * time.Minute
	defaultIdleTimeout         = 120 * time.Second
	defaultRequestTimeout      = 60 * time.Second
	defaultModel               = "gemini-3-pro-image-preview"
	defaultMaxUploadBytes      = 10 << 20
	defaultSessionCookie       = "rf_session"
	defaultSessionTTL          = 24 * time.Hour
	defaultInitialCredits      = 3
	defaultStoreDomain         = "rainbowform.com"
	defaultLogoPath            = "logo.png"
	defaultSignedURLTTL        = 15 * time.Minute
	defaultSecurityEnvironment = "local"
	defaultSecretFallbackFile  = ".secrets.local"
	defaultLedgerCollection    = "generations"
)

// Secret field names recorded by Load; pass them to WithRequiredSecrets.
const (
	SecretAIAPIKey              = "AI.APIKey"
	SecretStorageFolder         = "Storage.Folder"
	SecretStorageServiceAccount = "Storage.ServiceAccount"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Storage  StorageConfig
	Session  SessionConfig
	Store    StoreConfig
	Branding BrandingConfig
	Ledger   LedgerConfig
	Features FeatureFlags
	Security SecurityConfig
	Secrets  SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

// AIConfig selects the image model and its key.
type AIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// StorageConfig points at the folder that receives sketches and renders.
// Folder is "gs://bucket/prefix" or "bucket/prefix"; ServiceAccount is raw or base64 JSON.
type StorageConfig struct {
	Folder         string
	ServiceAccount string
	SignedURLTTL   time.Duration
}

// SessionConfig controls the portal session cookie and store.
type SessionConfig struct {
	CookieName     string
	HashKey        string
	BlockKey       string
	RedisURL       string
	TTL            time.Duration
	InitialCredits int
	SecureCookie   bool
}

// StoreConfig overrides the storefront host used in cart links.
type StoreConfig struct {
	Domain string
}

// BrandingConfig locates the logo attached to every prompt.
type BrandingConfig struct {
	LogoPath string
}

// LedgerConfig enables the Firestore generation ledger when ProjectID is set.
type LedgerConfig struct {
	ProjectID    string
	Collection   string
	EmulatorHost string
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	PersistAssets    bool
	DesignRef        bool
	ConcurrentRender bool
}

// SecurityConfig groups deployment security settings.
type SecurityConfig struct {
	Environment string
}

// SecretsConfig configures Secret Manager lookups for secret:// references.
type SecretsConfig struct {
	DefaultProjectID string
	FallbackFile     string
	CredentialsFile  string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns short hashes of the missing names, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the missing field names.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func defaultOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the effective environment after applying the same precedence
// as Load (dotenv < OS env < explicit map), so callers can build the secret fetcher first.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions(opts)
	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map that wins over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (SecretAIAPIKey, ...) as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Load assembles the portal configuration from defaults, .env, the environment and Secret Manager.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions(opts)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "PORTAL_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:    durationWithDefault(lookup, "PORTAL_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "PORTAL_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "PORTAL_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "PORTAL_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			MaxUploadBytes: int64(intWithDefault(lookup, "PORTAL_SERVER_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		},
		AI: AIConfig{
			APIKey:  stringWithDefault(lookup, "PORTAL_AI_API_KEY", ""),
			Model:   stringWithDefault(lookup, "PORTAL_AI_MODEL", defaultModel),
			BaseURL: stringWithDefault(lookup, "PORTAL_AI_BASE_URL", ""),
		},
		Storage: StorageConfig{
			Folder:         stringWithDefault(lookup, "PORTAL_STORAGE_FOLDER", ""),
			ServiceAccount: stringWithDefault(lookup, "PORTAL_STORAGE_SERVICE_ACCOUNT", ""),
			SignedURLTTL:   durationWithDefault(lookup, "PORTAL_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		Session: SessionConfig{
			CookieName:     stringWithDefault(lookup, "PORTAL_SESSION_COOKIE_NAME", defaultSessionCookie),
			HashKey:        stringWithDefault(lookup, "PORTAL_SESSION_HASH_KEY", ""),
			BlockKey:       stringWithDefault(lookup, "PORTAL_SESSION_BLOCK_KEY", ""),
			RedisURL:       stringWithDefault(lookup, "PORTAL_SESSION_REDIS_URL", ""),
			TTL:            durationWithDefault(lookup, "PORTAL_SESSION_TTL", defaultSessionTTL),
			InitialCredits: intWithDefault(lookup, "PORTAL_SESSION_INITIAL_CREDITS", defaultInitialCredits),
			SecureCookie:   boolWithDefault(lookup, "PORTAL_SESSION_SECURE_COOKIE", false),
		},
		Store: StoreConfig{
			Domain: stringWithDefault(lookup, "PORTAL_STORE_DOMAIN", defaultStoreDomain),
		},
		Branding: BrandingConfig{
			LogoPath: stringWithDefault(lookup, "PORTAL_BRANDING_LOGO_PATH", defaultLogoPath),
		},
		Ledger: LedgerConfig{
			ProjectID:    stringWithDefault(lookup, "PORTAL_LEDGER_PROJECT_ID", ""),
			Collection:   stringWithDefault(lookup, "PORTAL_LEDGER_COLLECTION", defaultLedgerCollection),
			EmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		Features: FeatureFlags{
			PersistAssets:    boolWithDefault(lookup, "PORTAL_FEATURE_PERSIST_ASSETS", true),
			DesignRef:        boolWithDefault(lookup, "PORTAL_FEATURE_DESIGN_REF", true),
			ConcurrentRender: boolWithDefault(lookup, "PORTAL_FEATURE_CONCURRENT_RENDER", false),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "PORTAL_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
		Secrets: SecretsConfig{
			DefaultProjectID: stringWithDefault(lookup, "PORTAL_SECRET_DEFAULT_PROJECT_ID", ""),
			FallbackFile:     stringWithDefault(lookup, "PORTAL_SECRET_FALLBACK_FILE", defaultSecretFallbackFile),
			CredentialsFile:  stringWithDefault(lookup, "GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{SecretAIAPIKey, &cfg.AI.APIKey},
		{SecretStorageFolder, &cfg.Storage.Folder},
		{SecretStorageServiceAccount, &cfg.Storage.ServiceAccount},
		{"Session.HashKey", &cfg.Session.HashKey},
		{"Session.BlockKey", &cfg.Session.BlockKey},
		{"Session.RedisURL", &cfg.Session.RedisURL},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		invalid = append(invalid, "Server.MaxUploadBytes")
	}
	if strings.TrimSpace(cfg.AI.Model) == "" {
		invalid = append(invalid, "AI.Model")
	}
	if cfg.Session.InitialCredits < 0 {
		invalid = append(invalid, "Session.InitialCredits")
	}
	if cfg.Session.TTL <= 0 {
		invalid = append(invalid, "Session.TTL")
	}
	if strings.TrimSpace(cfg.Session.CookieName) == "" {
		invalid = append(invalid, "Session.CookieName")
	}
	if strings.TrimSpace(cfg.Store.Domain) == "" || strings.ContainsAny(cfg.Store.Domain, "/?# ") {
		invalid = append(invalid, "Store.Domain")
	}
	if cfg.Storage.SignedURLTTL <= 0 {
		invalid = append(invalid, "Storage.SignedURLTTL")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
