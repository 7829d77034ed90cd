package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Errorf("expected default port %s, got %s", defaultPort, cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != defaultWriteTimeout {
		t.Errorf("expected write timeout %s, got %s", defaultWriteTimeout, cfg.Server.WriteTimeout)
	}
	if cfg.AI.Model != "gemini-3-pro-image-preview" {
		t.Errorf("unexpected model %q", cfg.AI.Model)
	}
	if cfg.Session.InitialCredits != 3 {
		t.Errorf("expected 3 initial credits, got %d", cfg.Session.InitialCredits)
	}
	if cfg.Store.Domain != "rainbowform.com" {
		t.Errorf("unexpected store domain %q", cfg.Store.Domain)
	}
	if !cfg.Features.PersistAssets || !cfg.Features.DesignRef || cfg.Features.ConcurrentRender {
		t.Errorf("unexpected feature defaults %+v", cfg.Features)
	}
	if cfg.Secrets.FallbackFile != ".secrets.local" {
		t.Errorf("unexpected fallback file %q", cfg.Secrets.FallbackFile)
	}
}

func TestLoadOverridesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "PORTAL_SERVER_PORT=9000\nPORTAL_AI_MODEL=\"from-dotenv\"\nPORTAL_SESSION_TTL=2h\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(envPath),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{
			"PORTAL_SERVER_PORT":               "9100",
			"PORTAL_SESSION_INITIAL_CREDITS":   "5",
			"PORTAL_FEATURE_PERSIST_ASSETS":    "off",
			"PORTAL_FEATURE_CONCURRENT_RENDER": "yes",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("env map should win over dotenv, got %s", cfg.Server.Port)
	}
	if cfg.AI.Model != "from-dotenv" {
		t.Errorf("dotenv value not applied, got %q", cfg.AI.Model)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Errorf("expected ttl 2h, got %s", cfg.Session.TTL)
	}
	if cfg.Session.InitialCredits != 5 {
		t.Errorf("expected 5 credits, got %d", cfg.Session.InitialCredits)
	}
	if cfg.Features.PersistAssets || !cfg.Features.ConcurrentRender {
		t.Errorf("feature overrides not applied: %+v", cfg.Features)
	}
}

func TestLoadValidationError(t *testing.T) {
	_, err := Load(context.Background(), WithEnvFile(""), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"PORTAL_SESSION_INITIAL_CREDITS": "-1",
		"PORTAL_STORE_DOMAIN":            "evil.example/path",
	}))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := verr.Fields()
	if len(fields) != 2 || fields[0] != "Session.InitialCredits" || fields[1] != "Store.Domain" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved-" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvFile(""), WithoutSystemEnv(),
		WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"PORTAL_AI_API_KEY":     "sm://portal/gemini-key",
			"PORTAL_STORAGE_FOLDER": "gs://bucket/sketches",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.AI.APIKey != "resolved-secret://portal/gemini-key" {
		t.Errorf("api key not resolved: %q", cfg.AI.APIKey)
	}
	if cfg.Storage.Folder != "gs://bucket/sketches" {
		t.Errorf("plain values must pass through, got %q", cfg.Storage.Folder)
	}
	if len(refs) != 1 {
		t.Errorf("expected one resolver call, got %v", refs)
	}
}

func TestLoadSecretResolverFailure(t *testing.T) {
	_, err := Load(context.Background(), WithEnvFile(""), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"PORTAL_AI_API_KEY": "secret://portal/gemini-key"}),
	)
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected unconfigured resolver cause, got %v", err)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(), WithEnvFile(""), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"PORTAL_AI_API_KEY": "key"}),
		WithRequiredSecrets(SecretAIAPIKey, SecretStorageFolder, SecretStorageServiceAccount, SecretStorageFolder),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	names := missing.Names()
	if len(names) != 2 || names[0] != SecretStorageFolder || names[1] != SecretStorageServiceAccount {
		t.Fatalf("unexpected missing names %v", names)
	}
	for _, redacted := range missing.RedactedNames() {
		if redacted == SecretStorageFolder || len(redacted) != 16 {
			t.Fatalf("name not redacted: %q", redacted)
		}
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("A=dotenv\nB=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	values, err := EnvironmentValues(WithEnvFile(envPath), WithoutSystemEnv(), WithEnvMap(map[string]string{"B": "map"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["A"] != "dotenv" || values["B"] != "map" {
		t.Fatalf("unexpected values %v", values)
	}

	if _, err := EnvironmentValues(WithEnvFile(filepath.Join(dir, "missing.env")), WithoutSystemEnv()); err != nil {
		t.Fatalf("missing dotenv should be ignored, got %v", err)
	}
}
