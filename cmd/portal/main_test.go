package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebadeco/rainbow-form-app/internal/platform/config"
	"github.com/ebadeco/rainbow-form-app/internal/platform/credentials"
)

func envOptions(values map[string]string) []config.Option {
	return []config.Option{
		config.WithEnvFile(""),
		config.WithoutSystemEnv(),
		config.WithEnvMap(values),
	}
}

func TestRequiredSecretNames(t *testing.T) {
	require.Equal(t,
		[]string{config.SecretAIAPIKey, config.SecretStorageFolder, config.SecretStorageServiceAccount},
		requiredSecretNames(nil))
	require.Equal(t,
		[]string{config.SecretAIAPIKey},
		requiredSecretNames(map[string]string{"PORTAL_FEATURE_PERSIST_ASSETS": "false"}))
	require.Len(t, requiredSecretNames(map[string]string{"PORTAL_FEATURE_PERSIST_ASSETS": "maybe"}), 3)
}

func TestVerifySucceedsWithoutStorageWhenPersistenceDisabled(t *testing.T) {
	err := verify(context.Background(), zap.NewNop(), envOptions(map[string]string{
		"PORTAL_AI_API_KEY":             "test-key",
		"PORTAL_FEATURE_PERSIST_ASSETS": "false",
	})...)
	require.NoError(t, err)
}

func TestVerifyFailsWithoutAPIKey(t *testing.T) {
	err := verify(context.Background(), zap.NewNop(), envOptions(map[string]string{
		"PORTAL_FEATURE_PERSIST_ASSETS": "false",
	})...)
	var missing *config.MissingSecretsError
	require.True(t, errors.As(err, &missing), "got %v", err)
	require.Equal(t, []string{config.SecretAIAPIKey}, missing.Names())
}

func TestVerifyRejectsMalformedFolder(t *testing.T) {
	err := verify(context.Background(), zap.NewNop(), envOptions(map[string]string{
		"PORTAL_AI_API_KEY":              "test-key",
		"PORTAL_STORAGE_FOLDER":          "gs://",
		"PORTAL_STORAGE_SERVICE_ACCOUNT": "not json",
	})...)
	var invalid *credentials.ConfigurationError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	require.Contains(t, invalid.Fields, config.SecretStorageFolder)
	require.Contains(t, invalid.Fields, config.SecretStorageServiceAccount)
}

func TestBuildAppServesHealthAndGate(t *testing.T) {
	ctx := context.Background()
	cfg, creds, err := loadSettings(ctx, zap.NewNop(), envOptions(map[string]string{
		"PORTAL_AI_API_KEY":             "test-key",
		"PORTAL_FEATURE_PERSIST_ASSETS": "false",
		"PORTAL_BRANDING_LOGO_PATH":     "testdata-missing-logo.png",
	})...)
	require.NoError(t, err)

	app, err := buildApp(ctx, zap.NewNop(), cfg, creds)
	require.NoError(t, err)
	defer app.Close()

	srv := httptest.NewServer(app.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Cookies())

	resp, err = http.Get(srv.URL + "/assets/logo.png")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["verify"])
	require.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}
