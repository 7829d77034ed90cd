// Package credentials turns the resolved portal configuration into the credentials the
// model and storage clients need. Any problem is fatal at startup.
package credentials

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ebadeco/rainbow-form-app/internal/platform/config"
)

// FatalMessage is logged before the process exits on a ConfigurationError.
const FatalMessage = "Server Configuration Error. Please check API Key and Storage Secrets."

// Credentials holds everything loaded once at process start.
type Credentials struct {
	APIKey         string
	Folder         Folder
	ServiceAccount ServiceAccount
}

// StorageEnabled reports whether storage credentials were loaded.
func (c Credentials) StorageEnabled() bool {
	return c.Folder.Bucket != "" && len(c.ServiceAccount.JSON) > 0
}

// Folder is the destination for persisted assets.
type Folder struct {
	Bucket string
	Prefix string
}

// String renders the folder as a gs:// URI.
func (f Folder) String() string {
	if f.Prefix == "" {
		return "gs://" + f.Bucket
	}
	return "gs://" + f.Bucket + "/" + f.Prefix
}

// ServiceAccount is a parsed Google service-account key.
type ServiceAccount struct {
	JSON        []byte
	Type        string
	ProjectID   string
	ClientEmail string
	PrivateKey  string
}

// ConfigurationError lists the credential fields that are absent or malformed.
type ConfigurationError struct {
	Fields []string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("credentials: invalid configuration [%s]", strings.Join(e.Fields, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Load validates the API key, storage folder and service account. When asset persistence is
// disabled the storage secrets are optional but are still validated if present.
func Load(cfg config.Config) (Credentials, error) {
	var (
		creds  Credentials
		fields []string
		cause  error
	)

	creds.APIKey = strings.TrimSpace(cfg.AI.APIKey)
	if creds.APIKey == "" {
		fields = append(fields, config.SecretAIAPIKey)
	}

	requireStorage := cfg.Features.PersistAssets
	folderRaw := strings.TrimSpace(cfg.Storage.Folder)
	accountRaw := strings.TrimSpace(cfg.Storage.ServiceAccount)

	if folderRaw != "" || requireStorage {
		folder, err := ParseFolder(folderRaw)
		if err != nil {
			fields = append(fields, config.SecretStorageFolder)
			cause = err
		}
		creds.Folder = folder
	}
	if accountRaw != "" || requireStorage {
		account, err := ParseServiceAccount(accountRaw)
		if err != nil {
			fields = append(fields, config.SecretStorageServiceAccount)
			cause = err
		}
		creds.ServiceAccount = account
	}

	if len(fields) > 0 {
		return Credentials{}, &ConfigurationError{Fields: fields, Err: cause}
	}
	return creds, nil
}

// ParseFolder accepts "gs://bucket/prefix", "bucket/prefix" or "bucket".
func ParseFolder(raw string) (Folder, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "gs://")
	if raw == "" {
		return Folder{}, fmt.Errorf("credentials: storage folder is empty")
	}
	bucket, prefix, _ := strings.Cut(raw, "/")
	if !validBucket(bucket) {
		return Folder{}, fmt.Errorf("credentials: invalid bucket name %q", bucket)
	}
	prefix = strings.Trim(prefix, "/")
	for _, segment := range strings.Split(prefix, "/") {
		if segment == ".." {
			return Folder{}, fmt.Errorf("credentials: folder prefix must not traverse")
		}
	}
	return Folder{Bucket: bucket, Prefix: prefix}, nil
}

func validBucket(name string) bool {
	if len(name) < 3 || len(name) > 222 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// ParseServiceAccount accepts the key as a raw JSON object or as base64-encoded JSON.
func ParseServiceAccount(raw string) (ServiceAccount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ServiceAccount{}, fmt.Errorf("credentials: service account is empty")
	}

	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := decodeBase64(raw)
		if err != nil {
			return ServiceAccount{}, fmt.Errorf("credentials: service account is neither JSON nor base64: %w", err)
		}
		data = decoded
	}

	var payload struct {
		Type        string `json:"type"`
		ProjectID   string `json:"project_id"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ServiceAccount{}, fmt.Errorf("credentials: decode service account: %w", err)
	}
	if payload.Type != "service_account" {
		return ServiceAccount{}, fmt.Errorf("credentials: unexpected credential type %q", payload.Type)
	}
	if strings.TrimSpace(payload.ClientEmail) == "" || strings.TrimSpace(payload.PrivateKey) == "" {
		return ServiceAccount{}, fmt.Errorf("credentials: service account missing client_email or private_key")
	}
	return ServiceAccount{
		JSON:        data,
		Type:        payload.Type,
		ProjectID:   payload.ProjectID,
		ClientEmail: payload.ClientEmail,
		PrivateKey:  payload.PrivateKey,
	}, nil
}

func decodeBase64(raw string) ([]byte, error) {
	var lastErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		decoded, err := enc.DecodeString(raw)
		if err == nil {
			return decoded, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
