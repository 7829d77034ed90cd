package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/ebadeco/rainbow-form-app/internal/platform/credentials"
)

var (
	errNoPrivateKey = errors.New("storage: service account has no PEM private key")
	errNotRSAKey    = errors.New("storage: service account key is not RSA")
)

// Signer produces the RSA-SHA256 signatures a V4 signed URL needs. Email becomes the
// GoogleAccessID of the URL.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs locally with the key of the storage service account, so signed
// download URLs need no IAM round trip.
type ServiceAccountSigner struct {
	email string
	key   crypto.Signer
}

// NewServiceAccountSigner reads client_email and private_key from the loaded account.
func NewServiceAccountSigner(account credentials.ServiceAccount) (*ServiceAccountSigner, error) {
	email := strings.TrimSpace(account.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: service account has no client_email")
	}
	key, err := serviceAccountKey(account.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: email, key: key}, nil
}

func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	switch {
	case s == nil || s.key == nil:
		return nil, errNoSigner
	case len(payload) == 0:
		return nil, errors.New("storage: nothing to sign")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("storage: sign url payload: %w", err)
	}
	return sig, nil
}

// serviceAccountKey walks the PEM blocks of a key file. Google issues PKCS8 "PRIVATE KEY"
// blocks; older tooling writes PKCS1 "RSA PRIVATE KEY".
func serviceAccountKey(raw string) (*rsa.PrivateKey, error) {
	rest := []byte(strings.ReplaceAll(strings.TrimSpace(raw), `\n`, "\n"))
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errNoPrivateKey
		}
		switch block.Type {
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("storage: parse service account key: %w", err)
			}
			key, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return nil, errNotRSAKey
			}
			return key, nil
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("storage: parse service account key: %w", err)
			}
			return key, nil
		}
	}
}
