package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 15 * time.Minute
	maxSignedURLExpiry     = 7 * 24 * time.Hour
)

var (
	errNoSigner      = errors.New("storage: signer is required")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")
)

// URLSigner issues V4 signed GET URLs for persisted renders.
type URLSigner struct {
	signer Signer
	now    func() time.Time
}

// URLSignerOption customises URLSigner behaviour.
type URLSignerOption func(*URLSigner)

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) URLSignerOption {
	return func(s *URLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewURLSigner constructs a URLSigner backed by signer.
func NewURLSigner(signer Signer, opts ...URLSignerOption) (*URLSigner, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	s := &URLSigner{signer: signer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// DownloadURL signs a GET for bucket/object. A non-empty fileName sets the attachment disposition.
func (s *URLSigner) DownloadURL(ctx context.Context, bucket, object, fileName string, expiresIn time.Duration) (string, time.Time, error) {
	if s == nil {
		return "", time.Time{}, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", time.Time{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", time.Time{}, errInvalidObject
	}
	if expiresIn <= 0 {
		expiresIn = defaultSignedURLExpiry
	}
	if expiresIn > maxSignedURLExpiry {
		return "", time.Time{}, errExpiryTooLong
	}

	expires := s.now().Add(expiresIn)
	opts := &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Method:         http.MethodGet,
		Expires:        expires,
		Scheme:         gcs.SigningSchemeV4,
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	}
	if fileName = strings.TrimSpace(fileName); fileName != "" {
		opts.QueryParameters = url.Values{
			"response-content-disposition": {fmt.Sprintf("attachment; filename=%q", fileName)},
		}
	}

	signed, err := gcs.SignedURL(bucket, object, opts)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return signed, expires, nil
}
