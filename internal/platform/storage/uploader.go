package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/ebadeco/rainbow-form-app/internal/platform/credentials"
	"github.com/ebadeco/rainbow-form-app/internal/platform/requestctx"
)

// ErrStorageDisabled is carried by results when no folder is configured.
var ErrStorageDisabled = errors.New("storage: asset persistence disabled")

// Asset is a named blob destined for the asset folder.
type Asset struct {
	Name     string
	MIMEType string
	Data     []byte
}

// UploadResult reports the outcome of a single upload. Exactly one of ObjectID and Err is set.
type UploadResult struct {
	ObjectID    string
	Object      string
	DownloadURL string
	Err         error
}

// Ok reports whether the upload succeeded.
func (r UploadResult) Ok() bool { return r.Err == nil && r.ObjectID != "" }

// ObjectWriter writes one object and returns its generation.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) (int64, error)
}

// GCSWriter writes objects with a Cloud Storage client.
type GCSWriter struct {
	Client *gcs.Client
}

// WriteObject streams data into bucket/object.
func (w GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) (int64, error) {
	writer := w.Client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}
	return writer.Attrs().Generation, nil
}

// Uploader stores assets under the configured folder. Upload never returns an error; failures
// are logged and carried on the result so callers can degrade to "not persisted".
type Uploader struct {
	writer       ObjectWriter
	folder       credentials.Folder
	urls         *URLSigner
	signedURLTTL time.Duration
	logger       *zap.Logger
}

// UploaderOption customises the uploader.
type UploaderOption func(*Uploader)

// WithURLSigner attaches signed download URLs to successful results.
func WithURLSigner(signer *URLSigner, ttl time.Duration) UploaderOption {
	return func(u *Uploader) {
		u.urls = signer
		u.signedURLTTL = ttl
	}
}

// WithUploaderLogger sets the fallback logger used when the context carries none.
func WithUploaderLogger(logger *zap.Logger) UploaderOption {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// NewUploader builds an uploader. A nil writer or empty bucket yields a disabled uploader.
func NewUploader(writer ObjectWriter, folder credentials.Folder, opts ...UploaderOption) *Uploader {
	u := &Uploader{writer: writer, folder: folder, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

// Enabled reports whether uploads will be attempted.
func (u *Uploader) Enabled() bool {
	return u != nil && u.writer != nil && u.folder.Bucket != ""
}

// Upload writes asset into the folder. There is no retry; a repeated name overwrites.
func (u *Uploader) Upload(ctx context.Context, asset Asset) UploadResult {
	if !u.Enabled() {
		return UploadResult{Err: ErrStorageDisabled}
	}
	logger := requestctx.Logger(ctx)
	if logger == requestctx.NoopLogger() {
		logger = u.logger
	}

	object, err := ObjectPath(u.folder.Prefix, asset.Name)
	if err == nil && len(asset.Data) == 0 {
		err = errors.New("storage: asset is empty")
	}
	if err != nil {
		logger.Warn("asset upload rejected", zap.String("asset", asset.Name), zap.Error(err))
		return UploadResult{Err: err}
	}

	contentType := strings.TrimSpace(asset.MIMEType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	generation, err := u.writer.WriteObject(ctx, u.folder.Bucket, object, contentType, asset.Data)
	if err != nil {
		logger.Error("asset upload failed",
			zap.String("bucket", u.folder.Bucket),
			zap.String("object", object),
			zap.Error(err),
		)
		return UploadResult{Err: fmt.Errorf("storage: upload %s: %w", object, err)}
	}

	result := UploadResult{
		ObjectID: fmt.Sprintf("gs://%s/%s#%d", u.folder.Bucket, object, generation),
		Object:   object,
	}
	if u.urls != nil {
		signed, _, err := u.urls.DownloadURL(ctx, u.folder.Bucket, object, asset.Name, u.signedURLTTL)
		if err != nil {
			logger.Warn("signed download url failed", zap.String("object", object), zap.Error(err))
		} else {
			result.DownloadURL = signed
		}
	}
	logger.Info("asset uploaded",
		zap.String("object_id", result.ObjectID),
		zap.Int("bytes", len(asset.Data)),
		zap.String("content_type", contentType),
	)
	return result
}

// ObjectPath joins prefix and a validated file name.
func ObjectPath(prefix, name string) (string, error) {
	name, err := validateFileName(name)
	if err != nil {
		return "", err
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name, nil
	}
	return prefix + "/" + name, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("storage: file name is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", errors.New("storage: file name contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", errors.New("storage: file name contains invalid traversal sequence")
	}
	return value, nil
}
