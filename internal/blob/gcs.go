package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/kiranshivaraju/docrender/internal/config"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStore implements Store on a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCSStore opens a client for cfg.Bucket. A non-empty cfg.Endpoint points
// the client at an emulator without authentication.
func NewGCSStore(ctx context.Context, cfg config.StorageConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(cfg.Endpoint, "/")+"/storage/v1/"), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) FetchTemplate(ctx context.Context, ownerID, templateID string) (string, error) {
	data, err := s.Fetch(ctx, TemplateKey(ownerID, templateID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *GCSStore) PutTemplate(ctx context.Context, ownerID, templateID, source string) error {
	w := s.bucket.Object(TemplateKey(ownerID, templateID)).NewWriter(ctx)
	w.ContentType = "text/x-handlebars-template"
	if _, err := io.Copy(w, strings.NewReader(source)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write template: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize template: %w", err)
	}
	return nil
}

// PutArtifact is idempotent: a redelivered job that renders again finds the
// object already present and keeps it.
func (s *GCSStore) PutArtifact(ctx context.Context, key string, data []byte) error {
	w := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}

func (s *GCSStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return url, nil
}

func (s *GCSStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
