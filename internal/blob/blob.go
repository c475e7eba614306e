// Package blob stores template sources, rendered artifacts and staged
// images in object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob: object not found")

// Store is the object storage collaborator.
type Store interface {
	FetchTemplate(ctx context.Context, ownerID, templateID string) (string, error)
	PutTemplate(ctx context.Context, ownerID, templateID, source string) error
	// PutArtifact writes data at key unless the object already exists.
	PutArtifact(ctx context.Context, key string, data []byte) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
}

func TemplateKey(ownerID, templateID string) string {
	return fmt.Sprintf("%s/templates/%s.hbs", ownerID, templateID)
}

func ArtifactKey(ownerID string, id uuid.UUID) string {
	return fmt.Sprintf("%s/pdfs/%s.pdf", ownerID, id)
}

// ImagePrefix is where an owner stages images for AI jobs.
func ImagePrefix(ownerID string) string {
	return fmt.Sprintf("users/%s/ai-images/", ownerID)
}

// ImageMediaType infers a media type from a staged image key, defaulting to PNG.
func ImageMediaType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
