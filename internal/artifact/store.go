package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/generation"
)

// Backend is a byte store addressed by slash-separated keys.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete reports whether an object existed at key.
	Delete(ctx context.Context, key string) (bool, error)
}

// Locator is the pair of URLs returned for a saved image. ThumbnailURL is
// empty when no thumbnail was requested.
type Locator struct {
	URL          string
	ThumbnailURL string
}

// Store saves generated images under per-owner keys and maps keys to public URLs.
type Store struct {
	backend     Backend
	baseURL     string
	thumbnailer *Thumbnailer
	logger      *slog.Logger
}

// NewStore creates a Store. baseURL is prepended to every key to form the
// locator, for example "/static" or "https://cdn.example.com/renders".
func NewStore(backend Backend, baseURL string, thumbnailer *Thumbnailer, logger *slog.Logger) *Store {
	if thumbnailer == nil {
		thumbnailer = NewThumbnailer(DefaultThumbnailWidth)
	}
	return &Store{
		backend:     backend,
		baseURL:     strings.TrimRight(baseURL, "/"),
		thumbnailer: thumbnailer,
		logger:      logger.With("component", "artifact_store"),
	}
}

// Save persists img as images/{owner}/{assetID}.{ext}. With withThumbnail set
// it also writes thumbnails/{owner}/{assetID}.jpg. Thumbnail failures are not
// fatal: the locator then points its thumbnail at the full image.
func (s *Store) Save(
	ctx context.Context,
	img *generation.Image,
	ownerID *uuid.UUID,
	assetID uuid.UUID,
	withThumbnail bool,
) (Locator, error) {
	if img == nil || len(img.Data) == 0 {
		return Locator{}, ErrEmptyImage
	}

	owner := "anonymous"
	if ownerID != nil {
		owner = ownerID.String()
	}

	key := fmt.Sprintf("images/%s/%s.%s", owner, assetID, img.Extension())
	if err := s.backend.Put(ctx, key, img.Data, img.MIMEType); err != nil {
		return Locator{}, fmt.Errorf("failed to save image: %w", err)
	}
	loc := Locator{URL: s.URL(key)}

	if !withThumbnail {
		return loc, nil
	}

	loc.ThumbnailURL = loc.URL
	thumb, err := s.thumbnailer.Make(img.Data)
	if err != nil {
		s.logger.WarnContext(ctx, "thumbnail generation failed, using full image",
			"asset_id", assetID, "error", err)
		return loc, nil
	}
	thumbKey := fmt.Sprintf("thumbnails/%s/%s.jpg", owner, assetID)
	if err := s.backend.Put(ctx, thumbKey, thumb, generation.MIMETypeJPEG); err != nil {
		s.logger.WarnContext(ctx, "thumbnail upload failed, using full image",
			"asset_id", assetID, "error", err)
		return loc, nil
	}
	loc.ThumbnailURL = s.URL(thumbKey)
	return loc, nil
}

// Delete removes the object behind a locator previously returned by Save.
// It reports false when the object was already gone.
func (s *Store) Delete(ctx context.Context, locator string) (bool, error) {
	key, err := s.Key(locator)
	if err != nil {
		return false, err
	}
	return s.backend.Delete(ctx, key)
}

// URL returns the public locator for key.
func (s *Store) URL(key string) string {
	return s.baseURL + "/" + key
}

// Key extracts the storage key from a locator issued by this store.
func (s *Store) Key(locator string) (string, error) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(locator, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignLocator, locator)
	}
	return sanitizeKey(strings.TrimPrefix(locator, prefix))
}
