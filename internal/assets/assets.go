// Package assets stores creative images in object storage and hands out references to them.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itranswarp/backend/internal/ads"
	"github.com/itranswarp/backend/internal/metrics"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/queue"
)

const (
	// SizeOriginal is the uploaded image as received.
	SizeOriginal = "0"
	// SizeFitted is the image scaled down to fit the slot.
	SizeFitted = "s"

	folder = "ads"
)

var extensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
}

var sizes = []string{SizeOriginal, SizeFitted}

// ObjectStore is where image bytes live.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// ReleaseQueue defers object deletion to the worker.
type ReleaseQueue interface {
	EnqueueAssetRelease(ctx context.Context, payload queue.AssetReleasePayload) error
}

// Service implements ads.AttachmentStore.
type Service struct {
	objects ObjectStore
	queue   ReleaseQueue
	logger  *zap.Logger
}

var _ ads.AttachmentStore = (*Service)(nil)

// New creates an asset service. With a nil queue, releases delete objects inline.
func New(objects ObjectStore, q ReleaseQueue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{objects: objects, queue: q, logger: logger}
}

// Key returns the object key of ref at size: ads/{size}/{ref}.
func Key(size, ref string) string {
	return path.Join(folder, size, path.Base(ref))
}

// Keys returns every object key written for ref.
func Keys(ref string) []string {
	keys := make([]string, 0, len(sizes))
	for _, size := range sizes {
		keys = append(keys, Key(size, ref))
	}
	return keys
}

// Store validates data as an image, uploads it and a copy fitted to meta's dimensions, and returns the reference.
func (s *Service) Store(ctx context.Context, data []byte, meta ads.AssetMeta) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", apperr.InvalidParam("image", "Invalid image.")
	}
	ext, ok := extensions[format]
	if !ok {
		return "", apperr.InvalidParam("image", "Unsupported image format.")
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", apperr.InvalidParam("image", "Invalid image.")
	}

	fitted := img
	if meta.Width > 0 && meta.Height > 0 && (cfg.Width > meta.Width || cfg.Height > meta.Height) {
		fitted = imaging.Fit(img, meta.Width, meta.Height, imaging.Lanczos)
	}
	f, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return "", fmt.Errorf("image format %s: %w", ext, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, f); err != nil {
		return "", fmt.Errorf("encode fitted image: %w", err)
	}

	ref := uuid.New().String() + ext
	if err := s.objects.Put(ctx, Key(SizeOriginal, ref), bytes.NewReader(data), int64(len(data))); err != nil {
		return "", fmt.Errorf("store original: %w", err)
	}
	if err := s.objects.Put(ctx, Key(SizeFitted, ref), &buf, int64(buf.Len())); err != nil {
		if delErr := s.objects.Delete(ctx, Key(SizeOriginal, ref)); delErr != nil {
			s.logger.Warn("delete orphaned original failed", zap.String("ref", ref), zap.Error(delErr))
		}
		return "", fmt.Errorf("store fitted: %w", err)
	}
	s.logger.Info("stored ad image",
		zap.String("ref", ref),
		zap.String("owner_id", meta.OwnerID.String()),
		zap.String("slot", meta.Name),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
	)
	return ref, nil
}

// Release schedules deletion of every object of ref. If enqueueing fails the objects are deleted inline.
func (s *Service) Release(ctx context.Context, ref string) error {
	if s.queue != nil {
		err := s.queue.EnqueueAssetRelease(ctx, queue.AssetReleasePayload{Ref: ref, Keys: Keys(ref)})
		if err == nil {
			metrics.AssetReleases.WithLabelValues("enqueued").Inc()
			return nil
		}
		s.logger.Warn("enqueue asset release failed, deleting inline", zap.String("ref", ref), zap.Error(err))
	}
	return s.Purge(ctx, Keys(ref))
}

// Purge deletes keys, attempting all of them.
func (s *Service) Purge(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		metrics.AssetReleases.WithLabelValues("failed").Inc()
		return err
	}
	metrics.AssetReleases.WithLabelValues("deleted").Inc()
	return nil
}

// URLFor returns the public URL of ref at size. An empty size means the original.
func (s *Service) URLFor(ref, size string) string {
	if size == "" {
		size = SizeOriginal
	}
	return s.objects.URL(Key(size, ref))
}
