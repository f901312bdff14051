package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/storage"
)

// FileManifest is written next to processed files; its presence marks a
// processing step as done.
type FileManifest struct {
	FileID         string         `json:"file_id"`
	ProcessingType string         `json:"processing_type"`
	ObjectKey      string         `json:"object_key"`
	Size           int64          `json:"size"`
	ETag           string         `json:"etag,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	ProcessedAt    time.Time      `json:"processed_at"`
}

// ManifestKey is where the manifest of a processing step is stored.
func ManifestKey(fileID, processingType string) string {
	return path.Join("manifests", fileID, processingType+".json")
}

// ProcessFile runs one processing step on an uploaded file and records a
// manifest. A step whose manifest already exists is skipped.
func (h *Handlers) ProcessFile(ctx context.Context, p FilePayload) error {
	objectKey, err := storage.ObjectKey(h.bucket, p.FileURL)
	if err != nil {
		return err
	}
	manifestKey := ManifestKey(p.FileID, p.ProcessingType)

	_, err = h.guard.Once(ctx, fileKey(p), func(ctx context.Context) error {
		done, err := h.objects.Exists(ctx, manifestKey)
		if err != nil {
			return err
		}
		if done {
			h.logger.InfoContext(ctx, "file already processed, skipping",
				slog.String("file_id", p.FileID),
				slog.String("processing_type", p.ProcessingType))
			return nil
		}

		info, err := h.objects.Stat(ctx, objectKey)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, objectKey)
		}
		if err != nil {
			return err
		}

		result, err := h.files.Process(ctx, p, info)
		if err != nil {
			return fmt.Errorf("%s %s: %w", p.ProcessingType, p.FileID, err)
		}

		raw, err := json.Marshal(FileManifest{
			FileID:         p.FileID,
			ProcessingType: p.ProcessingType,
			ObjectKey:      objectKey,
			Size:           info.Size,
			ETag:           info.ETag,
			Result:         result,
			ProcessedAt:    h.now().UTC(),
		})
		if err != nil {
			return err
		}
		return h.objects.Put(ctx, manifestKey, raw, "application/json")
	})
	return err
}
