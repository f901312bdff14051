package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/dmitrymomot/marketjobs/pkg/storage"
)

// ChecksumProcessor is a FileProcessor that downloads the object and records
// its SHA-256. It serves every processing type until a dedicated processor
// is configured.
type ChecksumProcessor struct {
	Objects storage.ObjectStore
}

func (c ChecksumProcessor) Process(ctx context.Context, file FilePayload, object storage.ObjectInfo) (map[string]any, error) {
	data, err := c.Objects.Get(ctx, object.Key)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return map[string]any{
		"sha256":    hex.EncodeToString(sum[:]),
		"bytes":     len(data),
		"file_type": file.FileType,
	}, nil
}

// LogAnalyticsSink is an AnalyticsSink that writes events to a logger.
type LogAnalyticsSink struct {
	Logger *slog.Logger
}

func (s LogAnalyticsSink) Record(ctx context.Context, e AnalyticsEvent) error {
	s.Logger.InfoContext(ctx, "analytics event",
		slog.String("event_id", e.ID),
		slog.String("event", e.Event),
		slog.String("user_id", e.UserID),
		slog.String("product_id", e.ProductID),
		slog.Time("occurred_at", e.OccurredAt))
	return nil
}

func (s LogAnalyticsSink) AggregateHour(ctx context.Context, hour time.Time) error {
	s.Logger.InfoContext(ctx, "analytics hour aggregated", slog.Time("hour", hour))
	return nil
}
