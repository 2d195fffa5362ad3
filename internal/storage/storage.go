package storage

import (
	"context"
	"errors"

	"log-gateway/internal/model"
)

// ErrTransient marks a backend failure the caller may retry; on the
// ingestion path it triggers the compensating quota release.
var ErrTransient = errors.New("transient storage failure")

// Filters narrows a search. Zero values mean "any". From/To are epoch
// milliseconds against the producer timestamp, inclusive. Limit of 0
// defers to the engine's result cap.
type Filters struct {
	TraceID string
	Area    model.SystemArea
	Level   model.Level
	UserID  string
	From    int64
	To      int64
	Limit   int
}

// DurableStore is the no-expiry projection. The gateway is the sole
// writer, the retention manager the sole deleter.
type DurableStore interface {
	Insert(ctx context.Context, rec model.DurableRecord) error
	Search(ctx context.Context, f Filters) ([]model.DurableRecord, error)
	// ScanOlderThan returns ids of records received before cutoff,
	// at most limit of them.
	ScanOlderThan(ctx context.Context, cutoff int64, limit int) ([]string, error)
	// Delete removes the given ids, returning how many were deleted.
	Delete(ctx context.Context, ids []string) (int, error)
	// MarkProcessed flips the processed flag for the batch pipeline.
	MarkProcessed(ctx context.Context, ids []string) error
}

// ShortLivedStore is the live-query projection with per-record expiry.
type ShortLivedStore interface {
	Insert(ctx context.Context, rec model.ShortLivedRecord) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, f Filters) ([]model.ShortLivedRecord, error)
	// ExpireSweep removes records whose expires_at is in the past and
	// returns how many were removed.
	ExpireSweep(ctx context.Context, now int64) (int, error)
}

// Match reports whether a record passes the filter set. Expired
// short-lived records are the caller's concern, not Match's.
func Match(rec model.LogRecord, f Filters) bool {
	if f.TraceID != "" && rec.TraceID != f.TraceID {
		return false
	}
	if f.Area != "" && rec.SystemArea != f.Area {
		return false
	}
	if f.Level != "" && rec.Level != f.Level {
		return false
	}
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	if f.From != 0 && rec.Timestamp < f.From {
		return false
	}
	if f.To != 0 && rec.Timestamp > f.To {
		return false
	}
	return true
}
