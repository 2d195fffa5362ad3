package correlate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"log-gateway/internal/model"
	"log-gateway/internal/storage"
)

// DefaultMaxResults caps a single query to keep scans on the durable
// store bounded.
const DefaultMaxResults = 500

// Engine reconstructs cross-system timelines from both projections.
type Engine struct {
	durable    storage.DurableStore
	shortLived storage.ShortLivedStore
	maxResults int
	now        func() time.Time
}

func New(durable storage.DurableStore, shortLived storage.ShortLivedStore, maxResults int) *Engine {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Engine{
		durable:    durable,
		shortLived: shortLived,
		maxResults: maxResults,
		now:        time.Now,
	}
}

// ByTrace returns every record of one flow, ordered by producer
// timestamp. Ordering by producer time rather than arrival time keeps
// causally-earlier events from a slower system in place; clock skew
// between systems is a documented accuracy limit, not corrected here.
func (e *Engine) ByTrace(ctx context.Context, traceID string) ([]model.LogRecord, error) {
	return e.Search(ctx, storage.Filters{TraceID: traceID})
}

// Search merges both projections under the filter set. A record
// present in both is returned once, the durable copy being canonical.
func (e *Engine) Search(ctx context.Context, f storage.Filters) ([]model.LogRecord, error) {
	if f.Limit <= 0 || f.Limit > e.maxResults {
		f.Limit = e.maxResults
	}

	durable, err := e.durable.Search(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("durable search: %w", err)
	}
	live, err := e.shortLived.Search(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("short-lived search: %w", err)
	}

	seen := make(map[string]struct{}, len(durable))
	out := make([]model.LogRecord, 0, len(durable)+len(live))
	for _, rec := range durable {
		seen[rec.ID] = struct{}{}
		out = append(out, rec.LogRecord)
	}

	nowMillis := e.now().UnixMilli()
	for _, rec := range live {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		if rec.ExpiresAt <= nowMillis {
			continue
		}
		out = append(out, rec.LogRecord)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ReceivedAt < out[j].ReceivedAt
	})

	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
