package retention

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"golang.org/x/time/rate"

	"log-gateway/internal/metrics"
	"log-gateway/internal/storage"
)

// Mode selects how aggressive a cleanup pass is.
type Mode string

const (
	// ModeSafe deletes durable records older than the retention age
	// plus any already-expired short-lived leftovers.
	ModeSafe Mode = "safe"
	// ModeForce deletes all durable records regardless of age. It is
	// an operator escape hatch and is never run on a schedule.
	ModeForce Mode = "force"
)

// Batch bounds keep a single delete inside the backend's
// per-transaction size and time limits.
const (
	MinBatchSize     = 100
	MaxBatchSize     = 300
	DefaultBatchSize = 200

	// deleteAttempts bounds retries of one failing batch before the
	// sweep moves on.
	deleteAttempts = 3
	// stalledBatchLimit aborts the sweep when consecutive batches make
	// no progress, so undeletable records cannot loop it forever.
	stalledBatchLimit = 3
)

type Summary struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
}

type Manager struct {
	durable    storage.DurableStore
	shortLived storage.ShortLivedStore
	age        time.Duration
	limiter    *rate.Limiter
	now        func() time.Time
}

// New creates a manager that retains durable records for age and paces
// cleanup at batchesPerSec delete batches per second.
func New(durable storage.DurableStore, shortLived storage.ShortLivedStore, age time.Duration, batchesPerSec int) *Manager {
	if batchesPerSec <= 0 {
		batchesPerSec = 5
	}
	return &Manager{
		durable:    durable,
		shortLived: shortLived,
		age:        age,
		limiter:    rate.NewLimiter(rate.Limit(batchesPerSec), 1),
		now:        time.Now,
	}
}

// ExpireShortLived removes past-expiry entries from the live index.
func (m *Manager) ExpireShortLived(ctx context.Context) (int, error) {
	removed, err := m.shortLived.ExpireSweep(ctx, m.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("expiry sweep: %w", err)
	}
	metrics.ExpiredSwept.Add(float64(removed))
	return removed, nil
}

// Run sweeps expired short-lived records on a schedule until the
// context is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Retention sweeper started. Interval: %v, durable retention: %v", interval, m.age)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := m.ExpireShortLived(ctx); err != nil {
				log.Printf("Expiry sweep failed: %v", err)
			} else if removed > 0 {
				log.Printf("Expiry sweep removed %d records", removed)
			}
		}
	}
}

// ClampBatchSize forces a requested batch size into the documented
// safe range.
func ClampBatchSize(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	if n < MinBatchSize {
		return MinBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// Cleanup deletes durable records in bounded batches until the scan is
// exhausted. Individual delete failures are logged and skipped rather
// than aborting the sweep; a batch is retried a bounded number of
// times before the sweep moves on.
func (m *Manager) Cleanup(ctx context.Context, mode Mode, batchSize int) (Summary, error) {
	if mode != ModeSafe && mode != ModeForce {
		return Summary{}, fmt.Errorf("unknown cleanup mode %q", mode)
	}
	batchSize = ClampBatchSize(batchSize)

	cutoff := int64(math.MaxInt64)
	if mode == ModeSafe {
		cutoff = m.now().Add(-m.age).UnixMilli()

		if _, err := m.ExpireShortLived(ctx); err != nil {
			log.Printf("Cleanup: expiry sweep failed: %v", err)
		}
	}

	var sum Summary
	stalled := 0
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return sum, err
		}

		ids, err := m.durable.ScanOlderThan(ctx, cutoff, batchSize)
		if err != nil {
			return sum, fmt.Errorf("scan: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		sum.Scanned += len(ids)

		deleted := 0
		for attempt := 1; attempt <= deleteAttempts; attempt++ {
			deleted, err = m.durable.Delete(ctx, ids)
			if err == nil {
				break
			}
			log.Printf("Cleanup: delete batch of %d failed (attempt %d): %v", len(ids), attempt, err)
		}
		sum.Deleted += deleted
		metrics.CleanupDeleted.Add(float64(deleted))

		if deleted == 0 {
			stalled++
			if stalled >= stalledBatchLimit {
				log.Printf("Cleanup: aborting after %d stalled batches", stalled)
				break
			}
			continue
		}
		stalled = 0
	}

	return sum, nil
}
