package retention

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"log-gateway/internal/model"
	"log-gateway/internal/storage"
)

const nowMillis = int64(1700000000000)

func newManager(durable storage.DurableStore, shortLived storage.ShortLivedStore) *Manager {
	// Pacing is effectively disabled so sweeps over large fixtures
	// finish quickly.
	m := New(durable, shortLived, 30*24*time.Hour, 1_000_000)
	m.now = func() time.Time { return time.UnixMilli(nowMillis) }
	return m
}

func seedDurable(d *storage.MemDurable, n int, receivedAt int64) {
	for i := 0; i < n; i++ {
		d.Insert(context.Background(), model.DurableRecord{LogRecord: model.LogRecord{
			ID:         fmt.Sprintf("rec-%05d-%d", i, receivedAt),
			TraceID:    "T",
			SystemArea: model.AreaClient,
			Level:      model.LevelInfo,
			Message:    "m",
			Timestamp:  receivedAt,
			ReceivedAt: receivedAt,
		}})
	}
}

// boundedDurable records the largest batch any single delete touched.
type boundedDurable struct {
	*storage.MemDurable
	maxBatch int
	batches  int
}

func (b *boundedDurable) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) > b.maxBatch {
		b.maxBatch = len(ids)
	}
	b.batches++
	return b.MemDurable.Delete(ctx, ids)
}

func TestCleanupSafeBoundedBatches(t *testing.T) {
	mem := storage.NewMemDurable()
	old := nowMillis - (31 * 24 * time.Hour).Milliseconds()
	seedDurable(mem, 10000, old)

	durable := &boundedDurable{MemDurable: mem}
	m := newManager(durable, storage.NewMemIndex())

	sum, err := m.Cleanup(context.Background(), ModeSafe, 100)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if sum.Scanned != 10000 {
		t.Errorf("scanned = %d, want 10000", sum.Scanned)
	}
	if sum.Deleted != 10000 {
		t.Errorf("deleted = %d, want 10000", sum.Deleted)
	}
	if mem.Len() != 0 {
		t.Errorf("%d records left, want 0", mem.Len())
	}
	if durable.maxBatch > 100 {
		t.Errorf("largest batch touched %d records, want <= 100", durable.maxBatch)
	}
	if durable.batches < 100 {
		t.Errorf("ran %d batches, expected the sweep to be split into at least 100", durable.batches)
	}
}

func TestCleanupSafeKeepsYoungRecords(t *testing.T) {
	mem := storage.NewMemDurable()
	seedDurable(mem, 150, nowMillis-(31*24*time.Hour).Milliseconds())
	seedDurable(mem, 50, nowMillis-time.Hour.Milliseconds())

	m := newManager(mem, storage.NewMemIndex())

	sum, err := m.Cleanup(context.Background(), ModeSafe, 100)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if sum.Deleted != 150 {
		t.Errorf("deleted = %d, want only the 150 aged-out records", sum.Deleted)
	}
	if mem.Len() != 50 {
		t.Errorf("%d records left, want 50", mem.Len())
	}
}

func TestCleanupForceDeletesEverything(t *testing.T) {
	mem := storage.NewMemDurable()
	seedDurable(mem, 250, nowMillis-time.Minute.Milliseconds())

	m := newManager(mem, storage.NewMemIndex())

	sum, err := m.Cleanup(context.Background(), ModeForce, 300)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if sum.Deleted != 250 || mem.Len() != 0 {
		t.Errorf("deleted=%d left=%d, want 250/0", sum.Deleted, mem.Len())
	}
}

func TestCleanupUnknownMode(t *testing.T) {
	m := newManager(storage.NewMemDurable(), storage.NewMemIndex())
	if _, err := m.Cleanup(context.Background(), Mode("yolo"), 100); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

// brokenDurable always fails deletes; the sweep must give up instead
// of spinning on the same batch forever.
type brokenDurable struct {
	*storage.MemDurable
	attempts int
}

func (b *brokenDurable) Delete(context.Context, []string) (int, error) {
	b.attempts++
	return 0, errors.New("simulated outage")
}

func TestCleanupAbortsWhenStalled(t *testing.T) {
	mem := storage.NewMemDurable()
	seedDurable(mem, 500, nowMillis-(31*24*time.Hour).Milliseconds())

	durable := &brokenDurable{MemDurable: mem}
	m := newManager(durable, storage.NewMemIndex())

	sum, err := m.Cleanup(context.Background(), ModeSafe, 100)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if sum.Deleted != 0 {
		t.Errorf("deleted = %d, want 0", sum.Deleted)
	}
	if durable.attempts > deleteAttempts*stalledBatchLimit {
		t.Errorf("delete attempted %d times, want at most %d", durable.attempts, deleteAttempts*stalledBatchLimit)
	}
}

func TestClampBatchSize(t *testing.T) {
	cases := map[int]int{0: DefaultBatchSize, -5: DefaultBatchSize, 1: MinBatchSize, 100: 100, 250: 250, 300: 300, 5000: MaxBatchSize}
	for in, want := range cases {
		if got := ClampBatchSize(in); got != want {
			t.Errorf("ClampBatchSize(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestExpireShortLived(t *testing.T) {
	index := storage.NewMemIndex()
	ctx := context.Background()

	index.Insert(ctx, model.ShortLivedRecord{
		LogRecord: model.LogRecord{ID: "stale", Timestamp: 1, ReceivedAt: 1},
		ExpiresAt: nowMillis - 1,
	})
	index.Insert(ctx, model.ShortLivedRecord{
		LogRecord: model.LogRecord{ID: "live", Timestamp: 2, ReceivedAt: 2},
		ExpiresAt: nowMillis + time.Hour.Milliseconds(),
	})

	m := newManager(storage.NewMemDurable(), index)

	removed, err := m.ExpireShortLived(ctx)
	if err != nil {
		t.Fatalf("ExpireShortLived: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if index.Len() != 1 {
		t.Errorf("%d records left, want 1", index.Len())
	}
}
