package correlate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"log-gateway/internal/model"
	"log-gateway/internal/storage"
)

func newEngine(maxResults int) (*Engine, *storage.MemDurable, *storage.MemIndex) {
	durable := storage.NewMemDurable()
	shortLived := storage.NewMemIndex()
	e := New(durable, shortLived, maxResults)
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return e, durable, shortLived
}

func rec(id, traceID string, area model.SystemArea, ts int64) model.LogRecord {
	return model.LogRecord{
		ID:         id,
		TraceID:    traceID,
		UserID:     model.AnonymousUser,
		SystemArea: area,
		Level:      model.LevelInfo,
		Message:    "m-" + id,
		Timestamp:  ts,
		ReceivedAt: 1700000000000,
	}
}

func TestByTraceOrdersByProducerTimestamp(t *testing.T) {
	e, durable, _ := newEngine(0)
	ctx := context.Background()

	// Arrival order deliberately scrambled relative to producer time.
	for _, r := range []model.LogRecord{
		rec("a", "T1", model.AreaEdgeWorker, 150),
		rec("b", "T1", model.AreaClient, 100),
		rec("c", "T1", model.AreaServerFunction, 120),
		rec("d", "T2", model.AreaClient, 90),
	} {
		durable.Insert(ctx, model.DurableRecord{LogRecord: r})
	}

	out, err := e.ByTrace(ctx, "T1")
	if err != nil {
		t.Fatalf("ByTrace: %v", err)
	}

	want := []int64{100, 120, 150}
	if len(out) != len(want) {
		t.Fatalf("got %d records, want %d", len(out), len(want))
	}
	for i, ts := range want {
		if out[i].Timestamp != ts {
			t.Errorf("out[%d].Timestamp = %d, want %d", i, out[i].Timestamp, ts)
		}
	}
	if out[0].SystemArea != model.AreaClient || out[2].SystemArea != model.AreaEdgeWorker {
		t.Errorf("execution flow misordered: %v -> %v -> %v", out[0].SystemArea, out[1].SystemArea, out[2].SystemArea)
	}
}

func TestByTraceMergesProjectionsWithoutDuplication(t *testing.T) {
	e, durable, shortLived := newEngine(0)
	ctx := context.Background()

	// Same record in both projections; the durable copy is canonical.
	shared := rec("dup", "T1", model.AreaClient, 100)
	canonical := shared
	canonical.Message = "canonical"
	durable.Insert(ctx, model.DurableRecord{LogRecord: canonical})
	liveCopy := shared
	liveCopy.Message = "live"
	shortLived.Insert(ctx, model.ShortLivedRecord{LogRecord: liveCopy, ExpiresAt: 1700000000000 + model.ShortLivedTTLMillis})

	// One record only in the live index.
	shortLived.Insert(ctx, model.ShortLivedRecord{
		LogRecord: rec("only-live", "T1", model.AreaEdgeWorker, 200),
		ExpiresAt: 1700000000000 + model.ShortLivedTTLMillis,
	})

	out, err := e.ByTrace(ctx, "T1")
	if err != nil {
		t.Fatalf("ByTrace: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2", len(out))
	}
	if out[0].Message != "canonical" {
		t.Errorf("duplicate resolved to %q, want the durable copy", out[0].Message)
	}
	if out[1].ID != "only-live" {
		t.Errorf("missing live-only record, got %q", out[1].ID)
	}
}

func TestByTraceSkipsExpiredLiveRecords(t *testing.T) {
	e, _, shortLived := newEngine(0)
	ctx := context.Background()

	shortLived.Insert(ctx, model.ShortLivedRecord{
		LogRecord: rec("stale", "T1", model.AreaClient, 100),
		ExpiresAt: 1700000000000 - 1,
	})

	out, err := e.ByTrace(ctx, "T1")
	if err != nil {
		t.Fatalf("ByTrace: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d records, want 0 (expired entries awaiting sweep are invisible)", len(out))
	}
}

func TestSearchFilters(t *testing.T) {
	e, durable, _ := newEngine(0)
	ctx := context.Background()

	durable.Insert(ctx, model.DurableRecord{LogRecord: model.LogRecord{
		ID: "1", TraceID: "T1", UserID: "u1", SystemArea: model.AreaClient, Level: model.LevelError, Message: "boom", Timestamp: 100,
	}})
	durable.Insert(ctx, model.DurableRecord{LogRecord: model.LogRecord{
		ID: "2", TraceID: "T1", UserID: "u2", SystemArea: model.AreaEdgeWorker, Level: model.LevelInfo, Message: "fine", Timestamp: 200,
	}})
	durable.Insert(ctx, model.DurableRecord{LogRecord: model.LogRecord{
		ID: "3", TraceID: "T2", UserID: "u1", SystemArea: model.AreaClient, Level: model.LevelError, Message: "boom again", Timestamp: 900,
	}})

	cases := []struct {
		name string
		f    storage.Filters
		want []string
	}{
		{"by area", storage.Filters{Area: model.AreaClient}, []string{"1", "3"}},
		{"by level", storage.Filters{Level: model.LevelInfo}, []string{"2"}},
		{"by user", storage.Filters{UserID: "u1"}, []string{"1", "3"}},
		{"by time range", storage.Filters{From: 150, To: 500}, []string{"2"}},
		{"combined", storage.Filters{Area: model.AreaClient, UserID: "u1", To: 500}, []string{"1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := e.Search(context.Background(), tc.f)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(out) != len(tc.want) {
				t.Fatalf("got %d records, want %d", len(out), len(tc.want))
			}
			for i, id := range tc.want {
				if out[i].ID != id {
					t.Errorf("out[%d].ID = %q, want %q", i, out[i].ID, id)
				}
			}
		})
	}
}

func TestSearchAppliesResultCap(t *testing.T) {
	e, durable, _ := newEngine(10)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		durable.Insert(ctx, model.DurableRecord{LogRecord: rec(fmt.Sprintf("r%02d", i), "T1", model.AreaClient, int64(i))})
	}

	out, err := e.Search(ctx, storage.Filters{TraceID: "T1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 10 {
		t.Errorf("got %d records, want the cap of 10", len(out))
	}

	// A caller-provided limit above the cap is clamped too.
	out, err = e.Search(ctx, storage.Filters{TraceID: "T1", Limit: 1000})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 10 {
		t.Errorf("got %d records, want the cap of 10", len(out))
	}
}
