package storage

import (
	"context"
	"sort"
	"sync"

	"log-gateway/internal/model"
)

// MemDurable is an in-process DurableStore. It backs local development
// when no OpenSearch cluster is configured, and the package tests.
type MemDurable struct {
	mu   sync.RWMutex
	recs map[string]model.DurableRecord
}

func NewMemDurable() *MemDurable {
	return &MemDurable{recs: make(map[string]model.DurableRecord)}
}

func (m *MemDurable) Insert(_ context.Context, rec model.DurableRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

func (m *MemDurable) Search(_ context.Context, f Filters) ([]model.DurableRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.DurableRecord
	for _, rec := range m.recs {
		if Match(rec.LogRecord, f) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemDurable) ScanOlderThan(_ context.Context, cutoff int64, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.recs {
		if rec.ReceivedAt < cutoff {
			ids = append(ids, id)
			if len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

func (m *MemDurable) Delete(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := m.recs[id]; ok {
			delete(m.recs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemDurable) MarkProcessed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if rec, ok := m.recs[id]; ok {
			rec.Processed = true
			m.recs[id] = rec
		}
	}
	return nil
}

// Len reports how many records are stored.
func (m *MemDurable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}

// MemIndex is the in-process short-lived projection used for live
// queries, in the spirit of an in-memory memtable: fast inserts under
// a single lock, swept by the retention manager.
type MemIndex struct {
	mu   sync.RWMutex
	recs map[string]model.ShortLivedRecord
}

func NewMemIndex() *MemIndex {
	return &MemIndex{recs: make(map[string]model.ShortLivedRecord)}
}

func (m *MemIndex) Insert(_ context.Context, rec model.ShortLivedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

func (m *MemIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *MemIndex) Search(_ context.Context, f Filters) ([]model.ShortLivedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ShortLivedRecord
	for _, rec := range m.recs {
		if Match(rec.LogRecord, f) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemIndex) ExpireSweep(_ context.Context, now int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.recs {
		if rec.ExpiresAt <= now {
			delete(m.recs, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records are indexed, expired or not.
func (m *MemIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}
