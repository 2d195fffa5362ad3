package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"log-gateway/internal/model"
)

var (
	indexingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_gateway_opensearch_errors_total",
		Help: "The total number of failed OpenSearch requests",
	})
	indexingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_gateway_opensearch_duration_seconds",
		Help:    "The duration of requests to OpenSearch",
		Buckets: prometheus.DefBuckets,
	})
)

// OpenSearchStore is the production DurableStore.
type OpenSearchStore struct {
	client *opensearch.Client
	index  string
}

func NewOpenSearchStore(addresses []string, index string) (*OpenSearchStore, error) {
	cfg := opensearch.Config{
		Addresses: addresses,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	client, err := opensearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchStore{client: client, index: index}, nil
}

func (s *OpenSearchStore) Insert(ctx context.Context, rec model.DurableRecord) error {
	timer := prometheus.NewTimer(indexingDuration)
	defer timer.ObserveDuration()

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      s.index,
		DocumentID: rec.ID,
		Body:       strings.NewReader(string(body)),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		indexingErrors.Inc()
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		indexingErrors.Inc()
		return fmt.Errorf("%w: opensearch error: %s", ErrTransient, res.String())
	}
	return nil
}

// query assembles the OpenSearch bool filter for the filter set.
func query(f Filters, sortField string) map[string]any {
	var must []map[string]any
	if f.TraceID != "" {
		must = append(must, map[string]any{"term": map[string]any{"trace_id.keyword": f.TraceID}})
	}
	if f.Area != "" {
		must = append(must, map[string]any{"term": map[string]any{"system_area.keyword": string(f.Area)}})
	}
	if f.Level != "" {
		must = append(must, map[string]any{"term": map[string]any{"level.keyword": string(f.Level)}})
	}
	if f.UserID != "" {
		must = append(must, map[string]any{"term": map[string]any{"user_id.keyword": f.UserID}})
	}
	if f.From != 0 || f.To != 0 {
		rng := map[string]any{}
		if f.From != 0 {
			rng["gte"] = f.From
		}
		if f.To != 0 {
			rng["lte"] = f.To
		}
		must = append(must, map[string]any{"range": map[string]any{"timestamp": rng}})
	}
	if len(must) == 0 {
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}

	q := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": must}},
	}
	if sortField != "" {
		q["sort"] = []map[string]any{{sortField: map[string]any{"order": "asc"}}}
	}
	return q
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string              `json:"_id"`
			Source model.DurableRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *OpenSearchStore) search(ctx context.Context, body map[string]any, size int) (*searchResponse, error) {
	timer := prometheus.NewTimer(indexingDuration)
	defer timer.ObserveDuration()

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{s.index},
		Body:  strings.NewReader(string(data)),
		Size:  &size,
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		indexingErrors.Inc()
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		indexingErrors.Inc()
		return nil, fmt.Errorf("%w: opensearch error: %s", ErrTransient, res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &sr, nil
}

func (s *OpenSearchStore) Search(ctx context.Context, f Filters) ([]model.DurableRecord, error) {
	size := f.Limit
	if size <= 0 {
		size = 500
	}

	sr, err := s.search(ctx, query(f, "timestamp"), size)
	if err != nil {
		return nil, err
	}

	out := make([]model.DurableRecord, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (s *OpenSearchStore) ScanOlderThan(ctx context.Context, cutoff int64, limit int) ([]string, error) {
	body := map[string]any{
		"query": map[string]any{
			"range": map[string]any{"received_at": map[string]any{"lt": cutoff}},
		},
		"_source": false,
	}

	sr, err := s.search(ctx, body, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
	} `json:"items"`
}

func (s *OpenSearchStore) bulk(ctx context.Context, body string) (*bulkResponse, error) {
	timer := prometheus.NewTimer(indexingDuration)
	defer timer.ObserveDuration()

	req := opensearchapi.BulkRequest{
		Body:    strings.NewReader(body),
		Refresh: "true",
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		indexingErrors.Inc()
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		indexingErrors.Inc()
		return nil, fmt.Errorf("%w: opensearch bulk error: %s", ErrTransient, res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	return &br, nil
}

func (s *OpenSearchStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var buf strings.Builder
	for _, id := range ids {
		buf.WriteString(fmt.Sprintf(`{ "delete": { "_index": "%s", "_id": "%s" } }%s`, s.index, id, "\n"))
	}

	br, err := s.bulk(ctx, buf.String())
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, item := range br.Items {
		if st, ok := item["delete"]; ok && st.Status < 300 {
			deleted++
		}
	}
	return deleted, nil
}

func (s *OpenSearchStore) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var buf strings.Builder
	for _, id := range ids {
		buf.WriteString(fmt.Sprintf(`{ "update": { "_index": "%s", "_id": "%s" } }%s`, s.index, id, "\n"))
		buf.WriteString(`{ "doc": { "processed": true } }` + "\n")
	}

	_, err := s.bulk(ctx, buf.String())
	return err
}
