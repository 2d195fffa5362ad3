// Package report is the client used by producing systems to forward
// log records to the ingestion endpoint. Delivery is fire-and-forget:
// Send never blocks the caller's business logic, never panics into it,
// and surfaces the final outcome only through an optional callback.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Record mirrors the ingestion endpoint's submission body.
type Record struct {
	Level      string   `json:"level"`
	Message    string   `json:"message"`
	RawArgs    []string `json:"raw_args,omitempty"`
	SystemArea string   `json:"system_area,omitempty"`
	TraceID    string   `json:"trace_id,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	Timestamp  int64    `json:"timestamp"`
	StackTrace string   `json:"stack_trace,omitempty"`
	Critical   bool     `json:"critical,omitempty"`
}

type Config struct {
	// URL of the ingestion endpoint, e.g. http://gateway:8080/logs.
	URL string
	// Timeout bounds one delivery attempt. Default 2s.
	Timeout time.Duration
	// Attempts bounds retries per record. Default 3.
	Attempts int
	// SendsPerSec paces outgoing deliveries. Default 50.
	SendsPerSec int
}

type Reporter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Reporter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.SendsPerSec <= 0 {
		cfg.SendsPerSec = 50
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 100

	return &Reporter{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: t,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.SendsPerSec), cfg.SendsPerSec),
	}
}

// Send delivers the record in the background. If done is non-nil it is
// invoked exactly once with the final error, nil on success. A record
// with no timestamp is stamped with the current time.
func (r *Reporter) Send(rec Record, done func(error)) {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}

	go func() {
		defer func() {
			// The reporter runs inside best-effort instrumentation; a
			// panic here must never reach the host program.
			recover()
		}()

		err := r.deliver(rec)
		if done != nil {
			done(err)
		}
	}()
}

func (r *Reporter) deliver(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(backoff)
			backoff *= 2
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		if err := r.limiter.Wait(ctx); err != nil {
			cancel()
			lastErr = err
			continue
		}
		lastErr = r.attempt(ctx, data)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (r *Reporter) attempt(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send record: %w", err)
	}
	defer resp.Body.Close()

	// 4xx outcomes (rejections, suppressions are 2xx) are final; only
	// server-side failures are worth a retry.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server returned error status: %s", resp.Status)
	}
	return nil
}
