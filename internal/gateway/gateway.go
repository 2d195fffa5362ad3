package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"log-gateway/internal/classify"
	"log-gateway/internal/dedup"
	"log-gateway/internal/metrics"
	"log-gateway/internal/model"
	"log-gateway/internal/quota"
	"log-gateway/internal/redact"
	"log-gateway/internal/storage"
)

// Outcome of a submission.
type Outcome string

const (
	OutcomeAccepted   Outcome = "accepted"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeRejected   Outcome = "rejected"
)

// Rejection reasons surfaced to the caller.
const (
	ReasonValidation    = "validation_error"
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonStorage       = "storage_error"
)

// invalidAreaLabel stands in for the area label on submissions that
// fail validation, keeping metric cardinality bounded by the enum.
const invalidAreaLabel = "invalid"

// Submission is one incoming record plus the request metadata needed
// for system-area detection.
type Submission struct {
	Level      string   `json:"level"`
	Message    string   `json:"message"`
	RawArgs    []string `json:"raw_args,omitempty"`
	SystemArea string   `json:"system_area,omitempty"`
	TraceID    string   `json:"trace_id,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	Timestamp  int64    `json:"timestamp"`
	StackTrace string   `json:"stack_trace,omitempty"`
	Critical   bool     `json:"critical,omitempty"`

	Origin    string `json:"-"`
	UserAgent string `json:"-"`
}

type Result struct {
	Outcome Outcome
	Reason  string
	// Warn is set when the budget cycle crossed the warning threshold.
	Warn bool
	// Suppressed carries the fingerprint's counter on a suppressed outcome.
	Suppressed int64
	Record     *model.LogRecord
}

// Queue is the fan-out to the batch pipeline. Implementations must not
// block longer than the submission context allows.
type Queue interface {
	Publish(ctx context.Context, rec model.DurableRecord) error
}

type Gateway struct {
	dedup      *dedup.Deduplicator
	quota      *quota.Ledger
	durable    storage.DurableStore
	shortLived storage.ShortLivedStore
	queue      Queue
	timeout    time.Duration
	now        func() time.Time
}

func New(d *dedup.Deduplicator, q *quota.Ledger, durable storage.DurableStore, shortLived storage.ShortLivedStore, queue Queue, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{
		dedup:      d,
		quota:      q,
		durable:    durable,
		shortLived: shortLived,
		queue:      queue,
		timeout:    timeout,
		now:        time.Now,
	}
}

func rejected(reason string) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason}
}

// Submit runs the full admission pipeline: validate, redact, classify,
// dedup check, quota check, dual write. A storage failure after a
// successful quota admission releases the reserved slot and drops the
// recorded fingerprint before the failure is reported, so a caller
// retry is charged exactly once and is not suppressed against a record
// that was never stored.
func (g *Gateway) Submit(ctx context.Context, sub Submission) Result {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Caller-controlled strings never become label values: a client
	// posting distinct garbage areas would mint a time series each.
	level := model.Level(sub.Level)
	if !level.Valid() || sub.Message == "" || sub.Timestamp <= 0 {
		metrics.AdmissionsTotal.WithLabelValues(invalidAreaLabel, string(OutcomeRejected)).Inc()
		return rejected(ReasonValidation)
	}
	if sub.SystemArea != "" && !model.SystemArea(sub.SystemArea).Valid() {
		metrics.AdmissionsTotal.WithLabelValues(invalidAreaLabel, string(OutcomeRejected)).Inc()
		return rejected(ReasonValidation)
	}

	area := classify.SystemArea(classify.Metadata{
		Explicit:  sub.SystemArea,
		Origin:    sub.Origin,
		UserAgent: sub.UserAgent,
	})

	// Redaction runs before any shared state is touched so secrets
	// never reach fingerprints, quota errors, or storage.
	message := redact.Message(sub.Message)
	args := redact.Args(sub.RawArgs)

	isDup, suppressed, err := g.dedup.CheckAndRecord(ctx, area, message)
	if err != nil {
		log.Printf("Dedup check failed: %v", err)
		metrics.AdmissionsTotal.WithLabelValues(string(area), string(OutcomeRejected)).Inc()
		return rejected(ReasonStorage)
	}
	if isDup {
		metrics.SuppressedTotal.WithLabelValues(string(area)).Inc()
		metrics.AdmissionsTotal.WithLabelValues(string(area), string(OutcomeSuppressed)).Inc()
		return Result{Outcome: OutcomeSuppressed, Suppressed: suppressed}
	}

	decision, err := g.quota.TryAdmit(ctx, area, sub.Critical)
	if err != nil {
		log.Printf("Quota check failed: %v", err)
		metrics.AdmissionsTotal.WithLabelValues(string(area), string(OutcomeRejected)).Inc()
		return rejected(ReasonStorage)
	}
	switch decision {
	case quota.Denied:
		metrics.QuotaDenials.WithLabelValues(string(area), "window").Inc()
		metrics.AdmissionsTotal.WithLabelValues(string(area), string(OutcomeRejected)).Inc()
		return rejected(ReasonQuotaExceeded)
	case quota.BudgetDenied:
		metrics.QuotaDenials.WithLabelValues(string(area), "budget").Inc()
		metrics.AdmissionsTotal.WithLabelValues(string(area), string(OutcomeRejected)).Inc()
		return rejected(ReasonQuotaExceeded)
	case quota.AdmittedWarn:
		metrics.BudgetWarnings.Inc()
	}

	rec := model.LogRecord{
		ID:         uuid.NewString(),
		TraceID:    sub.TraceID,
		UserID:     sub.UserID,
		SystemArea: area,
		Level:      level,
		Message:    message,
		RawArgs:    args,
		StackTrace: sub.StackTrace,
		Timestamp:  sub.Timestamp,
		ReceivedAt: g.now().UnixMilli(),
	}
	if rec.TraceID == "" {
		rec.TraceID = uuid.NewString()
	}
	if rec.UserID == "" {
		rec.UserID = model.AnonymousUser
	}

	if err := g.write(ctx, rec); err != nil {
		log.Printf("Dual write failed for %s: %v", rec.ID, err)
		metrics.StorageWriteErrors.Inc()
		// Compensating steps: the admission above must not be
		// charged for a record that was never stored, and the
		// fingerprint it recorded must not suppress the retry.
		if relErr := g.quota.Release(context.WithoutCancel(ctx), area); relErr != nil {
			log.Printf("Quota release failed for %s: %v", area, relErr)
		}
		if fpErr := g.dedup.Forget(context.WithoutCancel(ctx), area, message); fpErr != nil {
			log.Printf("Fingerprint drop failed for %s: %v", area, fpErr)
		}
		metrics.AdmissionsTotal.WithLabelValues(string(area), string(OutcomeRejected)).Inc()
		return rejected(ReasonStorage)
	}

	metrics.AdmissionsTotal.WithLabelValues(string(area), string(OutcomeAccepted)).Inc()
	return Result{
		Outcome: OutcomeAccepted,
		Warn:    decision == quota.AdmittedWarn,
		Record:  &rec,
	}
}

// writeAttempts bounds local retries of a transient write failure
// before it surfaces to the caller.
const writeAttempts = 3

// write stores both projections. If the second write fails the first
// is rolled back so no reader observes one projection without the
// other. The short-lived copy goes in first: the rollback target is
// then the in-process index rather than a delete issued against the
// document store mid-failure.
func (g *Gateway) write(ctx context.Context, rec model.LogRecord) error {
	timer := prometheus.NewTimer(metrics.StorageWriteDuration)
	defer timer.ObserveDuration()

	shortLived := model.ShortLivedRecord{
		LogRecord: rec,
		ExpiresAt: rec.ReceivedAt + model.ShortLivedTTLMillis,
	}
	if err := g.insertWithRetry(ctx, func() error { return g.shortLived.Insert(ctx, shortLived) }); err != nil {
		return fmt.Errorf("short-lived write: %w", err)
	}

	durable := model.DurableRecord{LogRecord: rec}
	if err := g.insertWithRetry(ctx, func() error { return g.durable.Insert(ctx, durable) }); err != nil {
		if delErr := g.shortLived.Delete(context.WithoutCancel(ctx), rec.ID); delErr != nil {
			log.Printf("Rollback of short-lived record %s failed: %v", rec.ID, delErr)
		}
		return fmt.Errorf("durable write: %w", err)
	}

	if g.queue != nil {
		if err := g.queue.Publish(ctx, durable); err != nil {
			log.Printf("Queue publish failed for %s: %v", rec.ID, err)
		}
	}
	return nil
}

func (g *Gateway) insertWithRetry(ctx context.Context, insert func() error) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = insert(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
