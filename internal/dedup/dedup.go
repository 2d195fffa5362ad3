package dedup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"log-gateway/internal/model"
)

// Window is how long a fingerprint suppresses repeats. It slides per
// fingerprint: the first record after expiry starts a fresh window.
const Window = time.Second

// checkAndRecord is the atomic existence-check-and-create. Doing both
// sides in one script closes the race where two concurrent submissions
// with the same fingerprint both observe "no existing fingerprint".
// Returns the suppressed count: 0 means the fingerprint is fresh and
// the record should be admitted.
var checkAndRecord = redis.NewScript(1, `
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return redis.call("HINCRBY", KEYS[1], "suppressed", 1)
	end
	redis.call("HSET", KEYS[1], "first_seen", ARGV[1])
	redis.call("HSET", KEYS[1], "suppressed", 0)
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 0
`)

type Deduplicator struct {
	pool   *redis.Pool
	window time.Duration
	now    func() time.Time
}

func New(pool *redis.Pool) *Deduplicator {
	return &Deduplicator{
		pool:   pool,
		window: Window,
		now:    time.Now,
	}
}

// Fingerprint returns the stable key for an (area, message) pair.
// Matching is exact on the raw message; fuzzy normalization is a
// documented non-guarantee.
func Fingerprint(area model.SystemArea, message string) string {
	return fmt.Sprintf("fp:%x", sha256.Sum256([]byte(string(area)+"\x00"+message)))
}

// CheckAndRecord reports whether the record is a duplicate within the
// current window. On the first sighting it records the fingerprint; on
// a repeat it increments the suppressed counter and returns its value.
func (d *Deduplicator) CheckAndRecord(ctx context.Context, area model.SystemArea, message string) (bool, int64, error) {
	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	suppressed, err := redis.Int64(checkAndRecord.Do(conn,
		Fingerprint(area, message),
		d.now().UnixMilli(),
		d.window.Milliseconds(),
	))
	if err != nil {
		return false, 0, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return suppressed > 0, suppressed, nil
}

// Forget drops a fingerprint so the next identical record is treated
// as fresh. This is the compensating step for a record that created
// the fingerprint but was never stored: without it the caller's retry
// would be suppressed against a record that does not exist.
func (d *Deduplicator) Forget(ctx context.Context, area model.SystemArea, message string) error {
	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("DEL", Fingerprint(area, message)); err != nil {
		return fmt.Errorf("failed to drop fingerprint: %w", err)
	}
	return nil
}

// SuppressedCount returns the suppressed counter for a live
// fingerprint, or 0 when the window has already expired.
func (d *Deduplicator) SuppressedCount(ctx context.Context, area model.SystemArea, message string) (int64, error) {
	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	n, err := redis.Int64(conn.Do("HGET", Fingerprint(area, message), "suppressed"))
	if err == redis.ErrNil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read fingerprint: %w", err)
	}
	return n, nil
}
