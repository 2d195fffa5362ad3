package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"log-gateway/internal/model"
)

// Static allocation of the window capacity, in percent. Manually
// injected records have no allocation of their own and admit only by
// borrowing unused capacity from the runtime areas.
var allocationPct = map[model.SystemArea]int64{
	model.AreaClient:         40,
	model.AreaEdgeWorker:     30,
	model.AreaServerFunction: 30,
	model.AreaManual:         0,
}

// Decision is the outcome of an admission check.
type Decision int

const (
	// Denied means the window capacity is exhausted for this area.
	Denied Decision = iota
	// Admitted means the record may be written.
	Admitted
	// AdmittedWarn means admitted, but the budget cycle is past the
	// warning threshold and operators should be alerted.
	AdmittedWarn
	// BudgetDenied means the monthly budget is past the fail-closed
	// threshold and only critical records are admitted.
	BudgetDenied
)

type Config struct {
	// Window is the rolling rate window per system area.
	Window time.Duration
	// WindowCapacity is the global number of records admitted per window.
	WindowCapacity int64
	// BudgetCap is the number of records admitted per monthly cycle.
	BudgetCap int64
}

// tryAdmit runs the whole admission decision as one script so that the
// check and the counter increments are a single atomic step. A
// read-then-write pair here is exactly the race this component exists
// to prevent.
//
// KEYS: one hash per area in model.Areas order, then the global hash.
// ARGV: areaIndex, critical, nowMillis, windowMillis,
//       limit per area (4), windowCapacity, budgetCap, cycleStartMillis.
//
// Missing hashes are synthesized in place, so a ledger with no prior
// state admits records instead of erroring.
//
// Returns: 0 window denied, 1 admitted, 2 admitted past the warning
// threshold, 3 budget denied.
var tryAdmit = redis.NewScript(5, `
	local idx = tonumber(ARGV[1])
	local critical = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local window = tonumber(ARGV[4])
	local capacity = tonumber(ARGV[9])
	local budget_cap = tonumber(ARGV[10])
	local cycle_start = tonumber(ARGV[11])

	local stored_cycle = tonumber(redis.call("HGET", KEYS[5], "cycle_start")) or 0
	if stored_cycle < cycle_start then
		redis.call("HSET", KEYS[5], "cycle_start", cycle_start)
		redis.call("HSET", KEYS[5], "budget_used", 0)
	end
	local budget_used = tonumber(redis.call("HGET", KEYS[5], "budget_used")) or 0

	if critical == 0 and budget_used * 100 >= budget_cap * 95 then
		return 3
	end

	local counts = {}
	local total = 0
	for i = 1, 4 do
		local reset_at = tonumber(redis.call("HGET", KEYS[i], "reset_at")) or 0
		local count = tonumber(redis.call("HGET", KEYS[i], "count")) or 0
		if now >= reset_at then
			count = 0
			redis.call("HSET", KEYS[i], "count", 0)
			redis.call("HSET", KEYS[i], "reset_at", now + window)
		end
		counts[i] = count
		total = total + count
	end

	if critical == 0 then
		if total >= capacity then
			return 0
		end
		local limit = tonumber(ARGV[4 + idx])
		if counts[idx] >= limit then
			local unused = 0
			for i = 1, 4 do
				if i ~= idx then
					local l = tonumber(ARGV[4 + i])
					if counts[i] < l then
						unused = unused + (l - counts[i])
					end
				end
			end
			if unused <= 0 then
				return 0
			end
		end
	end

	redis.call("HINCRBY", KEYS[idx], "count", 1)
	redis.call("HINCRBY", KEYS[5], "budget_used", 1)

	if budget_used * 100 >= budget_cap * 80 then
		return 2
	end
	return 1
`)

// release is the compensating decrement for "admitted but the storage
// write failed": the caller's retry must be charged exactly once.
var release = redis.NewScript(2, `
	local c = tonumber(redis.call("HGET", KEYS[1], "count")) or 0
	if c > 0 then
		redis.call("HSET", KEYS[1], "count", c - 1)
	end
	local b = tonumber(redis.call("HGET", KEYS[2], "budget_used")) or 0
	if b > 0 then
		redis.call("HSET", KEYS[2], "budget_used", b - 1)
	end
	return 1
`)

type Ledger struct {
	pool *redis.Pool
	cfg  Config
	now  func() time.Time
}

func NewLedger(pool *redis.Pool, cfg Config) *Ledger {
	return &Ledger{pool: pool, cfg: cfg, now: time.Now}
}

func areaKey(a model.SystemArea) string {
	return "quota:" + string(a)
}

const globalKey = "quota:global"

// Limit returns the window allocation for one area.
func (l *Ledger) Limit(a model.SystemArea) int64 {
	return l.cfg.WindowCapacity * allocationPct[a] / 100
}

// cycleStart returns the UTC first-of-month boundary for t, the start
// of the current monthly budget cycle.
func cycleStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
}

// TryAdmit atomically decides admission for one record and, when
// admitted, charges the window and budget counters. Critical records
// bypass both caps but are still counted.
func (l *Ledger) TryAdmit(ctx context.Context, area model.SystemArea, critical bool) (Decision, error) {
	if !area.Valid() {
		return Denied, fmt.Errorf("unknown system area %q", area)
	}

	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return Denied, fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	idx := 0
	args := []any{}
	for i, a := range model.Areas {
		if a == area {
			idx = i + 1
		}
		args = append(args, areaKey(a))
	}
	args = append(args, globalKey)

	crit := 0
	if critical {
		crit = 1
	}
	now := l.now()
	args = append(args, idx, crit, now.UnixMilli(), l.cfg.Window.Milliseconds())
	for _, a := range model.Areas {
		args = append(args, l.Limit(a))
	}
	args = append(args, l.cfg.WindowCapacity, l.cfg.BudgetCap, cycleStart(now))

	code, err := redis.Int(tryAdmit.Do(conn, args...))
	if err != nil {
		return Denied, fmt.Errorf("failed to run admission check: %w", err)
	}

	switch code {
	case 1:
		return Admitted, nil
	case 2:
		return AdmittedWarn, nil
	case 3:
		return BudgetDenied, nil
	default:
		return Denied, nil
	}
}

// Release undoes a prior admission after a failed storage write.
func (l *Ledger) Release(ctx context.Context, area model.SystemArea) error {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	if _, err := release.Do(conn, areaKey(area), globalKey); err != nil {
		return fmt.Errorf("failed to release quota slot: %w", err)
	}
	return nil
}

type AreaStatus struct {
	Count   int64 `json:"count"`
	Limit   int64 `json:"limit"`
	ResetAt int64 `json:"reset_at"`
}

type Status struct {
	PerSystem      map[model.SystemArea]AreaStatus `json:"per_system"`
	WindowCapacity int64                           `json:"window_capacity"`
	BudgetUsed     int64                           `json:"budget_used"`
	BudgetCap      int64                           `json:"budget_cap"`
	BudgetPct      float64                         `json:"budget_pct"`
	CycleStart     int64                           `json:"cycle_start"`
}

// Snapshot reads the ledger for operator dashboards. Counts for areas
// whose window has already lapsed are reported as zero.
func (l *Ledger) Snapshot(ctx context.Context) (Status, error) {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	now := l.now().UnixMilli()
	st := Status{
		PerSystem:      make(map[model.SystemArea]AreaStatus, len(model.Areas)),
		WindowCapacity: l.cfg.WindowCapacity,
		BudgetCap:      l.cfg.BudgetCap,
	}

	for _, a := range model.Areas {
		vals, err := redis.Int64Map(conn.Do("HGETALL", areaKey(a)))
		if err != nil {
			return Status{}, fmt.Errorf("failed to read ledger for %s: %w", a, err)
		}
		as := AreaStatus{
			Count:   vals["count"],
			Limit:   l.Limit(a),
			ResetAt: vals["reset_at"],
		}
		if now >= as.ResetAt {
			as.Count = 0
		}
		st.PerSystem[a] = as
	}

	vals, err := redis.Int64Map(conn.Do("HGETALL", globalKey))
	if err != nil {
		return Status{}, fmt.Errorf("failed to read global ledger: %w", err)
	}
	st.BudgetUsed = vals["budget_used"]
	st.CycleStart = vals["cycle_start"]
	if st.BudgetCap > 0 {
		st.BudgetPct = float64(st.BudgetUsed) / float64(st.BudgetCap)
	}
	return st, nil
}
