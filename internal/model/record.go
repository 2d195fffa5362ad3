package model

// SystemArea identifies the runtime environment a log record came from.
type SystemArea string

const (
	AreaClient         SystemArea = "client"
	AreaEdgeWorker     SystemArea = "edge_worker"
	AreaServerFunction SystemArea = "server_function"
	AreaManual         SystemArea = "manual"
)

// Areas lists every system area in a stable order.
var Areas = []SystemArea{AreaClient, AreaEdgeWorker, AreaServerFunction, AreaManual}

func (a SystemArea) Valid() bool {
	switch a {
	case AreaClient, AreaEdgeWorker, AreaServerFunction, AreaManual:
		return true
	}
	return false
}

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// AnonymousUser is the sentinel user_id for records submitted without one.
const AnonymousUser = "anonymous"

// LogRecord is one observed event. Timestamps are epoch milliseconds:
// Timestamp is producer-supplied, ReceivedAt is assigned by the gateway.
type LogRecord struct {
	ID         string     `json:"id"`
	TraceID    string     `json:"trace_id"`
	UserID     string     `json:"user_id"`
	SystemArea SystemArea `json:"system_area"`
	Level      Level      `json:"level"`
	Message    string     `json:"message"`
	RawArgs    []string   `json:"raw_args,omitempty"`
	StackTrace string     `json:"stack_trace,omitempty"`
	Timestamp  int64      `json:"timestamp"`
	ReceivedAt int64      `json:"received_at"`
}

// DurableRecord is the no-expiry projection kept for batch analysis.
// Processed is flipped by the downstream pipeline, never by the gateway.
type DurableRecord struct {
	LogRecord
	Processed bool `json:"processed"`
}

// ShortLivedRecord is the live-query projection. ExpiresAt is
// ReceivedAt plus the short-lived TTL (one hour).
type ShortLivedRecord struct {
	LogRecord
	ExpiresAt int64 `json:"expires_at"`
}

// ShortLivedTTLMillis is how long the live projection of a record stays
// queryable.
const ShortLivedTTLMillis = 60 * 60 * 1000
