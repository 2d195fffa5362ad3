package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"log-gateway/internal/correlate"
	"log-gateway/internal/gateway"
	"log-gateway/internal/metrics"
	"log-gateway/internal/model"
	"log-gateway/internal/quota"
	"log-gateway/internal/retention"
	"log-gateway/internal/storage"
)

type Server struct {
	gateway    *gateway.Gateway
	correlator *correlate.Engine
	retention  *retention.Manager
	ledger     *quota.Ledger
}

func NewServer(gw *gateway.Gateway, eng *correlate.Engine, rm *retention.Manager, ledger *quota.Ledger) *Server {
	return &Server{
		gateway:    gw,
		correlator: eng,
		retention:  rm,
		ledger:     ledger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/correlate", s.handleCorrelate)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/cleanup", s.handleCleanup)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

// cors answers browser preflights. Producers call the ingestion
// endpoint cross-origin and without cookies, so a wildcard origin with
// no credentials is sufficient. Returns true when the request was a
// preflight and has been fully handled.
func cors(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-System-Area")
	w.Header().Set("Access-Control-Max-Age", "600")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	metrics.HttpRequestsTotal.WithLabelValues(strconv.Itoa(status), r.Method).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

type submitResponse struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	ID         string `json:"id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
	Warn       bool   `json:"warn,omitempty"`
	Suppressed int64  `json:"suppressed,omitempty"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		metrics.HttpRequestsTotal.WithLabelValues(strconv.Itoa(http.StatusMethodNotAllowed), r.Method).Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sub gateway.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, r, http.StatusBadRequest, submitResponse{Status: string(gateway.OutcomeRejected), Reason: gateway.ReasonValidation})
		return
	}
	if sub.SystemArea == "" {
		sub.SystemArea = r.Header.Get("X-System-Area")
	}
	sub.Origin = r.Header.Get("Origin")
	sub.UserAgent = r.Header.Get("User-Agent")

	res := s.gateway.Submit(r.Context(), sub)

	resp := submitResponse{Status: string(res.Outcome), Reason: res.Reason, Warn: res.Warn, Suppressed: res.Suppressed}
	if res.Record != nil {
		resp.ID = res.Record.ID
		resp.TraceID = res.Record.TraceID
	}

	switch {
	case res.Outcome == gateway.OutcomeAccepted:
		writeJSON(w, r, http.StatusAccepted, resp)
	case res.Outcome == gateway.OutcomeSuppressed:
		writeJSON(w, r, http.StatusOK, resp)
	case res.Reason == gateway.ReasonQuotaExceeded:
		writeJSON(w, r, http.StatusTooManyRequests, resp)
	case res.Reason == gateway.ReasonStorage:
		writeJSON(w, r, http.StatusServiceUnavailable, resp)
	default:
		writeJSON(w, r, http.StatusBadRequest, resp)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := s.ledger.Snapshot(r.Context())
	if err != nil {
		log.Printf("Ledger snapshot failed: %v", err)
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"error": "ledger unavailable"})
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

func (s *Server) handleCorrelate(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	traceID := r.URL.Query().Get("trace_id")
	if traceID == "" {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "trace_id is required"})
		return
	}

	recs, err := s.correlator.ByTrace(r.Context(), traceID)
	if err != nil {
		log.Printf("Correlation query failed: %v", err)
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"trace_id": traceID, "records": recs})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	f := storage.Filters{
		Area:   model.SystemArea(q.Get("area")),
		Level:  model.Level(q.Get("level")),
		UserID: q.Get("user"),
	}
	var err error
	if f.From, err = intParam(q, "from"); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if f.To, err = intParam(q, "to"); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	f.Limit = int(limit)

	recs, err := s.correlator.Search(r.Context(), f)
	if err != nil {
		log.Printf("Search query failed: %v", err)
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"records": recs})
}

// intParam parses an optional integer query parameter. An absent or
// empty value is 0; a present but unparsable value is an error rather
// than a silently dropped filter.
func intParam(q url.Values, key string) (int64, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Mode      string `json:"mode"`
		BatchSize int    `json:"batch_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	sum, err := s.retention.Cleanup(r.Context(), retention.Mode(req.Mode), req.BatchSize)
	if err != nil {
		log.Printf("Cleanup failed: %v", err)
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, sum)
}
