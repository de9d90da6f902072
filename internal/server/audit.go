package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// auditEntry records one dispatch attempt, successful or not. Unlike the
// episode call log, which only sees resolved calls, the audit trail also
// captures requests rejected before resolution (bad auth, malformed bodies,
// no active scenario).
type auditEntry struct {
	Timestamp   time.Time      `json:"ts"`
	Tool        string         `json:"tool"`
	RequestBody map[string]any `json:"request_body"`
	StatusCode  int            `json:"status_code"`
	Success     bool           `json:"success"`
}

type auditTrail struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *auditTrail) add(e auditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *auditTrail) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}

func (a *auditTrail) snapshot() []auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// audited wraps a dispatch handler so every attempt lands in the audit
// trail. The body is read here and replayed to the handler.
func (s *Server) audited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))

		var body map[string]any
		if len(raw) > 0 && json.Unmarshal(raw, &body) != nil {
			body = map[string]any{"_raw": string(raw)}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		s.audit.add(auditEntry{
			Timestamp:   time.Now().UTC(),
			Tool:        r.PathValue("name"),
			RequestBody: body,
			StatusCode:  rec.status,
			Success:     rec.status >= 200 && rec.status < 300,
		})
		if rec.status >= 400 {
			s.logger.Warn("dispatch rejected",
				zap.String("tool", r.PathValue("name")),
				zap.Int("status", rec.status),
			)
		}
	}
}

// handleRequests returns every dispatch attempt since the last scenario
// activation, failures included.
func (s *Server) handleRequests(w http.ResponseWriter, _ *http.Request) {
	entries := s.audit.snapshot()
	success := 0
	for _, e := range entries {
		if e.Success {
			success++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": entries,
		"summary": map[string]any{
			"total":   len(entries),
			"success": success,
			"failed":  len(entries) - success,
		},
	})
}
