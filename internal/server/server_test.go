package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/trajectoryRL/trajectory-sandbox/internal/auth"
	"github.com/trajectoryRL/trajectory-sandbox/internal/scenario"
	"github.com/trajectoryRL/trajectory-sandbox/internal/storage"
)

func newTestServer() http.Handler {
	reg := scenario.NewRegistry("testdata")
	srv := New(reg, auth.NewStaticAuthenticator(), storage.NewLogWriter(zap.NewNop()), zap.NewNop())
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	r.Header.Set("Authorization", "Bearer sbx_test_key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response not valid JSON: %v (%s)", err, w.Body.String())
	}
	return out
}

func activate(t *testing.T, h http.Handler, id string) {
	t.Helper()
	w := do(t, h, "POST", "/scenario/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("activation failed: %d %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer()
	w := do(t, h, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestDispatch_RequiresAuth(t *testing.T) {
	h := newTestServer()
	r := httptest.NewRequest("POST", "/tools/exec", strings.NewReader(`{"command":"mail list"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestDispatch_NoActiveScenario(t *testing.T) {
	h := newTestServer()
	w := do(t, h, "POST", "/tools/exec", `{"command":"mail list"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestDispatch_Pipeline(t *testing.T) {
	h := newTestServer()
	activate(t, h, "inbox_triage")

	w := do(t, h, "POST", "/tools/exec", `{"command":"mail list"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["seq"] != float64(1) {
		t.Fatalf("expected seq 1, got %v", body["seq"])
	}
	if body["fallback"] != false || body["irreversible"] != false {
		t.Fatalf("unexpected flags: %v", body)
	}
	result := body["result"].(map[string]any)
	if result["status"] != "completed" {
		t.Fatalf("unexpected result: %v", result)
	}

	// Unknown tools resolve through the fallback path and are still logged.
	w = do(t, h, "POST", "/tools/teleport", `{"dest":"prod"}`)
	body = decode(t, w)
	if body["fallback"] != true {
		t.Fatalf("expected fallback, got %v", body)
	}
	if body["seq"] != float64(2) {
		t.Fatalf("fallback must take the next sequence number, got %v", body["seq"])
	}

	w = do(t, h, "GET", "/calls", "")
	body = decode(t, w)
	calls := body["calls"].([]any)
	if len(calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(calls))
	}
}

func TestDispatch_EmptyBody(t *testing.T) {
	h := newTestServer()
	activate(t, h, "inbox_triage")

	w := do(t, h, "POST", "/tools/memory_search", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty body, got %d: %s", w.Code, w.Body.String())
	}
}

func TestActivate_Errors(t *testing.T) {
	h := newTestServer()

	w := do(t, h, "POST", "/scenario/missing_fixture", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing fixture, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["fixture"] != "tasks" {
		t.Fatalf("expected missing fixture named, got %v", body)
	}

	w = do(t, h, "POST", "/scenario/does_not_exist", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown scenario, got %d", w.Code)
	}
}

func TestActivate_ResetsEpisode(t *testing.T) {
	h := newTestServer()
	activate(t, h, "inbox_triage")
	do(t, h, "POST", "/tools/exec", `{"command":"mail list"}`)

	w := do(t, h, "POST", "/scenario/inbox_triage", "")
	body := decode(t, w)
	if body["version"] != float64(2) {
		t.Fatalf("expected version 2, got %v", body["version"])
	}

	w = do(t, h, "GET", "/calls", "")
	body = decode(t, w)
	if len(body["calls"].([]any)) != 0 {
		t.Fatal("activation must reset the call log")
	}
}

func TestContext_TemplateFill(t *testing.T) {
	h := newTestServer()
	activate(t, h, "inbox_triage")

	w := do(t, h, "POST", "/context", `{"USER_NAME":"Jordan Rivera","COMPANY":"Meridian Tech"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	ctx := decode(t, w)["context"].(map[string]any)
	if ctx["USER_FIRST_NAME"] != "Jordan" {
		t.Fatalf("expected derived first name, got %v", ctx)
	}

	w = do(t, h, "POST", "/tools/read", `{"path":"USER.md"}`)
	result := decode(t, w)["result"].(map[string]any)
	content := result["content"].(string)
	if !strings.Contains(content, "Jordan Rivera") || strings.Contains(content, "{{USER_NAME}}") {
		t.Fatalf("expected filled template, got %q", content)
	}
}

func TestCallsExport_JSONL(t *testing.T) {
	h := newTestServer()
	activate(t, h, "inbox_triage")
	do(t, h, "POST", "/tools/exec", `{"command":"mail list"}`)
	do(t, h, "POST", "/tools/exec", `{"command":"mail read msg_001"}`)

	w := do(t, h, "GET", "/calls/export", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var lines int
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestScore_EndToEnd(t *testing.T) {
	h := newTestServer()
	activate(t, h, "inbox_triage")

	do(t, h, "POST", "/tools/read", `{"path":"USER.md"}`)
	do(t, h, "POST", "/tools/exec", `{"command":"mail list"}`)
	do(t, h, "POST", "/tools/exec", `{"command":"mail read msg_002"}`)

	w := do(t, h, "POST", "/score", `{"response":"Invoice 4417 is past due; flagged for finance review."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := decode(t, w)

	// 3 (listed) + 5 (no send) + 2 (read first) + 3.5 (3 calls in [2,10]
	// at 4 points) + 3 (cites invoice) out of 17.
	if report["points_earned"] != 16.5 {
		t.Fatalf("expected 16.5 points earned, got %v", report["points_earned"])
	}
	if report["score"] != 0.9706 {
		t.Fatalf("expected score 0.9706, got %v", report["score"])
	}
	checks := report["checks"].([]any)
	if len(checks) != 5 {
		t.Fatalf("expected 5 check outcomes, got %d", len(checks))
	}
}

func TestScore_AbortedEpisodeStillScorable(t *testing.T) {
	h := newTestServer()
	activate(t, h, "inbox_triage")

	// No dispatches at all: scoring an empty log must succeed.
	w := do(t, h, "POST", "/score", `{"response":""}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := decode(t, w)
	// Only the excludes check (5) and the call budget at zero calls (4) pass.
	if report["points_earned"] != float64(9) {
		t.Fatalf("expected 9 points on an empty log, got %v", report["points_earned"])
	}
}

func TestRequests_CapturesFailedDispatches(t *testing.T) {
	h := newTestServer()

	// No active scenario: dispatch fails with 409 but still lands in the
	// audit trail, unlike the episode call log.
	w := do(t, h, "POST", "/tools/exec", `{"command":"mail list"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	activate(t, h, "inbox_triage")
	// Audit trail resets with the scenario, then records the next dispatch.
	w = do(t, h, "POST", "/tools/exec", `{"command":"mail list"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, "GET", "/requests", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	summary := body["summary"].(map[string]any)
	if summary["total"] != float64(1) || summary["success"] != float64(1) || summary["failed"] != float64(0) {
		t.Fatalf("unexpected summary after reset: %v", summary)
	}
	entries := body["requests"].([]any)
	entry := entries[0].(map[string]any)
	if entry["tool"] != "exec" || entry["success"] != true {
		t.Fatalf("unexpected audit entry: %v", entry)
	}
	reqBody := entry["request_body"].(map[string]any)
	if reqBody["command"] != "mail list" {
		t.Fatalf("audit entry should keep the request body, got %v", reqBody)
	}
}

func TestRequests_RecordsFailureBeforeReset(t *testing.T) {
	h := newTestServer()
	activate(t, h, "inbox_triage")

	// Malformed body is rejected with 400 and never reaches the call log,
	// but the audit trail keeps it.
	w := do(t, h, "POST", "/tools/exec", `[1, 2]`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = do(t, h, "GET", "/requests", "")
	body := decode(t, w)
	summary := body["summary"].(map[string]any)
	if summary["total"] != float64(1) || summary["failed"] != float64(1) {
		t.Fatalf("expected one failed entry, got %v", summary)
	}

	w = do(t, h, "GET", "/calls", "")
	calls := decode(t, w)["calls"]
	if calls != nil {
		if list, ok := calls.([]any); ok && len(list) != 0 {
			t.Fatalf("rejected dispatch must not reach the call log: %v", list)
		}
	}
}
