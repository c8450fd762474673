package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/config"
)

const testSessionID = "77777777-7777-4777-8777-777777777777"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	claudeDir := t.TempDir()
	stateDir := t.TempDir()
	cfg := &config.ServerConfig{ClaudeDir: claudeDir}
	return newServer(cfg, statePaths{
		apiKey:       filepath.Join(stateDir, "apikey.json"),
		syncSnapshot: filepath.Join(stateDir, "ratelimit-sync.json"),
		costCache:    filepath.Join(stateDir, "costcache.json.zst"),
	})
}

func seedSession(t *testing.T, s *Server, lines ...string) {
	t.Helper()
	dir := filepath.Join(s.cfg.ProjectsDir(), "proj-a", testSessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, testSessionID+".jsonl"), []byte(content), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestVersionEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if body["version"] == "" {
		t.Fatalf("missing version field: %v", body)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()
	seedSession(t, s,
		`{"type":"user","message":{"content":"<ide-ctx>x</ide-ctx> investigate flaky test"}}`,
		fmt.Sprintf(`{"type":"assistant","timestamp":%q,"message":{"id":"msg_1","model":"claude-sonnet-4","usage":{"input_tokens":1000,"output_tokens":500}}}`,
			now.Format(time.RFC3339)),
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var views []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 session, got %d", len(views))
	}
	v := views[0]
	if v["id"] != testSessionID {
		t.Fatalf("unexpected id: %v", v["id"])
	}
	if v["name"] != "investigate flaky test" {
		t.Fatalf("unexpected name: %v", v["name"])
	}
	if v["isUnindexed"] != true {
		t.Fatalf("expected unindexed flag: %v", v)
	}
	if v["status"] != "active" {
		t.Fatalf("fresh log must be active: %v", v["status"])
	}
	if v["estimatedCost"].(float64) <= 0 {
		t.Fatalf("expected positive cost: %v", v["estimatedCost"])
	}
}

func TestSessionsNameFallsBackToUntitled(t *testing.T) {
	s := newTestServer(t)
	seedSession(t, s,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"msg_1","usage":{"output_tokens":1}}}`,
	)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	var views []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0]["name"] != "Untitled Session" {
		t.Fatalf("expected untitled fallback: %v", views)
	}
}

func TestTodosEndpoint(t *testing.T) {
	s := newTestServer(t)
	todosDir := s.cfg.TodosDir()
	if err := os.MkdirAll(todosDir, 0o755); err != nil {
		t.Fatal(err)
	}
	items := `[{"content":"fix bug","status":"completed"},{"content":"write tests","status":"pending"}]`
	if err := os.WriteFile(filepath.Join(todosDir, testSessionID+"-agent.json"), []byte(items), 0o600); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/todos/"+testSessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 todos, got %v", got)
	}

	rec, body := doJSON(t, s, http.MethodGet, "/api/todos/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest || body["error"] == nil {
		t.Fatalf("expected 400 for invalid id, got %d %v", rec.Code, body)
	}
}

func TestTodosEmptyIsArrayNotNull(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/todos/"+testSessionID, nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatsReadiness(t *testing.T) {
	s := newTestServer(t)
	_, body := doJSON(t, s, http.MethodGet, "/api/stats", "")
	if body["ready"] != false {
		t.Fatalf("expected not-ready stats before rebuild: %v", body)
	}

	seedSession(t, s,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"msg_1","model":"claude-sonnet-4","usage":{"input_tokens":1000,"output_tokens":500}}}`,
	)
	s.costs.Rebuild(time.Now())
	_, body = doJSON(t, s, http.MethodGet, "/api/stats", "")
	if body["ready"] != true {
		t.Fatalf("expected ready stats after rebuild: %v", body)
	}
}

func TestRateLimitEndpointWithSyncFlow(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()
	seedSession(t, s,
		fmt.Sprintf(`{"type":"assistant","timestamp":%q,"message":{"id":"msg_1","model":"claude-sonnet-4","usage":{"input_tokens":10,"output_tokens":100000}}}`,
			now.Add(-time.Hour).Format(time.RFC3339)),
	)
	s.window.Rebuild(now)

	_, body := doJSON(t, s, http.MethodGet, "/api/ratelimit", "")
	if body["ready"] != true || body["active"] != true {
		t.Fatalf("expected active ready estimate: %v", body)
	}
	if body["synced"] != false {
		t.Fatalf("expected unsynced before POST: %v", body)
	}
	if body["usagePercent"].(float64) != 50 {
		t.Fatalf("expected 50%%, got %v", body["usagePercent"])
	}

	rec, body := doJSON(t, s, http.MethodPost, "/api/sync", `{"percent":40,"resetMs":3600000}`)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("sync set failed: %d %v", rec.Code, body)
	}

	_, body = doJSON(t, s, http.MethodGet, "/api/ratelimit", "")
	if body["synced"] != true || body["sync"] == nil {
		t.Fatalf("expected synced state: %v", body)
	}

	rec, _ = doJSON(t, s, http.MethodDelete, "/api/sync", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on clear, got %d", rec.Code)
	}
	_, body = doJSON(t, s, http.MethodGet, "/api/ratelimit", "")
	if body["synced"] != false {
		t.Fatalf("expected unsynced after clear: %v", body)
	}
}

func TestSyncRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t)
	for _, payload := range []string{
		`{"percent":140,"resetMs":3600000}`,
		`{"percent":40,"resetMs":0}`,
		`{broken`,
	} {
		rec, body := doJSON(t, s, http.MethodPost, "/api/sync", payload)
		if rec.Code != http.StatusBadRequest || body["error"] == nil {
			t.Fatalf("payload %q: expected 400 with error, got %d %v", payload, rec.Code, body)
		}
	}
}

func TestConfigEndpointLifecycle(t *testing.T) {
	s := newTestServer(t)

	_, body := doJSON(t, s, http.MethodGet, "/api/config", "")
	if body["hasApiKey"] != false {
		t.Fatalf("expected no key initially: %v", body)
	}

	rec, body := doJSON(t, s, http.MethodPost, "/api/config", `{"apiKey":"sk-ant-admin01-secret1234"}`)
	if rec.Code != http.StatusOK || body["keyType"] != "admin" {
		t.Fatalf("unexpected set response: %d %v", rec.Code, body)
	}
	if masked := body["maskedKey"].(string); strings.Contains(masked, "secret") {
		t.Fatalf("mask leaks key material: %q", masked)
	}

	_, body = doJSON(t, s, http.MethodGet, "/api/config", "")
	if body["hasApiKey"] != true || body["keyType"] != "admin" {
		t.Fatalf("unexpected get response: %v", body)
	}

	rec, body = doJSON(t, s, http.MethodPost, "/api/config", `{"apiKey":"sk-wrong"}`)
	if rec.Code != http.StatusBadRequest || body["error"] == nil {
		t.Fatalf("expected 400 for bad prefix: %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, s, http.MethodDelete, "/api/config", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", rec.Code)
	}
	_, body = doJSON(t, s, http.MethodGet, "/api/config", "")
	if body["hasApiKey"] != false {
		t.Fatalf("expected no key after delete: %v", body)
	}
}

func TestVendorEndpointsReturnTypedErrorPayloads(t *testing.T) {
	s := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodGet, "/api/anthropic/ratelimit", "")
	if rec.Code != http.StatusOK || body["code"] != "no_key" {
		t.Fatalf("expected no_key payload: %d %v", rec.Code, body)
	}

	if _, err := s.keys.Set("sk-ant-api03-standard"); err != nil {
		t.Fatal(err)
	}
	rec, body = doJSON(t, s, http.MethodGet, "/api/anthropic/usage", "")
	if rec.Code != http.StatusOK || body["code"] != "admin_required" {
		t.Fatalf("expected admin_required payload: %d %v", rec.Code, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header: %v", rec.Header())
	}
}
