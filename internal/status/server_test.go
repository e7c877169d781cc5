package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"watchhound/internal/bus"
	"watchhound/internal/events"
	"watchhound/internal/store"
)

func setupServerTest(t *testing.T, password string) (*Server, *bus.Bus, http.Handler) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := bus.New(20)
	t.Cleanup(b.Close)

	srv := NewServer(Config{Addr: ":0", Password: password}, b, db, NewHub())
	return srv, b, srv.routes()
}

func getJSON(t *testing.T, h http.Handler, path string, password string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if password != "" {
		req.SetBasicAuth("watchhound", password)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return w.Code, body
}

func TestHealthEndpointIsOpen(t *testing.T) {
	_, _, h := setupServerTest(t, "secret")

	code, body := getJSON(t, h, "/health", "")
	if code != http.StatusOK {
		t.Fatalf("/health = %d", code)
	}
	if body["status"] != "healthy" || body["uptime"] == "" {
		t.Errorf("health body = %v", body)
	}
}

func TestHealthReportsDegraded(t *testing.T) {
	srv, _, h := setupServerTest(t, "")
	srv.SetDegraded("event stream down")

	code, body := getJSON(t, h, "/health", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("degraded /health = %d", code)
	}
	if body["status"] != "unhealthy" || body["reason"] != "event stream down" {
		t.Errorf("body = %v", body)
	}

	srv.SetDegraded("")
	if code, _ := getJSON(t, h, "/health", ""); code != http.StatusOK {
		t.Errorf("cleared /health = %d", code)
	}
}

func TestAPIRejectsMissingAuth(t *testing.T) {
	_, _, h := setupServerTest(t, "secret")

	if code, _ := getJSON(t, h, "/api/status", ""); code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /api/status = %d", code)
	}
	if code, _ := getJSON(t, h, "/api/status", "wrong-password"); code != http.StatusUnauthorized {
		t.Errorf("bad password /api/status = %d", code)
	}
}

func TestAPIAcceptsCorrectPassword(t *testing.T) {
	_, _, h := setupServerTest(t, "secret")

	if code, _ := getJSON(t, h, "/api/status", "secret"); code != http.StatusOK {
		t.Errorf("authenticated /api/status = %d", code)
	}
}

func TestAuthDisabledWithoutPassword(t *testing.T) {
	_, _, h := setupServerTest(t, "")

	if code, _ := getJSON(t, h, "/api/status", ""); code != http.StatusOK {
		t.Errorf("open /api/status = %d", code)
	}
}

func TestEventsEndpointReturnsRecent(t *testing.T) {
	_, b, h := setupServerTest(t, "")
	b.Emit(events.New(events.SeverityWarning, events.CategoryMonitor, "disk filling"))

	code, body := getJSON(t, h, "/api/events", "")
	if code != http.StatusOK {
		t.Fatalf("/api/events = %d", code)
	}
	list, ok := body["events"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("events = %v", body["events"])
	}
	first := list[0].(map[string]any)
	if first["message"] != "disk filling" {
		t.Errorf("event = %v", first)
	}
}

func TestStatusIncludesMonitors(t *testing.T) {
	srv, _, _ := setupServerTest(t, "")
	srv.AddMonitor("fake", statsFunc(func() map[string]any {
		return map[string]any{"checks": 7}
	}))

	code, body := getJSON(t, srv.routes(), "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("/api/status = %d", code)
	}
	monitors := body["monitors"].(map[string]any)
	fake := monitors["fake"].(map[string]any)
	if fake["checks"] != 7.0 {
		t.Errorf("monitor stats = %v", fake)
	}
}

func TestCreateNotifierRegistersAndPersists(t *testing.T) {
	_, b, h := setupServerTest(t, "")

	payload := `{"name":"hook","type":"webhook","min_severity":"error",
		"settings":{"url":"https://example.com/hook"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/notifiers", strings.NewReader(payload))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}

	var found bool
	for _, n := range b.GetStatus().Notifiers {
		if n.Name == "hook" {
			found = true
		}
	}
	if !found {
		t.Error("created sink not registered on the bus")
	}

	code, body := getJSON(t, h, "/api/notifiers", "")
	if code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	rows := body["notifiers"].([]any)
	if len(rows) != 1 {
		t.Errorf("stored rows = %v", rows)
	}
}

func TestCreateNotifierRejectsBadSpec(t *testing.T) {
	_, _, h := setupServerTest(t, "")

	cases := []string{
		`{"type":"webhook"}`,
		`{"name":"x","type":"carrier-pigeon"}`,
		`{"name":"x","type":"webhook","settings":{}}`,
		`not json`,
	}
	for _, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/notifiers", strings.NewReader(payload))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("payload %q = %d, want 400", payload, w.Code)
		}
	}
}

func TestDeleteNotifier(t *testing.T) {
	_, b, h := setupServerTest(t, "")

	create := httptest.NewRequest(http.MethodPost, "/api/notifiers",
		strings.NewReader(`{"name":"gone","type":"webhook","settings":{"url":"https://x.test"}}`))
	h.ServeHTTP(httptest.NewRecorder(), create)

	del := httptest.NewRequest(http.MethodDelete, "/api/notifiers/gone", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, del)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", w.Code, w.Body.String())
	}

	for _, n := range b.GetStatus().Notifiers {
		if n.Name == "gone" {
			t.Error("deleted sink still registered")
		}
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/notifiers/gone", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _, h := setupServerTest(t, "")

	store.RecordDelivery(srv.db, &store.DeliveryRecord{
		Notifier: "tg", EventID: "e1", Severity: "ERROR", Delivered: true,
	})

	code, body := getJSON(t, h, "/api/history", "")
	if code != http.StatusOK {
		t.Fatalf("/api/history = %d", code)
	}
	if rows := body["deliveries"].([]any); len(rows) != 1 {
		t.Errorf("deliveries = %v", rows)
	}
}

// statsFunc adapts a function to StatsSource.
type statsFunc func() map[string]any

func (f statsFunc) Stats() map[string]any { return f() }
