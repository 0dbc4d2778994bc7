package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"claude-relay/internal/account"
	"claude-relay/internal/adminauth"
	"claude-relay/internal/concurrency"
	"claude-relay/internal/driver"
	"claude-relay/internal/metrics"
	"claude-relay/internal/orchestrator"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	registry, err := account.New(filepath.Join(dir, "accounts.json"), 0)
	if err != nil {
		t.Fatalf("account.New: %v", err)
	}
	if err := registry.Add(account.Account{ID: "a1", CanOAuth: true, Status: account.StatusValid}); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}

	proxies, err := proxypool.New(proxypool.Settings{Mode: proxypool.ModeDisabled}, "")
	if err != nil {
		t.Fatalf("proxypool.New: %v", err)
	}

	sessions := session.New(registry, proxies, 0)
	oauth := driver.NewOAuthDriver("https://api.example.com", "", "", registry)
	web := driver.NewWebDriver("https://claude.example.com", registry, sessions)
	sessions.SetConversationDeleter(web)
	sessions.SetWebSearchSetter(web)

	orch := orchestrator.New(registry, proxies, sessions, oauth, web, nil, orchestrator.DefaultConfig())

	mgr := concurrency.NewManager(concurrency.DefaultConcurrencyConfig())
	t.Cleanup(mgr.Close)

	admin := adminauth.NewManager("test-secret", "claude-relay-test")

	return New(Config{
		Orchestrator: orch,
		Registry:     registry,
		Proxies:      proxies,
		Concurrency:  mgr,
		Metrics:      metrics.New(metrics.DefaultConfig()),
		Admin:        admin,
		AdminKey:     "test-admin-key",
	})
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleMessages_LivenessProbeShortCircuits(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	body := `{"model":"claude-3-haiku-20240307","max_tokens":10,"messages":[{"role":"user","content":"ping"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "client-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"msg_liveness"`) {
		t.Fatalf("expected canned liveness reply, got %s", w.Body.String())
	}
}

func TestHandleMessages_NoAccountsAvailableReturnsRelayError(t *testing.T) {
	s := newTestServer(t)
	// Remove the only account so the session manager can't bind one.
	if err := s.registry.Remove("a1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	r := s.Router()

	body := `{"model":"claude-3-haiku-20240307","max_tokens":10,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "client-2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "overloaded_error") && !strings.Contains(w.Body.String(), "api_error") {
		t.Fatalf("expected an anthropic-shaped error envelope, got %s", w.Body.String())
	}
}

func TestHandleMessages_InvalidJSONReturns400(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleCountTokens_EstimatesFromMessages(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	body := `{"model":"claude-3-haiku-20240307","max_tokens":10,"messages":[{"role":"user","content":"hello world"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "input_tokens") {
		t.Fatalf("expected input_tokens field, got %s", w.Body.String())
	}
}

func TestAdminRoutes_RejectMissingAuth(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/accounts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAdminRoutes_AcceptsAdminKey(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/accounts", nil)
	req.Header.Set("X-Admin-Key", "test-admin-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"a1"`) {
		t.Fatalf("expected account a1 in listing, got %s", w.Body.String())
	}
}

func TestAdminCreateAccount_RequiresCredential(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/accounts", strings.NewReader(`{"name":"no-creds"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", "test-admin-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminCreateAccount_RedactsCredentialsInResponse(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/accounts", strings.NewReader(`{"name":"new","session_key":"sk-secret"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", "test-admin-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "sk-secret") {
		t.Fatalf("expected session_key to be redacted, got %s", w.Body.String())
	}
}
