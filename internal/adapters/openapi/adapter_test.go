package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/erauner12/bffgateway/internal/audit"
	"github.com/erauner12/bffgateway/internal/authctx"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/pipeline"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

// echoKernel records invocations and returns a canned result.
type echoKernel struct {
	calls []kernel.Invocation
}

func (k *echoKernel) Run(_ context.Context, inv kernel.Invocation) (any, error) {
	k.calls = append(k.calls, inv)
	return map[string]any{"code": inv.Code, "status": "ok"}, nil
}

func validator() authctx.TokenValidator {
	return authctx.ValidatorFunc(func(_ context.Context, token string, _ manifest.Manifest) authctx.Result {
		if token == "" {
			return authctx.Result{Error: "missing credentials"}
		}
		return authctx.Result{Valid: true, UserID: "user-1", TenantID: "tenant-abc", Roles: []string{"member"}}
	})
}

func newTestAdapter(t *testing.T, patch string) (*Adapter, *echoKernel, *audit.MemoryStore, http.Handler) {
	t.Helper()
	var raw []byte
	if patch != "" {
		raw = []byte(patch)
	}
	m, err := manifest.New(raw, "")
	if err != nil {
		t.Fatal(err)
	}
	audits := audit.NewMemoryStore("")
	pipe := pipeline.New(m, validator(), ratelimit.NewMemoryStore(), audits, zerolog.Nop())
	exec := &echoKernel{}
	a := New(m, pipe, exec)

	root := chi.NewRouter()
	root.Mount(a.Mount(), a.Handler())
	return a, exec, audits, root
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestAnonymousHealth(t *testing.T) {
	_, exec, audits, h := newTestAdapter(t, "")

	r := httptest.NewRequest("GET", "/api/v1/health", nil)
	r.Host = "api"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	meta := body["meta"].(map[string]any)
	if meta["protocol"] != "openapi" || meta["requestId"] == "" {
		t.Errorf("meta = %v", meta)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	if len(exec.calls) != 1 || exec.calls[0].Code != kernel.CodeSystemHealth {
		t.Errorf("kernel calls = %+v", exec.calls)
	}
	if audits.Len() != 0 {
		t.Errorf("health read logged %d audit entries", audits.Len())
	}
}

func TestAuthenticatedExecute(t *testing.T) {
	_, exec, audits, h := newTestAdapter(t, "")

	r := httptest.NewRequest("POST", "/api/v1/execute",
		strings.NewReader(`{"action":"registry.listEngines()"}`))
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set("X-Tenant-ID", "tenant-abc")
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", rec.Code, rec.Body.String())
	}
	if len(exec.calls) != 1 || exec.calls[0].Code != "registry.listEngines()" {
		t.Fatalf("kernel calls = %+v", exec.calls)
	}
	if exec.calls[0].TenantID != "tenant-abc" || exec.calls[0].UserID != "user-1" {
		t.Errorf("identity = %s/%s", exec.calls[0].TenantID, exec.calls[0].UserID)
	}

	entries := audits.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Category != audit.CategoryWrite || e.RiskLevel != audit.RiskMedium || e.Status != audit.StatusSuccess {
		t.Errorf("entry = %s/%s/%s", e.Category, e.RiskLevel, e.Status)
	}
	if e.PreviousHash != audit.Genesis {
		t.Errorf("previousHash = %q", e.PreviousHash)
	}
}

func TestExecuteBlockedAction(t *testing.T) {
	_, exec, _, h := newTestAdapter(t, "")

	r := httptest.NewRequest("POST", "/api/v1/execute",
		strings.NewReader(`{"action":"process.exit()"}`))
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set("X-Tenant-ID", "tenant-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403\n%s", rec.Code, rec.Body.String())
	}
	if len(exec.calls) != 0 {
		t.Errorf("blocked action reached the kernel: %+v", exec.calls)
	}
	body := decode(t, rec)
	errBody := body["error"].(map[string]any)
	if errBody["code"] != "FORBIDDEN" {
		t.Errorf("code = %v", errBody["code"])
	}
	if errBody["errorId"] == "" {
		t.Error("errorId missing")
	}
}

func TestExecuteWhitelistInProduction(t *testing.T) {
	patch := `{"env":"production","cors":{"production":{"origins":["https://app.example.com"]}}}`
	_, exec, _, h := newTestAdapter(t, patch)

	r := httptest.NewRequest("POST", "/api/v1/execute",
		strings.NewReader(`{"action":"launch missiles now"}`))
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set("X-Tenant-ID", "tenant-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404\n%s", rec.Code, rec.Body.String())
	}
	if len(exec.calls) != 0 {
		t.Error("non-whitelisted action reached the kernel")
	}
}

func TestUnknownRoute(t *testing.T) {
	_, _, _, h := newTestAdapter(t, "")

	r := httptest.NewRequest("GET", "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBurstLimitReturns429(t *testing.T) {
	_, _, _, h := newTestAdapter(t, `{"rateLimits":{"burst":{"max":2,"windowSeconds":1}}}`)

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/api/v1/execute",
			strings.NewReader(`{"action":"registry.listEngines()"}`))
		r.Header.Set("Authorization", "Bearer tok")
		r.Header.Set("X-Tenant-ID", "tenant-abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do(); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}

	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	body := decode(t, rec)
	errBody := body["error"].(map[string]any)
	if errBody["code"] != "RATE_LIMITED" || errBody["recoverable"] != true {
		t.Errorf("error body = %v", errBody)
	}
}

func TestDescribeListsRoutes(t *testing.T) {
	a, _, _, _ := newTestAdapter(t, "")
	doc := a.Describe()

	if doc["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
	paths := doc["paths"].(map[string]any)
	for _, p := range []string{"/health", "/execute", "/engines", "/actions"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("path %s missing from document", p)
		}
	}
}
