package pipeline

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/erauner12/bffgateway/internal/audit"
	"github.com/erauner12/bffgateway/internal/authctx"
	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

// stubValidator accepts any non-empty token as user-1 in tenant-abc unless
// overridden per test.
func stubValidator(result authctx.Result) authctx.TokenValidator {
	return authctx.ValidatorFunc(func(_ context.Context, token string, _ manifest.Manifest) authctx.Result {
		if token == "" {
			return authctx.Result{Error: "missing credentials"}
		}
		return result
	})
}

var memberResult = authctx.Result{
	Valid:    true,
	UserID:   "user-1",
	TenantID: "tenant-abc",
	Roles:    []string{"member"},
}

func memberAuth() authctx.AuthContext {
	return authctx.AuthContext{TenantID: "tenant-abc", UserID: "user-1", Roles: []string{"member"}}
}

func newTestPipeline(t *testing.T, patchJSON string, result authctx.Result) (*Pipeline, *audit.MemoryStore) {
	t.Helper()
	var patch []byte
	if patchJSON != "" {
		patch = []byte(patchJSON)
	}
	m, err := manifest.New(patch, "")
	if err != nil {
		t.Fatalf("manifest.New: %v", err)
	}
	audits := audit.NewMemoryStore("")
	p := New(m, stubValidator(result), ratelimit.NewMemoryStore(), audits, zerolog.Nop())
	return p, audits
}

func TestPreAuthenticatedExecute(t *testing.T) {
	p, audits := newTestPipeline(t, "", memberResult)

	r := httptest.NewRequest("POST", "/api/v1/execute", strings.NewReader(`{"action":"registry.listEngines()"}`))
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set("X-Tenant-ID", "tenant-abc")
	r.Header.Set("Content-Type", "application/json")

	c, err := p.Pre(r, "openapi")
	if err != nil {
		t.Fatalf("Pre rejected: %v", err)
	}
	if c.RequestID == "" {
		t.Error("no request id assigned")
	}
	if c.Auth.TenantID != "tenant-abc" || c.Auth.UserID != "user-1" {
		t.Errorf("auth context = %+v", c.Auth)
	}
	if c.APIVersion != "v1" {
		t.Errorf("APIVersion = %q, want default v1", c.APIVersion)
	}
	if len(c.TraceID) != 32 || len(c.SpanID) != 16 {
		t.Errorf("trace/span ids malformed: %q / %q", c.TraceID, c.SpanID)
	}
	if !c.auditPending {
		t.Fatal("write request did not park a pending audit entry")
	}

	out := &Outcome{StatusCode: 200, Payload: map[string]any{"engines": []any{}}}
	headers := p.Post(c, out)

	if headers.Get("X-Request-ID") != c.RequestID {
		t.Error("X-Request-ID not echoed")
	}
	if headers.Get("X-RateLimit-Remaining") == "" {
		t.Error("X-RateLimit-Remaining missing")
	}

	entry, _ := audits.Get(context.Background(), c.RequestID)
	if entry == nil {
		t.Fatal("no audit entry appended")
	}
	if entry.Category != audit.CategoryWrite || entry.RiskLevel != audit.RiskMedium {
		t.Errorf("classification = %s/%s, want write/medium", entry.Category, entry.RiskLevel)
	}
	if entry.Status != audit.StatusSuccess || entry.StatusCode != 200 {
		t.Errorf("status = %s/%d", entry.Status, entry.StatusCode)
	}
	if entry.Action != "registry.listEngines()" {
		t.Errorf("action = %q", entry.Action)
	}
	if entry.PreviousHash != audit.Genesis {
		t.Errorf("first entry previousHash = %q", entry.PreviousHash)
	}
}

func TestPreAnonymousHealthSkipsAuthAndAudit(t *testing.T) {
	p, audits := newTestPipeline(t, "", authctx.Result{Error: "must not be called"})

	r := httptest.NewRequest("GET", "/api/v1/health", nil)
	c, err := p.Pre(r, "openapi")
	if err != nil {
		t.Fatalf("Pre rejected anonymous health: %v", err)
	}
	if !c.Auth.IsAnonymous() {
		t.Errorf("auth context = %+v, want anonymous sentinel", c.Auth)
	}

	p.Post(c, &Outcome{StatusCode: 200, Payload: map[string]any{"status": "ok"}})
	if audits.Len() != 0 {
		t.Errorf("health read produced %d audit entries, want 0", audits.Len())
	}
}

func TestPreMissingAuthRejected(t *testing.T) {
	p, _ := newTestPipeline(t, "", memberResult)

	r := httptest.NewRequest("POST", "/api/v1/execute", strings.NewReader(`{}`))
	r.Header.Set("X-Tenant-ID", "tenant-abc")

	_, err := p.Pre(r, "openapi")
	if err == nil {
		t.Fatal("unauthenticated execute passed")
	}
	if err.Code != gatewayerr.CodeUnauthorized {
		t.Errorf("code = %s, want UNAUTHORIZED", err.Code)
	}
}

func TestBurstRateLimitBoundary(t *testing.T) {
	p, _ := newTestPipeline(t, `{"rateLimits":{"burst":{"max":3,"windowSeconds":5}}}`, memberResult)

	do := func() *gatewayerr.Error {
		r := httptest.NewRequest("POST", "/api/v1/execute", strings.NewReader(`{"action":"registry.listEngines()"}`))
		r.Header.Set("Authorization", "Bearer tok")
		r.Header.Set("X-Tenant-ID", "tenant-abc")
		_, err := p.Pre(r, "openapi")
		return err
	}

	for i := 0; i < 3; i++ {
		if err := do(); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}

	err := do()
	if err == nil {
		t.Fatal("request over burst cap passed")
	}
	if err.Code != gatewayerr.CodeRateLimited {
		t.Errorf("code = %s, want RATE_LIMITED", err.Code)
	}
	if !err.Recoverable {
		t.Error("RATE_LIMITED must be recoverable")
	}
	if err.RetryAfter < 1 || err.RetryAfter > 5 {
		t.Errorf("RetryAfter = %d, want within window", err.RetryAfter)
	}
}

func TestPreCORSPreflight(t *testing.T) {
	p, _ := newTestPipeline(t, "", memberResult)

	r := httptest.NewRequest("OPTIONS", "/api/v1/execute", nil)
	r.Header.Set("Origin", "https://app.example.com")

	c, err := p.Pre(r, "openapi")
	if err != nil {
		t.Fatalf("preflight rejected: %v", err)
	}
	if !c.Preflight {
		t.Fatal("preflight not short-circuited")
	}
	if c.PreflightHeaders.Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("allow-origin = %q", c.PreflightHeaders.Get("Access-Control-Allow-Origin"))
	}
}

func TestVersionNegotiation(t *testing.T) {
	p, _ := newTestPipeline(t,
		`{"versioning":{"supported":["v1","v2"],"latest":"v2","default":"v1"}}`, memberResult)

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"absent defaults", "", "v1", false},
		{"explicit supported", "v2", "v2", false},
		{"latest alias", "latest", "v2", false},
		{"unsupported", "v9", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/execute", strings.NewReader(`{}`))
			r.Header.Set("Authorization", "Bearer tok")
			r.Header.Set("X-Tenant-ID", "tenant-abc")
			if tt.header != "" {
				r.Header.Set("X-API-Version", tt.header)
			}
			c, err := p.Pre(r, "openapi")
			if tt.wantErr {
				if err == nil {
					t.Fatal("unsupported version passed")
				}
				return
			}
			if err != nil {
				t.Fatalf("Pre: %v", err)
			}
			if c.APIVersion != tt.want {
				t.Errorf("APIVersion = %q, want %q", c.APIVersion, tt.want)
			}
		})
	}
}

func TestTimeoutFinalizesAuditAsError(t *testing.T) {
	p, audits := newTestPipeline(t, "", memberResult)

	r := httptest.NewRequest("POST", "/api/v1/execute", strings.NewReader(`{"action":"registry.listEngines()"}`))
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set("X-Tenant-ID", "tenant-abc")

	c, err := p.Pre(r, "openapi")
	if err != nil {
		t.Fatal(err)
	}

	gwErr := p.Timeout(c)
	if gwErr.Code != gatewayerr.CodeGatewayTimeout {
		t.Errorf("code = %s", gwErr.Code)
	}

	entry, _ := audits.Get(context.Background(), c.RequestID)
	if entry == nil {
		t.Fatal("timeout left no audit entry")
	}
	if entry.Status != audit.StatusError {
		t.Errorf("status = %s, want error", entry.Status)
	}
}
