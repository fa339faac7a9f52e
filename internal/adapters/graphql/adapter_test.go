package graphql

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

type stubKernel struct{}

func (stubKernel) Run(_ context.Context, inv kernel.Invocation) (any, error) {
	return map[string]any{"code": inv.Code}, nil
}

func newTestAdapter(t *testing.T, patch string) http.Handler {
	t.Helper()
	var raw []byte
	if patch != "" {
		raw = []byte(patch)
	}
	m, err := manifest.New(raw, "")
	if err != nil {
		t.Fatal(err)
	}
	v := authctx.ValidatorFunc(func(_ context.Context, token string, _ manifest.Manifest) authctx.Result {
		if token == "" {
			return authctx.Result{Error: "missing credentials"}
		}
		return authctx.Result{Valid: true, UserID: "user-1", TenantID: "tenant-abc", Roles: []string{"member"}}
	})
	pipe := pipeline.New(m, v, ratelimit.NewMemoryStore(), audit.NewMemoryStore(""), zerolog.Nop())
	a := New(m, pipe, stubKernel{})

	root := chi.NewRouter()
	root.Mount(a.Mount(), a.Handler())
	return root
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", "/graphql", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set("X-Tenant-ID", "tenant-abc")
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestQueryResolvesFields(t *testing.T) {
	h := newTestAdapter(t, "")

	rec := post(h, `{"query":"query { engines { name } }"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data map[string]map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data["engines"]["code"] != kernel.CodeListEngines {
		t.Errorf("data = %v", resp.Data)
	}
}

func TestDepthViolation(t *testing.T) {
	h := newTestAdapter(t, "")

	var q strings.Builder
	q.WriteString("query ")
	for i := 0; i < 15; i++ {
		q.WriteString("{ engines ")
	}
	q.WriteString(strings.Repeat("}", 15))

	body, _ := json.Marshal(map[string]string{"query": q.String()})
	rec := post(h, string(body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400\n%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Errors []struct {
			Message    string `json:"message"`
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if resp.Errors[0].Message != "Query depth 15 exceeds maximum 10" {
		t.Errorf("message = %q", resp.Errors[0].Message)
	}
	if resp.Errors[0].Extensions.Code != "QUERY_TOO_DEEP" {
		t.Errorf("code = %q", resp.Errors[0].Extensions.Code)
	}
}

func TestUnknownField(t *testing.T) {
	h := newTestAdapter(t, "")

	rec := post(h, `{"query":"query { nonsense }"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404\n%s", rec.Code, rec.Body.String())
	}
}

func TestFieldPermission(t *testing.T) {
	m, err := manifest.New(nil, "")
	if err != nil {
		t.Fatal(err)
	}
	v := authctx.ValidatorFunc(func(_ context.Context, _ string, _ manifest.Manifest) authctx.Result {
		return authctx.Result{Valid: true, UserID: "user-1", TenantID: "tenant-abc"}
	})
	pipe := pipeline.New(m, v, ratelimit.NewMemoryStore(), audit.NewMemoryStore(""), zerolog.Nop())
	a := New(m, pipe, stubKernel{})
	a.RequirePermission("Query.engines", "engines:read")

	root := chi.NewRouter()
	root.Mount(a.Mount(), a.Handler())

	rec := post(root, `{"query":"query { engines { name } }"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403\n%s", rec.Code, rec.Body.String())
	}
}

func TestDescribeSchema(t *testing.T) {
	m, _ := manifest.New(nil, "")
	pipe := pipeline.New(m, nil, ratelimit.NewMemoryStore(), audit.NewMemoryStore(""), zerolog.Nop())
	a := New(m, pipe, stubKernel{})

	sdl := a.Describe()
	for _, want := range []string{"type Query", "engines: JSON", "health: JSON"} {
		if !strings.Contains(sdl, want) {
			t.Errorf("schema missing %q:\n%s", want, sdl)
		}
	}
}
