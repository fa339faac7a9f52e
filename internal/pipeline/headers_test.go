package pipeline

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
)

func TestNormalizeHeadersIdempotent(t *testing.T) {
	h := http.Header{}
	h.Set("X-Request-ID", "req-1")
	h.Set("Content-Type", "application/json")
	h.Add("Accept", "application/json")
	h.Add("Accept", "text/plain")

	once := NormalizeHeaders(h)

	// Feed the normalized map back through as if it were raw headers.
	again := http.Header{}
	for k, v := range once {
		again.Set(k, v)
	}
	twice := NormalizeHeaders(again)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalization not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
	if once["accept"] != "application/json, text/plain" {
		t.Errorf("multi-value join = %q", once["accept"])
	}
}

func TestTitleCaseThenNormalizeEqualsNormalize(t *testing.T) {
	h := http.Header{}
	h.Set("x-request-id", "req-1")
	h.Set("x-tenant-id", "t")

	direct := NormalizeHeaders(h)

	titled := http.Header{}
	for k, v := range direct {
		titled.Set(TitleHeader(k), v)
	}
	roundTrip := NormalizeHeaders(titled)

	if !reflect.DeepEqual(direct, roundTrip) {
		t.Errorf("title-case then normalize != normalize:\n%v\n%v", direct, roundTrip)
	}
}

func TestHeaderStageGeneratesRequestID(t *testing.T) {
	p, _ := newTestPipeline(t, "", memberResult)

	r := httptest.NewRequest("GET", "/api/v1/health", nil)
	c, err := p.Pre(r, "openapi")
	if err != nil {
		t.Fatal(err)
	}
	if c.RequestID == "" {
		t.Error("X-Request-ID not auto-generated")
	}

	r2 := httptest.NewRequest("GET", "/api/v1/health", nil)
	r2.Header.Set("X-Request-ID", "client-supplied")
	c2, err := p.Pre(r2, "openapi")
	if err != nil {
		t.Fatal(err)
	}
	if c2.RequestID != "client-supplied" {
		t.Errorf("client request id not preserved: %q", c2.RequestID)
	}
}

func TestImmutableHeaderRejected(t *testing.T) {
	p, _ := newTestPipeline(t, "", memberResult)

	r := httptest.NewRequest("GET", "/api/v1/health", nil)
	r.Header.Set("X-Kernel-Signature", "spoofed")

	_, err := p.Pre(r, "openapi")
	if err == nil {
		t.Fatal("client-sent immutable header passed")
	}
	if err.Code != gatewayerr.CodeForbidden {
		t.Errorf("code = %s, want FORBIDDEN", err.Code)
	}
}

func TestForwardedHeadersStripped(t *testing.T) {
	p, _ := newTestPipeline(t, "", memberResult)

	r := httptest.NewRequest("GET", "/api/v1/health", nil)
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.Header.Set("X-Real-IP", "1.2.3.4")

	c, err := p.Pre(r, "openapi")
	if err != nil {
		t.Fatal(err)
	}
	if _, present := c.Headers["x-forwarded-for"]; present {
		t.Error("x-forwarded-for survived stripping")
	}
	if _, present := c.Headers["x-real-ip"]; present {
		t.Error("x-real-ip survived stripping")
	}
}

func TestHostWhitelist(t *testing.T) {
	p, _ := newTestPipeline(t, `{"hardening":{"hostWhitelist":["api.example.com"]}}`, memberResult)

	r := httptest.NewRequest("GET", "/api/v1/health", nil)
	r.Host = "evil.example.com"
	if _, err := p.Pre(r, "openapi"); err == nil {
		t.Error("non-whitelisted host passed")
	}

	r2 := httptest.NewRequest("GET", "/api/v1/health", nil)
	r2.Host = "api.example.com"
	if _, err := p.Pre(r2, "openapi"); err != nil {
		t.Errorf("whitelisted host rejected: %v", err)
	}
}
