package pipeline

import (
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/manifest"
)

func testSanitizer(t *testing.T, patch string) *sanitizer {
	t.Helper()
	var raw []byte
	if patch != "" {
		raw = []byte(patch)
	}
	m, err := manifest.New(raw, "")
	if err != nil {
		t.Fatal(err)
	}
	return newSanitizer(m)
}

func nested(depth int) any {
	v := any("leaf")
	for i := 0; i < depth; i++ {
		v = map[string]any{"child": v}
	}
	return v
}

func TestSanitizeDepthBoundary(t *testing.T) {
	s := testSanitizer(t, `{"payloadLimits":{"maxDepth":5}}`)

	// Five levels of nesting: map at depth 1..4, string leaf at depth 5.
	atLimit := nested(4)
	if _, err := s.walk(atLimit, 1, map[uintptr]bool{}, &[]string{}); err != nil {
		t.Errorf("payload at exact depth limit rejected: %v", err)
	}

	overLimit := nested(5)
	_, err := s.walk(overLimit, 1, map[uintptr]bool{}, &[]string{})
	if err == nil {
		t.Fatal("payload over depth limit passed")
	}
	if err.Code != gatewayerr.CodeValidation {
		t.Errorf("code = %s, want VALIDATION_ERROR", err.Code)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	s := testSanitizer(t, `{"payloadLimits":{"maxArrayLength":3,"maxStringLength":8}}`)

	dirty := map[string]any{
		"name":  "a\x00b<b>x</b>",
		"items": []any{"1", "2", "3", "4", "5"},
		"note":  "this string is longer than eight",
	}

	var flags1 []string
	once, err := s.walk(dirty, 1, map[uintptr]bool{}, &flags1)
	if err != nil {
		t.Fatal(err)
	}
	if len(flags1) == 0 {
		t.Error("no sanitization flags raised for dirty input")
	}

	var flags2 []string
	twice, err := s.walk(once, 1, map[uintptr]bool{}, &flags2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sanitization not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
	if len(flags2) != 0 {
		t.Errorf("second pass raised flags %v on clean input", flags2)
	}
}

func TestSanitizeStripsNullBytesAndHTML(t *testing.T) {
	s := testSanitizer(t, "")

	var flags []string
	out, err := s.walk(map[string]any{"v": "he\x00llo <b>world</b>"}, 1, map[uintptr]bool{}, &flags)
	if err != nil {
		t.Fatal(err)
	}
	got := out.(map[string]any)["v"].(string)
	if got != "hello world" {
		t.Errorf("cleaned = %q", got)
	}
}

func TestSanitizeArrayTruncation(t *testing.T) {
	s := testSanitizer(t, `{"payloadLimits":{"maxArrayLength":2}}`)

	var flags []string
	out, err := s.walk([]any{"a", "b", "c"}, 1, map[uintptr]bool{}, &flags)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.([]any); len(got) != 2 {
		t.Errorf("truncated length = %d, want 2", len(got))
	}
	if len(flags) != 1 || flags[0] != "array_truncated" {
		t.Errorf("flags = %v", flags)
	}
}

func TestSanitizeBlocklistIndependentOfFirewall(t *testing.T) {
	// Firewall off, sanitization on: the pattern blocklist must still run.
	p, _ := newTestPipeline(t, `{"enforcement":{"aiFirewallRequired":false}}`, memberResult)

	tests := []struct {
		name string
		body string
	}{
		{"script tag value", `{"input":"<script>alert(1)</script>"}`},
		{"prototype pollution key", `{"__proto__":{"admin":true}}`},
		{"sql injection value", `{"q":"1 UNION SELECT password FROM users"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/execute", strings.NewReader(tt.body))
			r.Header.Set("Authorization", "Bearer tok")
			r.Header.Set("X-Tenant-ID", "tenant-abc")
			r.Header.Set("Content-Type", "application/json")

			_, err := p.Pre(r, "openapi")
			if err == nil {
				t.Fatal("blocked pattern passed sanitization with firewall off")
			}
			if err.Code != gatewayerr.CodeValidation {
				t.Errorf("code = %s, want VALIDATION_ERROR", err.Code)
			}
		})
	}
}

func TestSanitizeCycleDetection(t *testing.T) {
	s := testSanitizer(t, "")

	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	if _, err := s.walk(cyclic, 1, map[uintptr]bool{}, &[]string{}); err == nil {
		t.Fatal("cyclic payload passed")
	}
}
