package pipeline

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
)

// forwardedHeaders are stripped before anything downstream can trust them,
// when the manifest's hardening flag is set.
var forwardedHeaders = []string{
	"x-forwarded-for", "x-forwarded-host", "x-forwarded-proto", "x-real-ip", "forwarded",
}

// NormalizeHeaders folds an http.Header into a lowercase-keyed map, joining
// repeated values with a comma. Normalization is idempotent: feeding the
// output back through produces the same map.
func NormalizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}

var headerCaser = cases.Title(language.Und)

// TitleHeader renders a lowercase header name in canonical wire casing
// (x-request-id → X-Request-Id) for response emission.
func TitleHeader(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		parts[i] = headerCaser.String(p)
	}
	return strings.Join(parts, "-")
}

// headerStage normalizes headers, assigns a request id, enforces the
// required-all set, rejects client-sent immutable headers, and applies the
// hardening flags (forwarded-header stripping, host whitelist).
func (p *Pipeline) headerStage(c *Context) *gatewayerr.Error {
	c.Headers = NormalizeHeaders(c.Request.Header)

	if p.Manifest.Hardening.StripForwardedHeaders {
		for _, h := range forwardedHeaders {
			delete(c.Headers, h)
		}
	}

	if wl := p.Manifest.Hardening.HostWhitelist; len(wl) > 0 {
		host := c.Request.Host
		ok := false
		for _, allowed := range wl {
			if strings.EqualFold(host, allowed) {
				ok = true
				break
			}
		}
		if !ok {
			return gatewayerr.New(gatewayerr.CodeForbidden, "host not allowed")
		}
	}

	for _, immutable := range p.Manifest.Security.ImmutableHeaders {
		if _, present := c.Headers[strings.ToLower(immutable)]; present {
			return gatewayerr.New(gatewayerr.CodeForbidden, "immutable header "+immutable+" must not be sent by clients")
		}
	}

	if c.Headers["x-request-id"] == "" {
		c.Headers["x-request-id"] = uuid.NewString()
	}
	c.RequestID = c.Headers["x-request-id"]

	// Client-supplied trace context wins over the generated one.
	if t := c.Headers["x-trace-id"]; t != "" {
		c.TraceID = t
	}
	if s := c.Headers["x-span-id"]; s != "" {
		c.SpanID = s
	}

	for _, required := range p.Manifest.RequiredHeaders.All {
		if c.Headers[strings.ToLower(required)] == "" {
			return gatewayerr.New(gatewayerr.CodeValidation, "missing required header "+required)
		}
	}
	return nil
}
