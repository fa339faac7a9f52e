package pipeline

import (
	"fmt"
	"net/http"
	"strconv"
)

// responseHeaders assembles the echo, rate-limit, and hardening headers
// every response carries.
func (p *Pipeline) responseHeaders(c *Context, out *Outcome) http.Header {
	h := http.Header{}
	h.Set("X-Request-ID", c.RequestID)
	if c.APIVersion != "" {
		h.Set("X-API-Version", c.APIVersion)
	}
	if c.Auth.TenantID != "" {
		h.Set("X-Tenant-ID", c.Auth.TenantID)
	}
	if c.Auth.UserID != "" {
		h.Set("X-User-ID", c.Auth.UserID)
	}
	h.Set("X-Protocol", c.Protocol)
	h.Set("X-Trace-ID", c.TraceID)
	h.Set("X-Span-ID", c.SpanID)

	if !c.RateLimit.Reset.IsZero() {
		h.Set("X-RateLimit-Remaining", strconv.Itoa(c.RateLimit.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(c.RateLimit.Reset.Unix(), 10))
	}
	if out.Err != nil && out.Err.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(out.Err.RetryAfter))
	}

	if p.Manifest.Hardening.StrictTransport {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")

	h.Set("X-Response-Time", fmt.Sprintf("%dms", c.Elapsed().Milliseconds()))
	return h
}
