package pipeline

import (
	"crypto/rand"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/erauner12/bffgateway/internal/authctx"
)

// RateInfo is the rate-limit state stamped onto response headers.
type RateInfo struct {
	Remaining int
	Reset     time.Time
}

// ZoneResult is the zone guard's verdict, carried for audit metadata.
type ZoneResult struct {
	Allowed      bool
	Shared       bool
	SystemBypass bool
	TargetTenant string
	CrossTenant  bool
}

// Context accumulates per-request state as pre-handler stages run. It is
// owned by the request's goroutine and destroyed with it; nothing here is
// shared across requests.
type Context struct {
	Request  *http.Request
	Method   string
	Path     string
	Protocol string

	// Headers is the normalized (lowercase-keyed) request header map built
	// by the header stage.
	Headers map[string]string

	RawBody []byte
	Body    any

	Auth authctx.AuthContext
	Zone ZoneResult

	RateLimit RateInfo

	Sanitized     any
	SanitizeFlags []string

	RequestID  string
	TraceID    string
	SpanID     string
	APIVersion string

	Start    time.Time
	Deadline time.Time

	// Preflight is set by the CORS stage when an OPTIONS request matched;
	// the adapter answers 204 with PreflightHeaders and skips dispatch.
	Preflight        bool
	PreflightHeaders http.Header

	auditPending bool
}

// newTraceIDs generates W3C-shaped trace and span identifiers using the
// OpenTelemetry ID types, so downstream tracing systems accept them as-is.
func newTraceIDs() (string, string) {
	var tid trace.TraceID
	var sid trace.SpanID
	_, _ = rand.Read(tid[:])
	_, _ = rand.Read(sid[:])
	return tid.String(), sid.String()
}

// Elapsed returns how long the request has been in flight.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.Start)
}
