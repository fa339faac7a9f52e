// Package pipeline implements the ordered pre/post middleware chain every
// protocol adapter funnels requests through. Stage order is a security
// contract, fixed at compile time, not a configuration knob.
package pipeline

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner12/bffgateway/internal/audit"
	"github.com/erauner12/bffgateway/internal/authctx"
	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

// Pipeline holds the per-process collaborators every stage reads. The
// Manifest is immutable; the stores are internally synchronized; the
// pending-audit table is the pipeline's own concurrent map.
type Pipeline struct {
	Manifest  manifest.Manifest
	Validator authctx.TokenValidator
	Rates     ratelimit.Store
	Audits    audit.Store
	Logger    zerolog.Logger

	firewall  *firewall
	sanitizer *sanitizer

	// pending maps requestID → *pendingAudit between the audit-request and
	// audit-response stages.
	pending sync.Map

	// OnRateLimited, if set, is called once per rejected request (metrics).
	OnRateLimited func(kind string)
}

// pendingAudit is the state parked between stage 10 and stage 14.
type pendingAudit struct {
	entry   audit.Entry
	started time.Time
}

// New wires a pipeline. All arguments are required except that any of
// validator/rates/audits may be substituted by callers with their own
// implementations of the respective interfaces.
func New(m manifest.Manifest, validator authctx.TokenValidator, rates ratelimit.Store, audits audit.Store, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		Manifest:  m,
		Validator: validator,
		Rates:     rates,
		Audits:    audits,
		Logger:    logger,
		firewall:  newFirewall(m),
		sanitizer: newSanitizer(m),
	}
}

// stage is one pre-handler step: it mutates c or returns a terminal error.
type stage func(c *Context) *gatewayerr.Error

// Pre runs the pre-handler phase (stages 1–10) in fixed order, stopping on
// the first failure. On success the returned Context carries everything
// dispatch needs; if c.Preflight is set the adapter must answer 204 with
// c.PreflightHeaders instead of dispatching.
func (p *Pipeline) Pre(r *http.Request, protocol string) (*Context, *gatewayerr.Error) {
	traceID, spanID := newTraceIDs()
	c := &Context{
		Request:  r,
		Method:   r.Method,
		Path:     stripQuery(r.URL.Path),
		Protocol: protocol,
		TraceID:  traceID,
		SpanID:   spanID,
		Start:    time.Now(),
	}
	c.Deadline = c.Start.Add(p.timeoutFor(c.Path))

	stages := []stage{
		p.corsStage,
		p.headerStage,
		p.bodyStage,
		p.burstStage,
		p.windowStage,
		p.authStage,
		p.zoneStage,
		p.firewallPreStage,
		p.sanitizeStage,
		p.auditRequestStage,
	}

	for _, s := range stages {
		if err := s(c); err != nil {
			err = p.applyOverrides(err)
			p.Logger.Debug().
				Str("requestId", c.RequestID).
				Str("path", c.Path).
				Str("code", string(err.Code)).
				Msg("pipeline stage rejected request")
			p.finalizeAudit(c, err.Status, string(err.Code))
			return c, err
		}
		if c.Preflight {
			return c, nil
		}
	}
	return c, nil
}

// Outcome is what dispatch produced; Post may replace Payload/Err when the
// post-handler stages reject the response.
type Outcome struct {
	StatusCode int
	Payload    any
	Err        *gatewayerr.Error
}

// Post runs the post-handler phase (stages 11–14) and returns the response
// headers the adapter must emit. The adapter renders its surface envelope
// from the (possibly replaced) Outcome afterwards.
func (p *Pipeline) Post(c *Context, out *Outcome) http.Header {
	if out.Err == nil {
		if err := p.outputValidationStage(c, out); err != nil {
			out.Err = p.applyOverrides(err)
		}
	}
	if out.Err == nil {
		if err := p.firewallPostStage(c, out); err != nil {
			out.Err = p.applyOverrides(err)
		}
	}
	if out.Err != nil {
		out.StatusCode = out.Err.Status
		out.Payload = nil
	}

	headers := p.responseHeaders(c, out)

	code := ""
	if out.Err != nil {
		code = string(out.Err.Code)
	}
	p.finalizeAudit(c, out.StatusCode, code)

	return headers
}

// Timeout synthesizes the GATEWAY_TIMEOUT outcome for a request whose
// deadline expired; any pending audit is finalized with status=error.
func (p *Pipeline) Timeout(c *Context) *gatewayerr.Error {
	err := p.applyOverrides(gatewayerr.New(gatewayerr.CodeGatewayTimeout, "upstream execution exceeded the request deadline"))
	if pa, ok := p.pending.LoadAndDelete(c.RequestID); ok {
		entry := pa.(*pendingAudit).entry
		entry.Status = audit.StatusError
		entry.ErrorCode = string(gatewayerr.CodeGatewayTimeout)
		entry.DurationMs = c.Elapsed().Milliseconds()
		if appendErr := p.Audits.Append(c.Request.Context(), &entry); appendErr != nil {
			p.Logger.Error().Err(appendErr).Str("requestId", c.RequestID).Msg("audit append on timeout failed")
		}
	}
	return err
}

// applyOverrides applies the manifest's error-code table (status and
// recoverable overrides) to a typed error.
func (p *Pipeline) applyOverrides(e *gatewayerr.Error) *gatewayerr.Error {
	if o, ok := p.Manifest.ErrorCodes[string(e.Code)]; ok {
		if o.Status != 0 {
			e.Status = o.Status
		}
		e.Recoverable = o.Recoverable
	}
	return e
}

// Meta builds the response meta block from the accumulated context.
func (p *Pipeline) Meta(c *Context) gatewayerr.Meta {
	return gatewayerr.Meta{
		RequestID: c.RequestID,
		TenantID:  c.Auth.TenantID,
		Path:      c.Path,
		Method:    c.Method,
		Timestamp: time.Now().UTC(),
		Duration:  c.Elapsed(),
		Protocol:  c.Protocol,
		TraceID:   c.TraceID,
		SpanID:    c.SpanID,
	}
}

// MaskingEnabled reports whether error messages must be masked for this
// process: explicitly via the manifest flag, or implicitly in production.
func (p *Pipeline) MaskingEnabled() bool {
	return p.Manifest.Enforcement.ErrorMaskingEnabled || p.Manifest.Env == manifest.EnvProduction
}

func (p *Pipeline) timeoutFor(path string) time.Duration {
	t := p.Manifest.Timeouts
	switch {
	case isHealthPath(path):
		return time.Duration(t.HealthCheckMs) * time.Millisecond
	default:
		return time.Duration(t.DefaultMs) * time.Millisecond
	}
}

// LongRunningTimeout is the deadline bucket adapters opt into for
// executions flagged long-running.
func (p *Pipeline) LongRunningTimeout() time.Duration {
	return time.Duration(p.Manifest.Timeouts.LongRunningMs) * time.Millisecond
}

func isHealthPath(path string) bool {
	return len(path) >= 7 && path[len(path)-7:] == "/health"
}

func stripQuery(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			return path[:i]
		}
	}
	return path
}
