package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/erauner12/bffgateway/internal/audit"
	"github.com/erauner12/bffgateway/internal/gatewayerr"
)

// auditRequestStage classifies the request and, when the manifest's audit
// toggles warrant logging it, parks a pending entry keyed by request id for
// the response stage to finalize.
func (p *Pipeline) auditRequestStage(c *Context) *gatewayerr.Error {
	if !p.Manifest.Security.AuditTrailRequired {
		return nil
	}

	category := audit.ClassifyCategory(c.Method, c.Path, c.Auth.IsSystem())
	risk := audit.ClassifyRisk(c.Method, c.Path, category, c.Auth.IsSystem())

	if !p.shouldAudit(category) {
		return nil
	}

	entry := audit.Entry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		RequestID:  c.RequestID,
		Method:     c.Method,
		Path:       c.Path,
		Protocol:   c.Protocol,
		TenantID:   c.Auth.TenantID,
		UserID:     c.Auth.UserID,
		Roles:      c.Auth.Roles,
		APIVersion: c.APIVersion,
		ClientType: c.Auth.ClientType,
		TraceID:    c.TraceID,
		SpanID:     c.SpanID,
		Action:     extractAction(c),
		Category:   category,
		RiskLevel:  risk,
		Status:     audit.StatusPending,
	}

	p.pending.Store(c.RequestID, &pendingAudit{entry: entry, started: c.Start})
	c.auditPending = true
	return nil
}

func (p *Pipeline) shouldAudit(category audit.Category) bool {
	sec := p.Manifest.Security
	switch category {
	case audit.CategoryRead:
		return sec.AuditReads
	case audit.CategoryWrite:
		return sec.AuditWrites
	case audit.CategoryDelete:
		return sec.AuditMutations || sec.AuditWrites
	default: // admin, system
		return true
	}
}

// extractAction pulls the action string from the body when present, falling
// back to "<METHOD> <path>".
func extractAction(c *Context) string {
	if body, ok := c.Body.(map[string]any); ok {
		if action, ok := body["action"].(string); ok && action != "" {
			return action
		}
	}
	return c.Method + " " + c.Path
}

// finalizeAudit completes the pending entry for this request, if any, and
// appends it to the chain. The store refreshes previousHash to its current
// tail atomically, so concurrent requests keep the chain linear.
func (p *Pipeline) finalizeAudit(c *Context, statusCode int, errorCode string) {
	if !c.auditPending {
		return
	}
	pa, ok := p.pending.LoadAndDelete(c.RequestID)
	if !ok {
		return
	}
	c.auditPending = false

	entry := pa.(*pendingAudit).entry
	if statusCode >= 400 {
		entry.Status = audit.StatusFailure
	} else {
		entry.Status = audit.StatusSuccess
	}
	entry.StatusCode = statusCode
	entry.ErrorCode = errorCode
	entry.DurationMs = c.Elapsed().Milliseconds()

	if err := p.Audits.Append(c.Request.Context(), &entry); err != nil {
		p.Logger.Error().Err(err).
			Str("requestId", c.RequestID).
			Msg("audit append failed")
	}
}
