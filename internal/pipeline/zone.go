package pipeline

import (
	"regexp"
	"strings"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// NormalizePath collapses duplicate slashes, strips parent-directory
// segments, and trims the trailing slash, so pattern checks can't be evaded
// with path tricks.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "../", "")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// zoneStage enforces tenant-scoped and shared-resource boundaries.
func (p *Pipeline) zoneStage(c *Context) *gatewayerr.Error {
	if !p.Manifest.Security.TenantIsolationRequired {
		c.Zone = ZoneResult{Allowed: true}
		return nil
	}

	sec := p.Manifest.Security
	path := NormalizePath(c.Path)
	tenant := c.Auth.TenantID

	if !c.Auth.IsAnonymous() && !tenantIDPattern.MatchString(tenant) {
		return gatewayerr.New(gatewayerr.CodeValidation, "malformed tenant id")
	}

	if header := c.Headers["x-tenant-id"]; header != "" && !c.Auth.IsAnonymous() && header != tenant {
		return gatewayerr.New(gatewayerr.CodeForbidden, "tenant header does not match authenticated tenant")
	}

	if pathInList(sec.SharedResources, path) {
		c.Zone = ZoneResult{Allowed: true, Shared: true}
		return nil
	}

	if c.Auth.IsAnonymous() {
		return gatewayerr.New(gatewayerr.CodeUnauthorized, "anonymous access is limited to shared resources")
	}

	if sec.SystemBypassEnabled && c.Auth.IsSystem() {
		c.Zone = ZoneResult{Allowed: true, SystemBypass: true}
		return nil
	}

	target := targetTenant(path, p.Manifest.Enforcement.ZoneRules.TenantPathPrefix)
	c.Zone = ZoneResult{Allowed: true, TargetTenant: target}

	if target != "" && target != tenant {
		if !sec.CrossTenantEnabled {
			return gatewayerr.New(gatewayerr.CodeTenantIsolation, "cross-tenant access is disabled")
		}
		if !c.Auth.HasPermission(sec.CrossTenantPermission) {
			return gatewayerr.New(gatewayerr.CodeForbidden, "missing cross-tenant permission")
		}
		c.Zone.CrossTenant = true
	}

	if pathInList(sec.IsolatedResources, path) {
		if target != "" && target != tenant {
			return gatewayerr.New(gatewayerr.CodeTenantIsolation, "isolated resource belongs to another tenant")
		}
	}
	return nil
}

// targetTenant extracts the {id} from <prefix>{id}/... anywhere in the
// path, e.g. /api/v1/tenants/tenant-xyz/engines with prefix "/tenants/".
func targetTenant(path, prefix string) string {
	if prefix == "" {
		return ""
	}
	idx := strings.Index(path, prefix)
	if idx < 0 {
		return ""
	}
	rest := path[idx+len(prefix):]
	if end := strings.IndexByte(rest, '/'); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
