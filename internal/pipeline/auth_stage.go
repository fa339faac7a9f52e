package pipeline

import (
	"strings"

	"github.com/erauner12/bffgateway/internal/authctx"
	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/manifest"
)

// PathMatches reports whether path matches pattern: exact, the universal
// "*", or a trailing-star prefix ("/api/v1/public/*").
func PathMatches(pattern, path string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return pattern == path
}

func pathInList(patterns []string, path string) bool {
	for _, p := range patterns {
		if PathMatches(p, path) {
			return true
		}
	}
	return false
}

// authStage authenticates the request: anonymous allow-list first, then
// API-version negotiation, then delegation to the injected TokenValidator.
func (p *Pipeline) authStage(c *Context) *gatewayerr.Error {
	version, verr := p.negotiateVersion(c)
	if verr != nil {
		return verr
	}
	c.APIVersion = version

	if pathInList(p.Manifest.Security.AnonymousPaths, c.Path) {
		c.Auth = authctx.Anonymous(c.RequestID, version)
		return nil
	}

	token := c.Headers["authorization"]
	if !p.Manifest.Security.RequireAuth && token == "" {
		c.Auth = authctx.Anonymous(c.RequestID, version)
		return nil
	}

	for _, required := range p.Manifest.RequiredHeaders.Authenticated {
		if c.Headers[strings.ToLower(required)] == "" {
			return gatewayerr.New(gatewayerr.CodeUnauthorized, "missing required header "+required)
		}
	}
	if p.Manifest.Security.RequireTenantID && c.Headers["x-tenant-id"] == "" {
		return gatewayerr.New(gatewayerr.CodeUnauthorized, "missing required header X-Tenant-ID")
	}

	res := p.Validator.Validate(c.Request.Context(), token, p.Manifest)
	if !res.Valid {
		msg := res.Error
		if msg == "" {
			msg = "invalid credentials"
		}
		return gatewayerr.New(gatewayerr.CodeAuth, msg)
	}

	tenant := res.TenantID
	if tenant == "" {
		tenant = c.Headers["x-tenant-id"]
	}

	c.Auth = authctx.AuthContext{
		TenantID:      tenant,
		UserID:        res.UserID,
		Roles:         res.Roles,
		Permissions:   res.Permissions,
		Token:         token,
		APIVersion:    version,
		RequestID:     c.RequestID,
		ClientType:    c.Headers["x-client-type"],
		ClientVersion: c.Headers["x-client-version"],
	}
	return nil
}

// negotiateVersion resolves the requested API version per the manifest's
// versioning policy, defaulting when absent and resolving the "latest"
// alias when allowed.
func (p *Pipeline) negotiateVersion(c *Context) (string, *gatewayerr.Error) {
	policy := p.Manifest.Versioning

	var requested string
	switch policy.Strategy {
	case manifest.VersionHeader:
		requested = c.Headers["x-api-version"]
	case manifest.VersionQuery:
		requested = c.Request.URL.Query().Get("api-version")
	case manifest.VersionPath:
		for _, seg := range strings.Split(strings.Trim(c.Path, "/"), "/") {
			if len(seg) >= 2 && seg[0] == 'v' && seg[1] >= '0' && seg[1] <= '9' {
				requested = seg
				break
			}
		}
	}

	if requested == "" {
		return policy.Default, nil
	}
	if requested == "latest" {
		if !policy.AllowLatestAlias {
			return "", gatewayerr.New(gatewayerr.CodeValidation, `the "latest" version alias is not allowed`)
		}
		return policy.Latest, nil
	}
	for _, v := range policy.Supported {
		if v == requested {
			return requested, nil
		}
	}
	return "", gatewayerr.New(gatewayerr.CodeValidation, "unsupported API version "+requested)
}
