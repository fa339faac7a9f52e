package pipeline

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
)

// corsStage short-circuits OPTIONS preflights whose origin matches the
// manifest's matrix for the current environment, and rejects actual
// requests from disallowed origins. Requests without an Origin header
// (same-origin, server-to-server) pass through untouched.
func (p *Pipeline) corsStage(c *Context) *gatewayerr.Error {
	origin := c.Request.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	rule := p.Manifest.CORS.ForEnv(p.Manifest.Env)
	allowed := originAllowed(rule.Origins, origin)

	if c.Method == http.MethodOptions {
		if !allowed {
			return gatewayerr.New(gatewayerr.CodeCORS, "origin not allowed")
		}
		h := http.Header{}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", strings.Join(rule.Methods, ", "))
		h.Set("Access-Control-Allow-Headers", strings.Join(rule.Headers, ", "))
		if len(rule.ExposedHeaders) > 0 {
			h.Set("Access-Control-Expose-Headers", strings.Join(rule.ExposedHeaders, ", "))
		}
		if rule.MaxAgeSeconds > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(rule.MaxAgeSeconds))
		}
		if rule.Credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		h.Set("Vary", "Origin")
		c.Preflight = true
		c.PreflightHeaders = h
		return nil
	}

	if !allowed {
		return gatewayerr.New(gatewayerr.CodeCORS, "origin not allowed")
	}
	return nil
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
