// Package action validates the user-supplied action strings the REST and
// RPC execute surfaces hand to the kernel.
package action

import (
	"regexp"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/manifest"
)

// blocklist applies in every environment. An action matching any of these
// never reaches the kernel.
var blocklist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(drop|delete|truncate|insert|update|alter|grant|revoke)\s`),
	regexp.MustCompile(`(?i)\b(eval|exec|execfile|spawn)\s*\(`),
	regexp.MustCompile(`(?i)\bprocess\.|(?:\brequire|\bimport)\s*\(`),
	regexp.MustCompile(`__proto__|\bprototype\b|\bconstructor\b`),
}

// whitelist is enforced in production only: an action must match at least
// one of these shapes.
var whitelist = []*regexp.Regexp{
	regexp.MustCompile(`^system\.[a-zA-Z]+\(\)$`),
	regexp.MustCompile(`^registry\.[a-zA-Z]+\((?:"[A-Za-z0-9._-]*")?\)$`),
	regexp.MustCompile(`^[a-z][A-Za-z0-9]*\.[a-z][A-Za-z0-9]*\((?:"[A-Za-z0-9._ -]*")?\)$`),
}

// Validate checks an action string against the universal blocklist and, in
// production, the whitelist.
func Validate(actionStr string, env manifest.Env) *gatewayerr.Error {
	if actionStr == "" {
		return gatewayerr.New(gatewayerr.CodeValidation, "action is required")
	}
	for _, re := range blocklist {
		if re.MatchString(actionStr) {
			return gatewayerr.New(gatewayerr.CodeForbidden, "action is not allowed").
				WithDebugReason("blocklist:" + re.String())
		}
	}
	if env == manifest.EnvProduction {
		for _, re := range whitelist {
			if re.MatchString(actionStr) {
				return nil
			}
		}
		return gatewayerr.New(gatewayerr.CodeActionNotFound, "action does not match any allowed shape")
	}
	return nil
}
