package authctx

import (
	"context"
	"strings"
	"sync"

	"github.com/erauner12/bffgateway/internal/manifest"
)

// Result is what a TokenValidator returns to the auth stage.
type Result struct {
	Valid       bool
	UserID      string
	TenantID    string
	Roles       []string
	Permissions []string
	Error       string
}

// TokenValidator is the external collaborator the auth stage delegates
// credential checking to. The gateway ships a default recognising Bearer
// JWTs and opaque API keys; deployments substitute their own.
type TokenValidator interface {
	Validate(ctx context.Context, token string, m manifest.Manifest) Result
}

// ValidatorFunc adapts a function to TokenValidator.
type ValidatorFunc func(ctx context.Context, token string, m manifest.Manifest) Result

func (f ValidatorFunc) Validate(ctx context.Context, token string, m manifest.Manifest) Result {
	return f(ctx, token, m)
}

// APIKeyEntry is one registered opaque key in the default validator.
type APIKeyEntry struct {
	UserID      string
	TenantID    string
	Roles       []string
	Permissions []string
}

// DefaultValidator recognises two credential forms:
//
//	Authorization: Bearer <jwt>      — verified against JWTCfg
//	Authorization: <prefix>_<key>    — looked up in the registered key set
//
// and enforces the manifest's requireTenantId flag on the resolved identity.
type DefaultValidator struct {
	JWT       JWTCfg
	KeyPrefix string // e.g. "tbk"; keys look like "tbk_<random>"
	Keys      map[string]APIKeyEntry

	jwks     *jwksCache
	jwksOnce sync.Once
}

// NewDefaultValidator builds a validator with the given JWT config and
// opaque-key prefix. Keys can be registered afterwards via RegisterKey.
func NewDefaultValidator(jwtCfg JWTCfg, keyPrefix string) *DefaultValidator {
	return &DefaultValidator{
		JWT:       jwtCfg,
		KeyPrefix: keyPrefix,
		Keys:      make(map[string]APIKeyEntry),
	}
}

// RegisterKey adds an opaque API key. Not safe for concurrent use with
// Validate; register keys at boot.
func (v *DefaultValidator) RegisterKey(key string, entry APIKeyEntry) {
	v.Keys[key] = entry
}

func (v *DefaultValidator) Validate(ctx context.Context, token string, m manifest.Manifest) Result {
	token = strings.TrimSpace(token)
	if token == "" {
		return Result{Error: "missing credentials"}
	}

	if raw, ok := strings.CutPrefix(token, "Bearer "); ok {
		res := v.validateJWT(ctx, strings.TrimSpace(raw))
		return v.enforceTenant(res, m)
	}

	if v.KeyPrefix != "" && strings.HasPrefix(token, v.KeyPrefix+"_") {
		entry, ok := v.Keys[token]
		if !ok {
			return Result{Error: "unknown api key"}
		}
		return v.enforceTenant(Result{
			Valid:       true,
			UserID:      entry.UserID,
			TenantID:    entry.TenantID,
			Roles:       entry.Roles,
			Permissions: entry.Permissions,
		}, m)
	}

	return Result{Error: "unrecognized credential form"}
}

func (v *DefaultValidator) enforceTenant(res Result, m manifest.Manifest) Result {
	if !res.Valid {
		return res
	}
	if m.Security.RequireTenantID && res.TenantID == "" {
		return Result{Error: "token carries no tenant id but requireTenantId is set"}
	}
	return res
}
