package authctx

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// JWTCfg holds JWT verification configuration.
type JWTCfg struct {
	HS256Secret string // HMAC secret for HS256 tokens (dev/testing)
	Issuer      string // Upstream IdP issuer
	JWKSURL     string // JWKS endpoint URL for RS256 tokens
	Audience    string // Optional expected audience claim
}

// jwksCache caches the IdP's public keys. Concurrent refreshes are deduped
// through a singleflight group so a key rotation doesn't stampede the IdP.
type jwksCache struct {
	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	lastFetch  time.Time
	cacheTTL   time.Duration
	jwksURL    string
	httpClient *http.Client
	group      singleflight.Group
}

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		keys:       make(map[string]*rsa.PublicKey),
		cacheTTL:   time.Hour,
		jwksURL:    url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *jwksCache) key(kid string, forceRefresh bool) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := time.Since(c.lastFetch) < c.cacheTTL && len(c.keys) > 0
	c.mu.RUnlock()

	if ok && !forceRefresh {
		return key, nil
	}
	if fresh && !forceRefresh {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	if _, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.fetch()
	}); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

func (c *jwksCache) fetch() error {
	resp, err := c.httpClient.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read jwks response: %w", err)
	}

	var parsed jwksResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(parsed.Keys))
	for _, k := range parsed.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			log.Warn().Err(err).Str("kid", k.Kid).Msg("skipping unparseable jwk")
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetch = time.Now()
	c.mu.Unlock()

	log.Debug().Int("keys", len(keys)).Msg("jwks cache refreshed")
	return nil
}

func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

// gatewayClaims are the registered-plus-custom claims the default validator
// reads off a verified token.
type gatewayClaims struct {
	TenantID    string   `json:"tenant_id"`
	OrgID       string   `json:"org_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Scope       string   `json:"scope"`
	jwt.RegisteredClaims
}

func (v *DefaultValidator) validateJWT(_ context.Context, raw string) Result {
	if raw == "" {
		return Result{Error: "empty bearer token"}
	}

	if v.jwks == nil && v.JWT.JWKSURL != "" {
		v.jwksOnce.Do(func() { v.jwks = newJWKSCache(v.JWT.JWKSURL) })
	}

	claims := &gatewayClaims{}
	keyFunc := func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case "HS256":
			if v.JWT.HS256Secret == "" {
				return nil, errors.New("HS256 token but no secret configured")
			}
			return []byte(v.JWT.HS256Secret), nil
		case "RS256":
			if v.jwks == nil {
				return nil, errors.New("RS256 token but no JWKS URL configured")
			}
			kid, _ := t.Header["kid"].(string)
			return v.jwks.key(kid, false)
		default:
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if v.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.JWT.Issuer))
	}
	if v.JWT.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.JWT.Audience))
	}

	token, err := jwt.ParseWithClaims(raw, claims, keyFunc, opts...)
	if err != nil || !token.Valid {
		// A signature failure on RS256 may mean a key rotation; refresh the
		// JWKS once and retry before giving up.
		if v.jwks != nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			retryFunc := func(t *jwt.Token) (any, error) {
				kid, _ := t.Header["kid"].(string)
				return v.jwks.key(kid, true)
			}
			token, err = jwt.ParseWithClaims(raw, claims, retryFunc, opts...)
		}
		if err != nil || token == nil || !token.Valid {
			return Result{Error: fmt.Sprintf("invalid token: %v", err)}
		}
	}

	if claims.Subject == "" {
		return Result{Error: "token has no subject"}
	}

	tenant := claims.TenantID
	if tenant == "" {
		tenant = claims.OrgID
	}

	perms := claims.Permissions
	if len(perms) == 0 && claims.Scope != "" {
		perms = strings.Fields(claims.Scope)
	}

	return Result{
		Valid:       true,
		UserID:      claims.Subject,
		TenantID:    tenant,
		Roles:       claims.Roles,
		Permissions: perms,
	}
}
