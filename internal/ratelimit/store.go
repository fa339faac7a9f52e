// Package ratelimit defines the pluggable fixed-window counter store behind
// the pipeline's burst and window rate-limit stages.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Bucket is one fixed-window counter.
type Bucket struct {
	Count   int
	ResetAt time.Time
}

// Store is the pluggable backend. Increment must be atomic per key: two
// concurrent increments of the same key observe distinct counts.
type Store interface {
	Get(ctx context.Context, key string) (*Bucket, error)
	Set(ctx context.Context, key string, b Bucket, ttl time.Duration) error
	Increment(ctx context.Context, key string, window time.Duration) (Bucket, error)
	Delete(ctx context.Context, key string) error
}

// NormalizeTenant trims and lowercases a tenant id; a missing tenant
// collapses to the literal "anonymous" so unauthenticated traffic shares
// one bucket per kind instead of escaping limits.
func NormalizeTenant(tenant string) string {
	tenant = strings.ToLower(strings.TrimSpace(tenant))
	if tenant == "" {
		return "anonymous"
	}
	return tenant
}

// Key builds the store key rl:<tenant>:<kind>[:suffix].
func Key(tenant, kind string, suffix ...string) string {
	parts := append([]string{"rl", NormalizeTenant(tenant), kind}, suffix...)
	return strings.Join(parts, ":")
}
