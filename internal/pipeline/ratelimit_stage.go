package pipeline

import (
	"time"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

// burstStage enforces the short-window cap; windowStage the longer one.
// Both key by tenant (header value before auth resolves the real tenant —
// the two always match or the zone guard rejects the spoof later).
func (p *Pipeline) burstStage(c *Context) *gatewayerr.Error {
	return p.enforceLimit(c, "burst", p.Manifest.RateLimits.Burst)
}

func (p *Pipeline) windowStage(c *Context) *gatewayerr.Error {
	return p.enforceLimit(c, "requests", p.Manifest.RateLimits.Requests)
}

func (p *Pipeline) enforceLimit(c *Context, kind string, rule manifest.RateLimitRule) *gatewayerr.Error {
	if !p.Manifest.Enforcement.RateLimitRequired {
		return nil
	}

	tenant := c.Headers["x-tenant-id"]
	key := ratelimit.Key(tenant, kind)
	window := time.Duration(rule.WindowSeconds) * time.Second

	bucket, err := p.Rates.Increment(c.Request.Context(), key, window)
	if err != nil {
		// A broken limiter backend must not take the gateway down with it;
		// the request proceeds and the failure is logged for operators.
		p.Logger.Error().Err(err).Str("key", key).Msg("rate-limit store unavailable")
		return nil
	}

	remaining := rule.Max - bucket.Count
	if remaining < 0 {
		remaining = 0
	}
	// The longer window's state wins on the response headers; burst only
	// overwrites when it is the stage that rejects.
	if kind == "requests" || remaining == 0 {
		c.RateLimit = RateInfo{Remaining: remaining, Reset: bucket.ResetAt}
	}

	if bucket.Count > rule.Max {
		if p.OnRateLimited != nil {
			p.OnRateLimited(kind)
		}
		retryAfter := retryAfterSeconds(bucket.ResetAt)
		c.RateLimit = RateInfo{Remaining: 0, Reset: bucket.ResetAt}
		return gatewayerr.New(gatewayerr.CodeRateLimited, "rate limit exceeded").
			WithRetryAfter(retryAfter)
	}
	return nil
}

// retryAfterSeconds is ceil((resetAt − now)/1s) with a floor of 1.
func retryAfterSeconds(resetAt time.Time) int {
	ms := time.Until(resetAt).Milliseconds()
	secs := int((ms + 999) / 1000)
	if secs < 1 {
		secs = 1
	}
	return secs
}
