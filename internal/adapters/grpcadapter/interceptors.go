package grpcadapter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/erauner12/bffgateway/internal/authctx"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

type ctxKey string

const authCtxKey ctxKey = "gatewayAuth"

// RateStore is the slice of the rate-limit store the interceptors need.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (ratelimit.Bucket, error)
}

// AuthFromContext returns the AuthContext the auth interceptor stored.
func AuthFromContext(ctx context.Context) (authctx.AuthContext, bool) {
	a, ok := ctx.Value(authCtxKey).(authctx.AuthContext)
	return a, ok
}

func mdValue(md metadata.MD, key string) string {
	if vs := md.Get(key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// RequestIDInterceptor mirrors the HTTP header stage: read or generate a
// request id and bind it to the call's logger.
func RequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		reqID := mdValue(md, "x-request-id")
		if reqID == "" {
			reqID = uuid.NewString()
		}

		logger := log.With().Str("requestId", reqID).Str("grpcMethod", info.FullMethod).Logger()
		ctx = logger.WithContext(ctx)
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", reqID)

		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn().Err(err).Msg("grpc request failed")
		}
		return resp, err
	}
}

// AuthInterceptor validates the bearer token from metadata and stores the
// resulting AuthContext, mirroring the HTTP auth stage.
func AuthInterceptor(validator authctx.TokenValidator, m manifest.Manifest) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		token := mdValue(md, "authorization")
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		if m.Security.RequireTenantID && mdValue(md, "x-tenant-id") == "" {
			return nil, status.Error(codes.Unauthenticated, "missing x-tenant-id metadata")
		}

		res := validator.Validate(ctx, token, m)
		if !res.Valid {
			return nil, status.Error(codes.Unauthenticated, "invalid credentials")
		}

		tenant := res.TenantID
		if tenant == "" {
			tenant = mdValue(md, "x-tenant-id")
		}
		if header := mdValue(md, "x-tenant-id"); header != "" && header != tenant {
			return nil, status.Error(codes.PermissionDenied, "tenant metadata does not match authenticated tenant")
		}

		auth := authctx.AuthContext{
			TenantID:    tenant,
			UserID:      res.UserID,
			Roles:       res.Roles,
			Permissions: res.Permissions,
			Token:       token,
			APIVersion:  m.Versioning.Default,
			RequestID:   mdValue(md, "x-request-id"),
		}
		if auth.RequestID == "" {
			auth.RequestID = uuid.NewString()
		}
		return handler(context.WithValue(ctx, authCtxKey, auth), req)
	}
}

// RateLimitInterceptor applies the burst and window buckets per tenant,
// sharing keys with the HTTP surfaces so limits hold across protocols.
func RateLimitInterceptor(rates RateStore, m manifest.Manifest) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !m.Enforcement.RateLimitRequired {
			return handler(ctx, req)
		}
		auth, ok := AuthFromContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "no authenticated context")
		}

		rules := []struct {
			kind string
			rule manifest.RateLimitRule
		}{
			{"burst", m.RateLimits.Burst},
			{"requests", m.RateLimits.Requests},
		}
		for _, r := range rules {
			key := ratelimit.Key(auth.TenantID, r.kind)
			bucket, err := rates.Increment(ctx, key, time.Duration(r.rule.WindowSeconds)*time.Second)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Str("key", key).Msg("rate-limit store unavailable")
				continue
			}
			if bucket.Count > r.rule.Max {
				return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
			}
		}
		return handler(ctx, req)
	}
}
