// Package gateway assembles the manifest, pipeline, stores, and protocol
// adapters into one process-owned instance. Lifecycle is
// NewGateway → Handler → Shutdown; there are no hidden singletons.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/erauner12/bffgateway/internal/adapters/graphql"
	"github.com/erauner12/bffgateway/internal/adapters/openapi"
	"github.com/erauner12/bffgateway/internal/adapters/rpc"
	"github.com/erauner12/bffgateway/internal/adapters/wsadapter"
	"github.com/erauner12/bffgateway/internal/audit"
	"github.com/erauner12/bffgateway/internal/authctx"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/metrics"
	"github.com/erauner12/bffgateway/internal/pipeline"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

// Adapter is the capability set every protocol surface exposes.
type Adapter interface {
	Mount() string
	Handler() http.Handler
	Ready() bool
}

// Gateway owns every table the request path touches.
type Gateway struct {
	Manifest manifest.Manifest
	Guard    *manifest.DriftGuard
	Pipe     *pipeline.Pipeline

	OpenAPI   *openapi.Adapter
	RPC       *rpc.Adapter
	GraphQL   *graphql.Adapter
	WebSocket *wsadapter.Adapter

	adapters map[manifest.ProtocolName]Adapter
	handler  http.Handler
	metrics  *metrics.Registry
	logger   zerolog.Logger
}

// Option customizes gateway construction.
type Option func(*options)

type options struct {
	validator authctx.TokenValidator
	rates     ratelimit.Store
	audits    audit.Store
	logger    zerolog.Logger
	metrics   *metrics.Registry
	secret    string
}

// WithValidator substitutes the token validator.
func WithValidator(v authctx.TokenValidator) Option { return func(o *options) { o.validator = v } }

// WithRateStore substitutes the rate-limit store.
func WithRateStore(s ratelimit.Store) Option { return func(o *options) { o.rates = s } }

// WithAuditStore substitutes the audit store.
func WithAuditStore(s audit.Store) Option { return func(o *options) { o.audits = s } }

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics attaches a Prometheus registry.
func WithMetrics(r *metrics.Registry) Option { return func(o *options) { o.metrics = r } }

// WithSecret sets the manifest-signature and audit-chain HMAC secret.
func WithSecret(secret string) Option { return func(o *options) { o.secret = secret } }

// NewGateway wires a gateway around an immutable manifest and the kernel
// executor.
func NewGateway(m manifest.Manifest, exec kernel.Executor, opts ...Option) (*Gateway, error) {
	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.validator == nil {
		o.validator = authctx.NewDefaultValidator(authctx.JWTCfg{}, "gwk")
	}
	if o.rates == nil {
		o.rates = ratelimit.NewMemoryStore()
	}
	if o.audits == nil {
		o.audits = audit.NewMemoryStore(o.secret)
	}

	pipe := pipeline.New(m, o.validator, o.rates, o.audits, o.logger)
	g := &Gateway{
		Manifest: m,
		Guard:    manifest.NewDriftGuard(m, o.secret),
		Pipe:     pipe,
		adapters: make(map[manifest.ProtocolName]Adapter),
		metrics:  o.metrics,
		logger:   o.logger,
	}

	if o.metrics != nil {
		pipe.OnRateLimited = func(kind string) {
			o.metrics.RateLimitRejections.WithLabelValues(kind).Inc()
		}
	}

	if m.Protocols[manifest.ProtocolOpenAPI].Enabled {
		g.OpenAPI = openapi.New(m, pipe, exec)
		g.adapters[manifest.ProtocolOpenAPI] = g.OpenAPI
	}
	if m.Protocols[manifest.ProtocolTRPC].Enabled {
		g.RPC = rpc.New(m, pipe, exec)
		g.adapters[manifest.ProtocolTRPC] = g.RPC
	}
	if m.Protocols[manifest.ProtocolGraphQL].Enabled {
		g.GraphQL = graphql.New(m, pipe, exec)
		g.adapters[manifest.ProtocolGraphQL] = g.GraphQL
	}
	if m.Protocols[manifest.ProtocolWebSocket].Enabled {
		g.WebSocket = wsadapter.New(m, pipe, exec, o.rates)
		g.adapters[manifest.ProtocolWebSocket] = g.WebSocket
	}

	g.handler = g.buildHandler()
	return g, nil
}

// buildHandler mounts every enabled adapter on one router behind the CORS
// layer built from the manifest's matrix for the current environment.
func (g *Gateway) buildHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	for name, a := range g.adapters {
		h := a.Handler()
		if g.metrics != nil {
			h = g.instrument(string(name), h)
		}
		r.Mount(a.Mount(), h)
	}

	rule := g.Manifest.CORS.ForEnv(g.Manifest.Env)
	c := cors.New(cors.Options{
		AllowedOrigins:   rule.Origins,
		AllowedMethods:   rule.Methods,
		AllowedHeaders:   rule.Headers,
		ExposedHeaders:   rule.ExposedHeaders,
		AllowCredentials: rule.Credentials,
		MaxAge:           rule.MaxAgeSeconds,
	})
	return c.Handler(r)
}

// instrument wraps an adapter with the requests/duration collectors.
func (g *Gateway) instrument(protocol string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.metrics.RequestsTotal.WithLabelValues(protocol, statusClass(ww.Status())).Inc()
		g.metrics.RequestDuration.WithLabelValues(protocol).Observe(time.Since(start).Seconds())
	})
}

func statusClass(status int) string {
	if status == 0 {
		status = 200
	}
	return strconv.Itoa(status/100) + "xx"
}

// Handler returns the gateway's HTTP entry point.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Ready reports whether every enabled adapter is ready.
func (g *Gateway) Ready() bool {
	for _, a := range g.adapters {
		if !a.Ready() {
			return false
		}
	}
	return true
}

// CheckDrift evaluates a candidate manifest against the boot baseline.
func (g *Gateway) CheckDrift(current manifest.Manifest) (manifest.DriftResult, error) {
	result, err := g.Guard.CheckDrift(current)
	if err == nil && g.metrics != nil {
		g.metrics.DriftChecks.WithLabelValues(string(result.Severity)).Inc()
	}
	return result, err
}

// Shutdown releases adapter resources. Stores owned by the caller (pools,
// clients) are closed by the caller.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.WebSocket != nil {
		g.WebSocket.Close()
	}
	g.logger.Info().Msg("gateway shut down")
	return ctx.Err()
}
