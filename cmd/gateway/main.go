package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/erauner12/bffgateway/internal/adapters/grpcadapter"
	"github.com/erauner12/bffgateway/internal/audit"
	"github.com/erauner12/bffgateway/internal/authctx"
	"github.com/erauner12/bffgateway/internal/config"
	"github.com/erauner12/bffgateway/internal/db"
	"github.com/erauner12/bffgateway/internal/gateway"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/metrics"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "bff-gateway").Logger()

	cfg := config.Load()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := cfg.ResolveManifest()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve manifest")
	}
	log.Info().
		Str("name", m.Identity.Name).
		Str("version", m.Identity.Version).
		Str("env", string(m.Env)).
		Str("signature", m.Signature).
		Msg("manifest loaded")

	// Stores: in-memory by default, Redis/Postgres when configured.
	var rates ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		rates = ratelimit.NewRedisStore(client)
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis rate-limit store enabled")
	}

	var audits audit.Store = audit.NewMemoryStore(cfg.ManifestSecret)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		pgStore := audit.NewPostgresStore(pool, cfg.ManifestSecret)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure audit schema")
		}
		audits = pgStore
		log.Info().Msg("postgres audit store enabled")
	}

	validator := authctx.NewDefaultValidator(authctx.JWTCfg{
		HS256Secret: cfg.JWTSecret,
		Issuer:      cfg.JWTIssuer,
		JWKSURL:     cfg.JWKSURL,
		Audience:    cfg.JWTAudience,
	}, cfg.APIKeyPrefix)

	// The kernel executor is the deployment's own; this binary ships a
	// placeholder that answers the core registry routes.
	exec := kernel.Func(func(_ context.Context, inv kernel.Invocation) (any, error) {
		switch inv.Code {
		case kernel.CodeSystemHealth:
			return map[string]any{"status": "ok", "time": time.Now().UTC()}, nil
		case kernel.CodeListEngines:
			return map[string]any{"engines": []any{}}, nil
		case kernel.CodeListActions:
			return map[string]any{"actions": []any{}}, nil
		default:
			return map[string]any{"accepted": inv.Code}, nil
		}
	})

	reg := metrics.New()

	gw, err := gateway.NewGateway(m, exec,
		gateway.WithValidator(validator),
		gateway.WithRateStore(rates),
		gateway.WithAuditStore(audits),
		gateway.WithLogger(log.Logger),
		gateway.WithMetrics(reg),
		gateway.WithSecret(cfg.ManifestSecret),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build gateway")
	}

	apiSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           reg.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.GRPCAddr != "" {
		srv := &grpcadapter.Server{Manifest: m, Validator: validator, Exec: exec, Audits: audits}
		grpcSrv := grpcadapter.NewGRPCServer(srv, rates)
		grpcadapter.Register(grpcSrv, srv)
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		_ = gw.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("gateway exited with error")
	}
	log.Info().Msg("gateway stopped")
}
