// Package config loads process configuration from the environment and
// resolves the boot Manifest.
package config

import (
	"fmt"
	"os"

	"github.com/erauner12/bffgateway/internal/manifest"
)

// Config is everything main needs to boot the gateway.
type Config struct {
	Env            string // "dev" switches pretty logging
	ListenAddr     string
	MetricsAddr    string
	GRPCAddr       string // empty disables the gRPC listener
	DatabaseURL    string // empty keeps the in-memory audit store
	RedisAddr      string // empty keeps the in-memory rate-limit store
	ManifestPath   string
	ManifestJSON   string
	ManifestSecret string
	JWTSecret      string
	JWTIssuer      string
	JWKSURL        string
	JWTAudience    string
	APIKeyPrefix   string
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Load reads the environment.
func Load() Config {
	return Config{
		Env:            env("ENV", ""),
		ListenAddr:     env("LISTEN_ADDR", ":8080"),
		MetricsAddr:    env("METRICS_ADDR", ":9090"),
		GRPCAddr:       env("GRPC_ADDR", ""),
		DatabaseURL:    env("DATABASE_URL", ""),
		RedisAddr:      env("REDIS_ADDR", ""),
		ManifestPath:   env("MANIFEST_PATH", ""),
		ManifestJSON:   env("MANIFEST_JSON", ""),
		ManifestSecret: env("MANIFEST_SECRET", ""),
		JWTSecret:      env("JWT_HS256_SECRET", ""),
		JWTIssuer:      env("JWT_ISSUER", ""),
		JWKSURL:        env("JWT_JWKS_URL", ""),
		JWTAudience:    env("JWT_AUDIENCE", ""),
		APIKeyPrefix:   env("API_KEY_PREFIX", "gwk"),
	}
}

// ResolveManifest builds the boot Manifest: the default deep-merged with a
// patch from MANIFEST_JSON (inline) or MANIFEST_PATH (file), in that
// precedence order.
func (c Config) ResolveManifest() (manifest.Manifest, error) {
	var patch []byte
	switch {
	case c.ManifestJSON != "":
		patch = []byte(c.ManifestJSON)
	case c.ManifestPath != "":
		raw, err := os.ReadFile(c.ManifestPath)
		if err != nil {
			return manifest.Manifest{}, fmt.Errorf("read manifest file: %w", err)
		}
		patch = raw
	}
	return manifest.New(patch, c.ManifestSecret)
}
