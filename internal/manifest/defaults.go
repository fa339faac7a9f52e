package manifest

// Default returns the baseline Manifest that New() deep-merges overrides
// onto. It is deliberately conservative: every enforcement flag on,
// anonymous surface limited to health checks.
func Default() Manifest {
	return Manifest{
		Identity: Identity{Kind: "gateway-manifest", Name: "default", Version: "1.0.0"},
		Env:      EnvDevelopment,
		Protocols: map[ProtocolName]ProtocolDescriptor{
			ProtocolOpenAPI:   {Enabled: true, Mount: "/api/v1"},
			ProtocolTRPC:      {Enabled: true, Mount: "/trpc"},
			ProtocolGraphQL:   {Enabled: true, Mount: "/graphql", MaxDepth: 10, MaxComplexity: 200},
			ProtocolWebSocket: {Enabled: true, Mount: "/ws", MaxConnectionsPerTenant: 100, MessagesPerSecond: 20, HeartbeatIntervalMs: 30000},
			ProtocolGRPC:      {Enabled: false, Mount: "/grpc"},
		},
		Versioning: VersioningPolicy{
			Strategy:         VersionHeader,
			Default:          "v1",
			Latest:           "v1",
			Supported:        []string{"v1"},
			AllowLatestAlias: true,
		},
		RateLimits: RateLimits{
			Requests:  RateLimitRule{Max: 600, WindowSeconds: 60},
			Burst:     RateLimitRule{Max: 100, WindowSeconds: 1},
			WebSocket: RateLimitRule{Max: 20, WindowSeconds: 1},
			GraphQL:   RateLimitRule{Max: 300, WindowSeconds: 60},
		},
		PayloadLimits: PayloadLimits{
			MaxRequestBytes:  1 << 20,
			MaxResponseBytes: 4 << 20,
			MaxArrayLength:   1000,
			MaxStringLength:  65536,
			MaxDepth:         10,
		},
		RequiredHeaders: RequiredHeaders{
			All:           []string{"X-Request-ID"},
			Authenticated: []string{"Authorization"},
			Optional:      []string{"X-Client-Type", "X-Client-Version", "X-Trace-ID", "X-Span-ID"},
		},
		CORS: CORSMatrix{
			Development: CORSRule{Origins: []string{"*"}, Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, Headers: []string{"*"}, MaxAgeSeconds: 600},
			Staging:     CORSRule{Origins: []string{}, Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, Headers: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"}, MaxAgeSeconds: 600},
			Production:  CORSRule{Origins: []string{}, Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, Headers: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"}, MaxAgeSeconds: 600},
		},
		Security: Security{
			RequireTenantID:         true,
			RequireAuth:             true,
			AnonymousPaths:          []string{"/api/v1/health"},
			AuditReads:              false,
			AuditWrites:             true,
			AuditMutations:          true,
			ImmutableHeaders:        []string{"X-Kernel-Signature", "X-Internal-Trace"},
			TenantIsolationRequired: true,
			AuditTrailRequired:      true,
			SystemBypassEnabled:     true,
			CrossTenantEnabled:      false,
			CrossTenantPermission:   "tenant:cross-access",
			SharedResources:         []string{"/api/v1/health"},
			IsolatedResources:       []string{},
		},
		Enforcement: Enforcement{
			DriftShieldRequired: true,
			RateLimitRequired:   true,
			AIFirewallRequired:  true,
			SanitizeInputs:      true,
			StripHTML:           true,
			ErrorMaskingEnabled: true,
			ZoneRules:           ZoneRules{TenantPathPrefix: "/tenants/"},
		},
		ErrorCodes: map[string]ErrorCodeOverride{},
		Timeouts: Timeouts{
			DefaultMs:     10000,
			LongRunningMs: 60000,
			WebSocketMs:   300000,
			HealthCheckMs: 2000,
		},
		Retry: RetryPolicy{MaxAttempts: 3, BackoffMs: 100, MaxBackoffMs: 2000},
		Hardening: Hardening{
			HostWhitelist:         []string{},
			StripForwardedHeaders: true,
			StrictTransport:       true,
		},
		AIFirewall: AIFirewall{
			Enabled:       true,
			RiskThreshold: 0.75,
			SafeModePatterns: []string{
				`(?i)ignore (all )?(previous|prior|above) instructions`,
				`(?i)you are now (in )?(developer|dan|jailbreak) mode`,
				`(?i)disregard (the|your) system prompt`,
			},
			AIPathPrefixes:  []string{"/api/v1/execute"},
			BypassPaths:     []string{"/api/v1/health"},
			LeakageKeys:     []string{"stack", "trace", "internalError", "debug", "sql", "env", "process"},
			PIIPatternNames: []string{"email", "ssn", "creditCard", "phone"},
		},
	}
}
