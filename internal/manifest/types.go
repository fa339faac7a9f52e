// Package manifest implements the immutable, signed governance document
// that every other gateway component reads and nothing mutates.
package manifest

// Env is the deployment environment a Manifest was built for. The gateway
// never infers "production" from anything implicit; callers set it
// explicitly.
type Env string

const (
	EnvDevelopment Env = "development"
	EnvStaging     Env = "staging"
	EnvProduction  Env = "production"
)

// VersioningStrategy selects where the API version is negotiated from.
type VersioningStrategy string

const (
	VersionHeader VersioningStrategy = "header"
	VersionPath   VersioningStrategy = "path"
	VersionQuery  VersioningStrategy = "query"
)

// ProtocolName is one of the five protocol descriptor keys.
type ProtocolName string

const (
	ProtocolOpenAPI   ProtocolName = "openapi"
	ProtocolTRPC      ProtocolName = "trpc"
	ProtocolGraphQL   ProtocolName = "graphql"
	ProtocolWebSocket ProtocolName = "websocket"
	ProtocolGRPC      ProtocolName = "grpc"
)

// ProtocolDescriptor configures one protocol surface.
type ProtocolDescriptor struct {
	Enabled bool   `json:"enabled" validate:"-"`
	Mount   string `json:"mount" validate:"omitempty,startswithslash"`

	// GraphQL-specific
	MaxDepth      int `json:"maxDepth,omitempty"`
	MaxComplexity int `json:"maxComplexity,omitempty"`

	// WebSocket-specific
	MaxConnectionsPerTenant int `json:"maxConnectionsPerTenant,omitempty"`
	MessagesPerSecond       int `json:"messagesPerSecond,omitempty"`
	HeartbeatIntervalMs     int `json:"heartbeatIntervalMs,omitempty"`
}

// VersioningPolicy governs API version negotiation.
type VersioningPolicy struct {
	Strategy          VersioningStrategy `json:"strategy" validate:"required,oneof=header path query"`
	Default           string             `json:"default" validate:"required"`
	Latest            string             `json:"latest" validate:"required"`
	Supported         []string           `json:"supported" validate:"required,min=1"`
	AllowLatestAlias  bool               `json:"allowLatestAlias"`
}

// RateLimitRule is a single (max requests, window) pair.
type RateLimitRule struct {
	Max           int `json:"max" validate:"required,gt=0"`
	WindowSeconds int `json:"windowSeconds" validate:"required,gt=0"`
}

// RateLimits groups the four rate-limit buckets the manifest governs.
type RateLimits struct {
	Requests  RateLimitRule `json:"requests"`
	Burst     RateLimitRule `json:"burst"`
	WebSocket RateLimitRule `json:"websocket"`
	GraphQL   RateLimitRule `json:"graphql"`
}

// PayloadLimits caps request/response shapes.
type PayloadLimits struct {
	MaxRequestBytes  int `json:"maxRequestBytes" validate:"gt=0"`
	MaxResponseBytes int `json:"maxResponseBytes" validate:"gt=0"`
	MaxArrayLength   int `json:"maxArrayLength" validate:"gt=0"`
	MaxStringLength  int `json:"maxStringLength" validate:"gt=0"`
	MaxDepth         int `json:"maxDepth" validate:"gt=0"`
}

// RequiredHeaders partitions header requirements by request class.
type RequiredHeaders struct {
	All           []string `json:"all"`
	Authenticated []string `json:"authenticated"`
	Optional      []string `json:"optional"`
}

// CORSRule is one environment's CORS matrix entry.
type CORSRule struct {
	Origins        []string `json:"origins"`
	Methods        []string `json:"methods"`
	Headers        []string `json:"headers"`
	ExposedHeaders []string `json:"exposedHeaders"`
	Credentials    bool     `json:"credentials"`
	MaxAgeSeconds  int      `json:"maxAgeSeconds"`
}

// CORSMatrix maps environment name to its CORS rule.
type CORSMatrix struct {
	Development CORSRule `json:"development"`
	Staging     CORSRule `json:"staging"`
	Production  CORSRule `json:"production"`
}

// ForEnv returns the CORS rule for a given environment.
func (m CORSMatrix) ForEnv(e Env) CORSRule {
	switch e {
	case EnvStaging:
		return m.Staging
	case EnvProduction:
		return m.Production
	default:
		return m.Development
	}
}

// Security holds the authentication, tenancy, and audit policy flags.
type Security struct {
	RequireTenantID       bool     `json:"requireTenantId"`
	RequireAuth           bool     `json:"requireAuth"`
	AnonymousPaths        []string `json:"anonymousPaths"`
	AuditReads            bool     `json:"auditReads"`
	AuditWrites           bool     `json:"auditWrites"`
	AuditMutations        bool     `json:"auditMutations"`
	ImmutableHeaders      []string `json:"immutableHeaders"`
	TenantIsolationRequired bool   `json:"tenantIsolationRequired"`
	AuditTrailRequired    bool     `json:"auditTrailRequired"`
	SystemBypassEnabled   bool     `json:"systemBypassEnabled"`
	CrossTenantEnabled    bool     `json:"crossTenantEnabled"`
	CrossTenantPermission string   `json:"crossTenantPermission"`
	SharedResources       []string `json:"sharedResources"`
	IsolatedResources     []string `json:"isolatedResources"`
}

// ZoneRules augments the Security zone-guard configuration with anything
// not strictly a boolean flag — kept separate so Security stays a flat,
// easily-diffed struct for drift classification.
type ZoneRules struct {
	TenantPathPrefix string `json:"tenantPathPrefix"` // e.g. "/tenants/"
}

// Enforcement toggles which stages are mandatory vs. advisory.
type Enforcement struct {
	DriftShieldRequired bool      `json:"driftShieldRequired"`
	RateLimitRequired   bool      `json:"rateLimitRequired"`
	AIFirewallRequired  bool      `json:"aiFirewallRequired"`
	SanitizeInputs      bool      `json:"sanitizeInputs"`
	StripHTML           bool      `json:"stripHtml"`
	ErrorMaskingEnabled bool      `json:"errorMaskingEnabled"`
	ZoneRules           ZoneRules `json:"zoneRules"`
}

// ErrorCodeOverride is one row of the manifest's error-code table.
type ErrorCodeOverride struct {
	Status      int  `json:"status"`
	Recoverable bool `json:"recoverable"`
}

// Timeouts groups the named timeout buckets a request's deadline draws from.
type Timeouts struct {
	DefaultMs     int `json:"defaultMs" validate:"gt=0"`
	LongRunningMs int `json:"longRunningMs" validate:"gt=0"`
	WebSocketMs   int `json:"websocketMs" validate:"gt=0"`
	HealthCheckMs int `json:"healthCheckMs" validate:"gt=0"`
}

// RetryPolicy governs adapter-side retries against the kernel executor.
type RetryPolicy struct {
	MaxAttempts  int `json:"maxAttempts"`
	BackoffMs    int `json:"backoffMs"`
	MaxBackoffMs int `json:"maxBackoffMs"`
}

// Hardening groups miscellaneous transport-hardening flags.
type Hardening struct {
	HostWhitelist         []string `json:"hostWhitelist"`
	StripForwardedHeaders bool     `json:"stripForwardedHeaders"`
	StrictTransport       bool     `json:"strictTransport"`
}

// AIFirewall configures the AI-firewall pre/post stages. The SafeMode
// pattern list is configurable, not baked in, with a small built-in
// default.
type AIFirewall struct {
	Enabled            bool     `json:"enabled"`
	RiskThreshold       float64  `json:"riskThreshold"`
	SafeModePatterns    []string `json:"safeModePatterns"`
	AIPathPrefixes      []string `json:"aiPathPrefixes"`
	BypassPaths         []string `json:"bypassPaths"`
	LeakageKeys         []string `json:"leakageKeys"`
	PIIPatternNames     []string `json:"piiPatternNames"`
}

// Identity carries the manifest's kind/name/version triple.
type Identity struct {
	Kind    string `json:"kind" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Version string `json:"version" validate:"required"`
}

// Manifest is the immutable, signed configuration object governing every
// downstream policy. Treat a *Manifest as read-only after New/Merge return
// it; nothing in this codebase mutates one in place.
type Manifest struct {
	Identity        Identity                        `json:"identity" validate:"required"`
	Env             Env                              `json:"env" validate:"required,oneof=development staging production"`
	Protocols       map[ProtocolName]ProtocolDescriptor `json:"protocols" validate:"required"`
	Versioning      VersioningPolicy                 `json:"versioning"`
	RateLimits      RateLimits                       `json:"rateLimits"`
	PayloadLimits   PayloadLimits                    `json:"payloadLimits"`
	RequiredHeaders RequiredHeaders                  `json:"requiredHeaders"`
	CORS            CORSMatrix                       `json:"cors"`
	Security        Security                         `json:"security"`
	Enforcement     Enforcement                      `json:"enforcement"`
	ErrorCodes      map[string]ErrorCodeOverride      `json:"errorCodes"`
	Timeouts        Timeouts                         `json:"timeouts"`
	Retry           RetryPolicy                      `json:"retry"`
	Hardening       Hardening                        `json:"hardening"`
	AIFirewall      AIFirewall                       `json:"aiFirewall"`

	// Signature is sha256-<hex> (or HMAC variant) over the deterministic
	// serialization of every other field. Excluded from its own hash input.
	Signature string `json:"signature,omitempty"`
}

// monitoredFields is the subset of top-level keys the Drift Guard tracks
// for changedFields/severity classification.
var monitoredFields = []string{
	"enforcement", "security", "protocols", "rateLimits", "cors",
	"versioning", "requiredHeaders", "payloadLimits", "errorCodes",
	"timeouts", "retry", "version",
}
