// Package config provides the configuration schema for daydreamer-memory.
//
// Unlike a file-first proxy deployment, this gateway runs on a managed
// platform (Railway) where every setting arrives as an environment
// variable. Viper is kept for its env-var binding, type coercion, and
// default-value machinery; there is no YAML file search path here.
package config

import (
	"time"
)

// Config is the complete runtime configuration for daydreamer-memory.
type Config struct {
	// Port is the TCP port the HTTP server binds.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	Neo4j Neo4jConfig `mapstructure:",squash"`

	// RequireAuthentication gates whether every protected endpoint demands
	// a credential (JWT or the legacy static bearer).
	RequireAuthentication bool `mapstructure:"require_authentication"`

	OAuth              OAuthConfig `mapstructure:",squash"`
	RailwayBearerToken string      `mapstructure:"railway_bearer_token"`

	EnableCORS         bool     `mapstructure:"enable_cors"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// MCPTransport must be "sse" for this deployment profile; any other
	// value fails validation rather than silently falling back.
	MCPTransport string `mapstructure:"mcp_transport" validate:"required,oneof=sse"`

	// RateLimitPerMinute is the soft cap, per peer, enforced by the
	// gatekeeper middleware.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" validate:"omitempty,min=1"`

	// EmbeddingTimeout bounds a single embedding call.
	EmbeddingTimeout time.Duration `mapstructure:"embedding_timeout"`

	// EnableAutoUnload, if true, unloads the embedder after an idle
	// timeout to free memory between bursts of writes.
	EnableAutoUnload bool `mapstructure:"enable_auto_unload"`

	// EnableResourceMonitoring, if true, gives the embedder an RSS reader
	// for this process, sampled on embedding calls to drive the circuit
	// breaker. When false no RSS is read and the breaker never opens.
	EnableResourceMonitoring bool `mapstructure:"enable_resource_monitoring"`

	GraphRAG GraphRAGConfig `mapstructure:",squash"`

	// SchemaEnforcementStrict, if true, makes an unrecognized entity type
	// or relationship fail the write outright instead of warning and
	// proceeding leniently.
	SchemaEnforcementStrict bool `mapstructure:"schema_enforcement_strict"`

	// AuditLogDir, when set, persists the tool-call audit trail to rotated
	// JSON Lines files in that directory instead of the in-memory ring.
	AuditLogDir string `mapstructure:"audit_log_dir"`
}

// Neo4jConfig configures the graph database connection.
type Neo4jConfig struct {
	URI      string `mapstructure:"neo4j_uri" validate:"required"`
	Username string `mapstructure:"neo4j_username" validate:"required"`
	Password string `mapstructure:"neo4j_password" validate:"required"`
}

// OAuthConfig configures the OAuth 2.1 authorization server. Required
// fields are only enforced when Enabled is true; see validator.go.
type OAuthConfig struct {
	Enabled     bool          `mapstructure:"oauth_enabled"`
	Issuer      string        `mapstructure:"oauth_issuer"`
	TokenExpiry time.Duration `mapstructure:"oauth_token_expiry"`
	JWTSecret   string        `mapstructure:"oauth_jwt_secret"`
}

// GraphRAGConfig configures the optional GraphRAG-backed tools. Host-level
// dashboard variables (these env vars) override any file-based default,
// since there is no config file in this deployment profile to begin with.
type GraphRAGConfig struct {
	Enabled      bool `mapstructure:"graphrag_enabled"`
	GlobalSearch bool `mapstructure:"graphrag_global_search"`
	LocalSearch  bool `mapstructure:"graphrag_local_search"`
}

// defaultOAuthTokenExpiry is OAUTH_TOKEN_EXPIRY's default (3600s).
const defaultOAuthTokenExpiry = time.Hour

// defaultEmbeddingTimeout is EMBEDDING_TIMEOUT's default (40s).
const defaultEmbeddingTimeout = 40 * time.Second

// SetDefaults fills every field that had no explicit environment value.
// Called once, after Unmarshal, before Validate.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MCPTransport == "" {
		c.MCPTransport = "sse"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.EmbeddingTimeout == 0 {
		c.EmbeddingTimeout = defaultEmbeddingTimeout
	}
	if c.OAuth.TokenExpiry == 0 {
		c.OAuth.TokenExpiry = defaultOAuthTokenExpiry
	}
	// EnableAutoUnload, EnableResourceMonitoring, EnableCORS, RequireAuthentication,
	// and every GraphRAG flag default to false, which is already the zero
	// value viper produces for an unset boolean env var.
}

// HasLegacyBearer reports whether a static backward-compatible bearer
// credential is configured.
func (c *Config) HasLegacyBearer() bool {
	return c.RailwayBearerToken != ""
}
