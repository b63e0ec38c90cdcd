package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envKeys maps each mapstructure key this gateway reads to its literal
// Railway environment variable name. These are flat names a deployment
// sets directly, so each is bound individually rather than derived from
// a prefix + replacer.
var envKeys = map[string]string{
	"port":                       "PORT",
	"neo4j_uri":                  "NEO4J_URI",
	"neo4j_username":             "NEO4J_USERNAME",
	"neo4j_password":             "NEO4J_PASSWORD",
	"require_authentication":     "REQUIRE_AUTHENTICATION",
	"oauth_enabled":              "OAUTH_ENABLED",
	"oauth_issuer":               "OAUTH_ISSUER",
	"oauth_token_expiry":         "OAUTH_TOKEN_EXPIRY",
	"oauth_jwt_secret":           "OAUTH_JWT_SECRET",
	"railway_bearer_token":       "RAILWAY_BEARER_TOKEN",
	"enable_cors":                "ENABLE_CORS",
	"cors_allowed_origins":       "CORS_ALLOWED_ORIGINS",
	"mcp_transport":              "MCP_TRANSPORT",
	"rate_limit_per_minute":      "RATE_LIMIT_PER_MINUTE",
	"embedding_timeout":          "EMBEDDING_TIMEOUT",
	"enable_auto_unload":         "ENABLE_AUTO_UNLOAD",
	"enable_resource_monitoring": "ENABLE_RESOURCE_MONITORING",
	"graphrag_enabled":           "GRAPHRAG_ENABLED",
	"graphrag_global_search":     "GRAPHRAG_GLOBAL_SEARCH",
	"graphrag_local_search":      "GRAPHRAG_LOCAL_SEARCH",
	"schema_enforcement_strict":  "SCHEMA_ENFORCEMENT_STRICT",
	"audit_log_dir":              "AUDIT_LOG_DIR",
}

// NewViper constructs a *viper.Viper bound to every daydreamer-memory
// environment variable. Exported so cmd/ can inject CLI flag overrides
// (e.g. --port) before Load reads the final values.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return v, nil
}

// Load reads every bound environment variable, applies defaults, and
// validates the result.
func Load(v *viper.Viper) (*Config, error) {
	splitCORSOrigins(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// splitCORSOrigins rewrites CORS_ALLOWED_ORIGINS from a single
// comma-separated string into the slice Config.CORSAllowedOrigins expects,
// since it arrives as one flat environment variable rather than a
// structured list.
func splitCORSOrigins(v *viper.Viper) {
	raw := v.GetString("cors_allowed_origins")
	if raw == "" {
		return
	}
	origins := strings.Split(raw, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	v.Set("cors_allowed_origins", origins)
}
