package config

import (
	"strings"
	"testing"
	"time"
)

func minimalValidConfig() *Config {
	cfg := &Config{
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
			Password: "test-password",
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MissingNeo4jURI(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Neo4j.URI = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing Neo4j URI, got nil")
	}
	if !strings.Contains(err.Error(), "Neo4j.URI") {
		t.Errorf("error = %q, want to contain 'Neo4j.URI'", err.Error())
	}
}

func TestValidate_InvalidMCPTransport(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.MCPTransport = "stdio"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for unsupported transport, got nil")
	}
	if !strings.Contains(err.Error(), "MCPTransport") {
		t.Errorf("error = %q, want to contain 'MCPTransport'", err.Error())
	}
}

func TestValidate_PortOutOfRange(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for out-of-range port, got nil")
	}
}

func TestValidate_OAuthEnabledRequiresIssuerAndSecret(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.OAuth.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for OAuth enabled with no issuer/secret, got nil")
	}
	if !strings.Contains(err.Error(), "oauth_issuer") {
		t.Errorf("error = %q, want to contain 'oauth_issuer'", err.Error())
	}
}

func TestValidate_OAuthEnabledWithIssuerAndSecret(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.OAuth.Enabled = true
	cfg.OAuth.Issuer = "https://gateway.example"
	cfg.OAuth.JWTSecret = "a-signing-secret"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_RequireAuthenticationWithNoCredentialSource(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RequireAuthentication = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error when auth is required but no source is configured, got nil")
	}
	if !strings.Contains(err.Error(), "oauth_enabled") {
		t.Errorf("error = %q, want to mention oauth_enabled", err.Error())
	}
}

func TestValidate_RequireAuthenticationWithLegacyBearer(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RequireAuthentication = true
	cfg.RailwayBearerToken = "static-token"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_RequireAuthenticationWithOAuth(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RequireAuthentication = true
	cfg.OAuth.Enabled = true
	cfg.OAuth.Issuer = "https://gateway.example"
	cfg.OAuth.JWTSecret = "a-signing-secret"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_RateLimitZeroFilledByDefaults(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RateLimitPerMinute = 0
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after SetDefaults fills RateLimitPerMinute unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfigAfterDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Neo4j: Neo4jConfig{URI: "bolt://localhost:7687", Username: "neo4j", Password: "pw"},
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config-plus-Neo4j unexpected error: %v", err)
	}
	if cfg.EmbeddingTimeout != 40*time.Second {
		t.Errorf("EmbeddingTimeout = %s, want 40s", cfg.EmbeddingTimeout)
	}
}
