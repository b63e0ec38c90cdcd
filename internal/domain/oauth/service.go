package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/auth"
	"github.com/golang-jwt/jwt/v5"
)

// Config configures the authorization server.
type Config struct {
	Issuer      string        // OAUTH_ISSUER
	Resource    string        // the resource URL tokens are audienced to
	TokenExpiry time.Duration // OAUTH_TOKEN_EXPIRY, default 3600s
	JWTSecret   []byte        // OAUTH_JWT_SECRET, HS256 signing key
}

const defaultTokenExpiry = time.Hour

func (c Config) withDefaults() Config {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = defaultTokenExpiry
	}
	return c
}

// Service implements client registration, the PKCE-protected authorize/token
// flow, and JWT issuance/verification.
type Service struct {
	cfg     Config
	clients ClientStore
	codes   CodeStore
}

// NewService constructs the authorization server.
func NewService(cfg Config, clients ClientStore, codes CodeStore) *Service {
	return &Service{cfg: cfg.withDefaults(), clients: clients, codes: codes}
}

// Metadata is the RFC 8414 discovery document.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// DiscoveryMetadata builds the /.well-known/oauth-authorization-server body.
func (s *Service) DiscoveryMetadata(baseURL string) Metadata {
	return Metadata{
		Issuer:                        s.cfg.Issuer,
		AuthorizationEndpoint:         baseURL + "/authorize",
		TokenEndpoint:                 baseURL + "/token",
		RegistrationEndpoint:          baseURL + "/register",
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code"},
		CodeChallengeMethodsSupported: []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_post", "none",
		},
	}
}

// ProtectedResourceMetadata is the RFC 8414 protected-resource discovery document.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}

// ProtectedResourceDoc builds /.well-known/oauth-protected-resource.
func (s *Service) ProtectedResourceDoc() ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:             s.cfg.Resource,
		AuthorizationServers: []string{s.cfg.Issuer},
	}
}

// Register implements RFC 7591 dynamic client registration.
func (s *Service) Register(ctx context.Context, redirectURIs []string, tokenEndpointAuthMethod string) (*ClientRegistration, string, error) {
	if len(redirectURIs) == 0 {
		return nil, "", fmt.Errorf("redirect_uris is required")
	}
	for _, uri := range redirectURIs {
		if !isAllowedRedirectURI(uri) {
			return nil, "", fmt.Errorf("redirect_uri %q must be https, or http://localhost / http://127.0.0.1", uri)
		}
	}

	clientID, err := randomToken(16)
	if err != nil {
		return nil, "", err
	}
	secret, err := randomToken(32) // >=256 bits
	if err != nil {
		return nil, "", err
	}
	if tokenEndpointAuthMethod == "" {
		tokenEndpointAuthMethod = "client_secret_post"
	}

	client := &ClientRegistration{
		ClientID:                clientID,
		ClientSecret:            hashSecret(secret),
		RedirectURIs:            redirectURIs,
		TokenEndpointAuthMethod: tokenEndpointAuthMethod,
		CreatedAt:               time.Now().UTC(),
	}
	if err := s.clients.Create(ctx, client); err != nil {
		return nil, "", err
	}
	// The plaintext secret is returned to the caller exactly once; only
	// its hash is retained (SPEC_FULL.md "Legacy static-bearer storage").
	return client, secret, nil
}

// isAllowedRedirectURI requires HTTPS, except for localhost/127.0.0.1 loopback
// redirect URIs (any port) used by native and CLI clients.
func isAllowedRedirectURI(uri string) bool {
	if strings.HasPrefix(uri, "https://") {
		return true
	}
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != "http" {
		return false
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1":
		return true
	default:
		return false
	}
}

// Authorize validates the client/redirect pair and PKCE parameters, then
// stores a single-use authorization code (≤10 minutes).
func (s *Service) Authorize(ctx context.Context, clientID, redirectURI, codeChallenge, codeChallengeMethod, scope, state string) (code string, err error) {
	client, err := s.clients.Get(ctx, clientID)
	if err != nil {
		return "", ErrInvalidClient
	}
	if !client.HasRedirectURI(redirectURI) {
		return "", ErrInvalidRedirectURI
	}
	if codeChallengeMethod != "S256" {
		return "", ErrUnsupportedPKCE
	}
	if codeChallenge == "" {
		return "", fmt.Errorf("code_challenge is required")
	}

	code, err = randomToken(24) // >=128 bits
	if err != nil {
		return "", err
	}
	grant := &AuthCodeGrant{
		Code:                code,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Scope:               scope,
		State:                state,
		ExpiresAt:            time.Now().UTC().Add(10 * time.Minute),
	}
	if err := s.codes.Create(ctx, grant); err != nil {
		return "", err
	}
	return code, nil
}

// TokenResult is the successful /token response body.
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
	Scope       string
}

// ExchangeAuthorizationCode implements the authorization_code grant type,
// verifying PKCE S256 and single-use consumption of the code.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, clientID, code, redirectURI, codeVerifier string) (*TokenResult, error) {
	grant, err := s.codes.Consume(ctx, code)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if grant.Consumed {
		return nil, ErrInvalidGrant
	}
	if grant.Expired() {
		return nil, ErrInvalidGrant
	}
	if grant.ClientID != clientID {
		return nil, ErrInvalidGrant
	}
	if grant.RedirectURI != redirectURI {
		return nil, ErrInvalidGrant
	}
	if !verifyPKCE(grant.CodeChallenge, codeVerifier) {
		return nil, ErrInvalidGrant
	}

	jti, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	claims := AccessTokenClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   clientID,
		Audience:  s.cfg.Resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TokenExpiry),
		JTI:       jti,
		Scope:     grant.Scope,
	}
	token, err := s.signJWT(claims)
	if err != nil {
		return nil, err
	}

	return &TokenResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.TokenExpiry.Seconds()),
		Scope:       grant.Scope,
	}, nil
}

// verifyPKCE checks that base64url-no-padding SHA-256(code_verifier) equals
// the stored code_challenge.
func verifyPKCE(codeChallenge, codeVerifier string) bool {
	sum := sha256.Sum256([]byte(codeVerifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(codeChallenge)) == 1
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

func (s *Service) signJWT(c AccessTokenClaims) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   c.Subject,
			Audience:  jwt.ClaimStrings{c.Audience},
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			ID:        c.JTI,
		},
		Scope: c.Scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.JWTSecret)
}

// VerifyAccessToken validates an HS256 JWT against the configured issuer
// and audience, checking issuer, audience, subject, iat, and exp.
func (s *Service) VerifyAccessToken(tokenString string) (*AccessTokenClaims, error) {
	var claims jwtClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.JWTSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if claims.Issuer != s.cfg.Issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != s.cfg.Resource {
		return nil, fmt.Errorf("unexpected audience")
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("missing required claim")
	}
	if claims.ExpiresAt.Time.Before(time.Now().UTC()) {
		return nil, fmt.Errorf("token expired")
	}
	return &AccessTokenClaims{
		Issuer:    claims.Issuer,
		Subject:   claims.Subject,
		Audience:  claims.Audience[0],
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		JTI:       claims.ID,
		Scope:     claims.Scope,
	}, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashSecret hashes a newly issued client_secret for storage, mirroring
// the legacy static bearer's Argon2id-at-rest treatment.
func hashSecret(secret string) string {
	hash, err := auth.HashSecretArgon2id(secret)
	if err != nil {
		// Argon2id only fails on invalid params, which are fixed at
		// compile time; fall back to a SHA-256 hash rather than storing
		// the secret in plaintext.
		sum := sha256.Sum256([]byte(secret))
		return hex.EncodeToString(sum[:])
	}
	return hash
}
