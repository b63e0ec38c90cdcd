// Package httpoauth exposes the OAuth 2.1 authorization server
// (internal/domain/oauth.Service) over HTTP: discovery metadata, dynamic
// client registration, the PKCE authorize redirect, and the token
// exchange. Every handler here speaks RFC 6749 error bodies, never the
// MCP JSON-RPC envelope.
package httpoauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/oauth"
)

// Handler wires oauth.Service onto net/http. BaseURL is this server's own
// externally visible origin, used to build discovery endpoint URLs.
type Handler struct {
	svc     *oauth.Service
	baseURL string
	log     *slog.Logger
}

// New constructs a Handler.
func New(svc *oauth.Service, baseURL string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, baseURL: baseURL, log: log}
}

// Register mounts every OAuth route onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.discovery)
	mux.HandleFunc("/.well-known/oauth-protected-resource", h.protectedResource)
	mux.HandleFunc("/register", h.register)
	mux.HandleFunc("/authorize", h.authorize)
	mux.HandleFunc("/token", h.token)
}

func (h *Handler) discovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.DiscoveryMetadata(h.baseURL))
}

func (h *Handler) protectedResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.ProtectedResourceDoc())
}

type registerRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

type registerResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed registration request body")
		return
	}

	client, secret, err := h.svc.Register(r.Context(), req.RedirectURIs, req.TokenEndpointAuthMethod)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ClientID:                client.ClientID,
		ClientSecret:            secret,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_response_type", "response_type must be \"code\"")
		return
	}

	code, err := h.svc.Authorize(r.Context(),
		q.Get("client_id"), q.Get("redirect_uri"),
		q.Get("code_challenge"), q.Get("code_challenge_method"),
		q.Get("scope"), q.Get("state"))
	if err != nil {
		h.log.Warn("authorize failed", "error", err)
		writeOAuthError(w, http.StatusBadRequest, authorizeErrorCode(err), err.Error())
		return
	}

	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed redirect_uri")
		return
	}
	values := redirect.Query()
	values.Set("code", code)
	if state := q.Get("state"); state != "" {
		values.Set("state", state)
	}
	redirect.RawQuery = values.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func authorizeErrorCode(err error) string {
	switch {
	case errors.Is(err, oauth.ErrInvalidClient):
		return "invalid_client"
	case errors.Is(err, oauth.ErrInvalidRedirectURI):
		return "invalid_request"
	case errors.Is(err, oauth.ErrUnsupportedPKCE):
		return "invalid_request"
	default:
		return "invalid_request"
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be \"authorization_code\"")
		return
	}

	result, err := h.svc.ExchangeAuthorizationCode(r.Context(),
		r.PostForm.Get("client_id"), r.PostForm.Get("code"),
		r.PostForm.Get("redirect_uri"), r.PostForm.Get("code_verifier"))
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   result.ExpiresIn,
		Scope:       result.Scope,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, oauthErrorBody{Error: code, ErrorDescription: description})
}
