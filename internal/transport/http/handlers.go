// @title Stravigor OAuth2
// @version 1.0.0
// @description Opaque-token OAuth2 authorization server core (RFC 6749, RFC 7636, RFC 7009, RFC 7662)
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /oauth

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stravigor/oauth2/internal/audit"
	"github.com/stravigor/oauth2/internal/bearer"
	"github.com/stravigor/oauth2/internal/oauth2"
	"github.com/stravigor/oauth2/internal/observability/logger"
	"github.com/stravigor/oauth2/internal/user"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and their dependencies.
type Handler struct {
	engine               *oauth2.Engine
	clients              *oauth2.Clients
	tokens               *oauth2.Tokens
	users                user.Provider
	auditLogger          audit.Logger
	prefix               string
	personalAccessClient string
}

// NewHandler creates a new HTTP handler. personalAccessClient is the
// client id personal access tokens are issued against (spec §6
// personalAccessClient); when empty, CreatePersonalToken responds 500.
func NewHandler(engine *oauth2.Engine, clients *oauth2.Clients, tokens *oauth2.Tokens, users user.Provider, auditLogger audit.Logger, prefix, personalAccessClient string) *Handler {
	return &Handler{
		engine:               engine,
		clients:              clients,
		tokens:               tokens,
		users:                users,
		auditLogger:          auditLogger,
		prefix:               prefix,
		personalAccessClient: personalAccessClient,
	}
}

// NewRouter creates the HTTP router, mounting the protocol endpoints
// under prefix and the management endpoints under prefix + /clients and
// prefix + /personal-tokens.
func NewRouter(h *Handler, limiters *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	r.Route(h.prefix, func(r chi.Router) {
		r.With(RateLimitMiddleware(limiters, "authorize")).Get("/authorize", h.Authorize)
		r.With(RateLimitMiddleware(limiters, "authorize"), CSRFMiddleware).Post("/authorize", h.Consent)
		r.With(RateLimitMiddleware(limiters, "token")).Post("/token", h.Token)
		r.Post("/revoke", h.Revoke)
		r.Post("/introspect", h.Introspect)
		r.Post("/login", h.Login)

		r.Route("/clients", func(r chi.Router) {
			r.Use(bearer.Middleware(h.tokens, h.clients, h.users))
			r.Post("/", h.RegisterClient)
			r.Get("/", h.ListClients)
			r.Get("/{id}", h.GetClient)
			r.Delete("/{id}", h.DeleteClient)
		})

		r.Route("/personal-tokens", func(r chi.Router) {
			r.Use(bearer.Middleware(h.tokens, h.clients, h.users))
			r.Post("/", h.CreatePersonalToken)
			r.Get("/", h.ListPersonalTokens)
			r.Delete("/{id}", h.RevokePersonalToken)
		})
	})

	return r
}

// HealthCheck reports liveness.
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "oauth2",
	})
}

// Authorize implements GET /oauth/authorize (RFC 6749 §4.1.1).
// @Summary Authorize
// @Description Starts the authorization_code flow
// @Tags OAuth2
// @Produce json
// @Param client_id query string true "Client ID"
// @Param redirect_uri query string true "Redirect URI"
// @Param response_type query string true "Must be 'code'"
// @Param scope query string false "Requested scopes"
// @Param state query string false "Opaque state"
// @Param code_challenge query string false "PKCE challenge"
// @Param code_challenge_method query string false "PKCE method"
// @Success 302 {string} string "Redirects to the client"
// @Success 200 {object} map[string]any "Consent prompt for a third-party client"
// @Router /authorize [get]
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := sessionHandle(r)

	resp, err := h.engine.Authorize(r.Context(), oauth2.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		SessionID:           sessionID,
		UserID:              authenticatedUserID(r),
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "authorize request failed", logger.Error(err), logger.ClientID(q.Get("client_id")))
		respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, ""))
		return
	}
	writeOAuthResponse(w, r, resp)
}

// ConsentRequest is the body of POST /oauth/authorize.
type ConsentRequest struct {
	Approved bool `json:"approved"`
}

// Consent implements POST /oauth/authorize, resolving a pending
// authorization after the resource owner has decided.
// @Summary Resolve consent
// @Tags OAuth2
// @Accept json
// @Produce json
// @Success 302 {string} string "Redirects to the client"
// @Router /authorize [post]
func (h *Handler) Consent(w http.ResponseWriter, r *http.Request) {
	var body ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, oauth2.NewError(oauth2.ErrInvalidRequest, "invalid request body"))
		return
	}

	resp, err := h.engine.Consent(r.Context(), oauth2.ConsentRequest{
		SessionID: sessionHandle(r),
		UserID:    authenticatedUserID(r),
		Approved:  body.Approved,
	})
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, ""))
		return
	}
	writeOAuthResponse(w, r, resp)
}

// Token implements POST /oauth/token (RFC 6749 §3.2).
// @Summary Token
// @Description Exchanges a grant for an access token
// @Tags OAuth2
// @Accept x-www-form-urlencoded,json
// @Produce json
// @Param grant_type formData string true "authorization_code, client_credentials, or refresh_token"
// @Success 200 {object} oauth2.TokenResponse
// @Failure 400 {object} oauth2.Error
// @Router /token [post]
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondJSON(w, http.StatusBadRequest, oauth2.NewError(oauth2.ErrInvalidRequest, "invalid request"))
			return
		}
		r.Form = url.Values{}
		for k, v := range body {
			r.Form.Set(k, v)
		}
	} else if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusBadRequest, oauth2.NewError(oauth2.ErrInvalidRequest, "invalid request"))
		return
	}

	clientID, clientSecret := clientCredentials(r)

	resp, err := h.engine.Token(r.Context(), oauth2.TokenRequest{
		GrantType:    r.Form.Get("grant_type"),
		Code:         r.Form.Get("code"),
		RedirectURI:  r.Form.Get("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeVerifier: r.Form.Get("code_verifier"),
		RefreshToken: r.Form.Get("refresh_token"),
		Scope:        r.Form.Get("scope"),
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "token request failed", logger.Error(err), logger.GrantType(r.Form.Get("grant_type")), logger.ClientID(clientID))
		respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, ""))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeOAuthResponse(w, r, resp)
}

// Revoke implements POST /oauth/revoke (RFC 7009).
// @Summary Revoke
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param token formData string true "Token to revoke"
// @Success 200 {object} map[string]any
// @Router /revoke [post]
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusBadRequest, oauth2.NewError(oauth2.ErrInvalidRequest, "invalid request"))
		return
	}
	clientID, clientSecret := clientCredentials(r)

	resp, err := h.engine.Revoke(r.Context(), oauth2.RevokeRequest{
		Token:        r.Form.Get("token"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, ""))
		return
	}
	writeOAuthResponse(w, r, resp)
}

// Introspect implements POST /oauth/introspect (RFC 7662).
// @Summary Introspect
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param token formData string true "Token to introspect"
// @Success 200 {object} map[string]any
// @Router /introspect [post]
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusBadRequest, oauth2.NewError(oauth2.ErrInvalidRequest, "invalid request"))
		return
	}
	clientID, clientSecret := clientCredentials(r)

	resp, err := h.engine.Introspect(r.Context(), oauth2.IntrospectRequest{
		Token:        r.Form.Get("token"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, ""))
		return
	}
	writeOAuthResponse(w, r, resp)
}

// clientCredentials reads client_id/client_secret from the form body,
// falling back to HTTP Basic Auth (RFC 6749 §2.3.1).
func clientCredentials(r *http.Request) (string, string) {
	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")
	if clientID == "" {
		if username, password, ok := r.BasicAuth(); ok {
			clientID = username
			clientSecret = password
		}
	}
	return clientID, clientSecret
}

// sessionHandle identifies the consent-flow session. A cookie keeps the
// pending-authorize lookup stable across the redirect to a login/consent
// page and back.
func sessionHandle(r *http.Request) string {
	if c, err := r.Cookie("oauth2_authz_session"); err == nil && c.Value != "" {
		return c.Value
	}
	return middleware.GetReqID(r.Context())
}

func writeOAuthResponse(w http.ResponseWriter, r *http.Request, resp *oauth2.Response) {
	switch resp.Kind {
	case oauth2.KindRedirect:
		http.Redirect(w, r, resp.RedirectURL, http.StatusFound)
	default:
		respondJSON(w, resp.StatusCode, resp.Body)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
