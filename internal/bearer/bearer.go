// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bearer implements the Bearer Guard: parsing an Authorization
// header, validating the access token against the credential lifecycle,
// and enforcing per-route scope requirements.
package bearer

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stravigor/oauth2/internal/oauth2"
	"github.com/stravigor/oauth2/internal/user"
)

type contextKey string

const principalKey contextKey = "bearer_principal"

// Principal is the validated identity attached to a request context by
// Middleware: the token record, the resolved user (if any), and the
// client that owns the token (if the client lookup is available and
// the client still exists).
type Principal struct {
	TokenID  string
	ClientID string
	UserID   string
	Scopes   []string
	User     *user.Identity
	Client   *oauth2.Client
}

// HasScope reports whether the principal's token was granted scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// FromContext retrieves the Principal attached by Middleware.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// Middleware validates the bearer token on every request (spec §4.5):
// missing header -> 401 unauthenticated; invalid/expired/revoked token
// -> 401 invalid_token; a non-empty user id that fails to resolve ->
// 401 invalid_token. On success it attaches the token record, the
// resolved user (if any), and the owning client (if clients is
// non-nil and the client still exists) to the request context.
func Middleware(tokens *oauth2.Tokens, clients *oauth2.Clients, users user.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plain, ok := extractToken(r)
			if !ok {
				unauthenticated(w, "missing bearer token")
				return
			}

			tok, err := tokens.Validate(r.Context(), plain)
			if err != nil {
				challenge(w, "server_error", "")
				return
			}
			if tok == nil {
				challenge(w, "invalid_token", "token is invalid, expired, or revoked")
				return
			}

			principal := &Principal{
				TokenID:  tok.ID,
				ClientID: tok.ClientID,
				UserID:   tok.UserID,
				Scopes:   tok.Scopes,
			}

			if tok.UserID != "" && users != nil {
				identity, err := users.Find(r.Context(), tok.UserID)
				if err != nil || identity == nil {
					challenge(w, "invalid_token", "token's user no longer exists")
					return
				}
				principal.User = identity
			}

			if clients != nil {
				if client, err := clients.Find(r.Context(), tok.ClientID); err == nil && client != nil {
					principal.Client = client
				}
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope enforces that the request's principal was granted scope,
// responding 403 otherwise. It must run after Middleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := FromContext(r.Context())
			if !ok || !principal.HasScope(scope) {
				respondJSON(w, http.StatusForbidden, map[string]string{
					"error":             "insufficient_scope",
					"error_description": "token lacks required scope: " + scope,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken parses the "Bearer <token>" Authorization header (RFC
// 6750 §2.1). Matching is case-insensitive on the scheme only.
func extractToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// unauthenticated renders the "no credential supplied at all" case
// (spec §4.5 step 1), distinct from invalid_token (a credential was
// supplied but rejected).
func unauthenticated(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="oauth2"`)
	respondJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "unauthenticated",
		"error_description": description,
	})
}

func challenge(w http.ResponseWriter, errorCode, description string) {
	value := `Bearer realm="oauth2"`
	if errorCode != "" {
		value += `, error="` + errorCode + `"`
	}
	if description != "" {
		value += `, error_description="` + description + `"`
	}
	w.Header().Set("WWW-Authenticate", value)
	respondJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
