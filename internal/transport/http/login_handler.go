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

package http

import (
	"encoding/json"
	"net/http"

	"github.com/stravigor/oauth2/internal/audit"
	"github.com/stravigor/oauth2/internal/bearer"
)

const userCookieName = "oauth2_user"

// LoginRequest is the body of POST /oauth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates the resource owner against the configured user
// Provider and stashes their ID in a cookie the authorize/consent
// handlers read back. This is the minimal login path the Bearer Guard's
// demo user adapter exists to support — real deployments front
// /oauth/authorize with their own login/session system and only need
// authenticatedUserID to see an already-established identity.
// @Summary Login
// @Tags OAuth2
// @Accept json
// @Produce json
// @Success 204
// @Failure 401 {object} map[string]string
// @Router /login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLoginFailed,
			Resource:  req.Email,
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"reason": "invalid_credentials"},
		})
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Value:    identity.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLoginSuccess,
		ActorID:   identity.ID,
		Resource:  audit.ResourceUser,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// authenticatedUserID resolves the resource owner for the authorize/
// consent flow: a bearer principal takes precedence (a client already
// holding a token on the user's behalf), falling back to the login
// cookie set by Login.
func authenticatedUserID(r *http.Request) string {
	if principal, ok := bearer.FromContext(r.Context()); ok && principal.UserID != "" {
		return principal.UserID
	}
	if c, err := r.Cookie(userCookieName); err == nil {
		return c.Value
	}
	return ""
}
