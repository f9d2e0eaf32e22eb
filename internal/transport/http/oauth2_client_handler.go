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
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/stravigor/oauth2/internal/audit"
	"github.com/stravigor/oauth2/internal/bearer"
	"github.com/stravigor/oauth2/internal/oauth2"
)

// RegisterClientRequest is the body of POST /oauth/clients.
type RegisterClientRequest struct {
	Name          string   `json:"name" example:"My Application"`
	RedirectURIs  []string `json:"redirect_uris" example:"[\"https://app.example.com/callback\"]"`
	AllowedScopes []string `json:"allowed_scopes" example:"[\"read\", \"write\"]"`
	GrantTypes    []string `json:"grant_types" example:"[\"authorization_code\", \"refresh_token\"]"`
	Confidential  bool     `json:"confidential"`
	FirstParty    bool     `json:"first_party"`
}

// RegisterClientResponse is the response to POST /oauth/clients. Secret
// is present once, at creation time, and never again.
type RegisterClientResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// RegisterClient registers a new OAuth2 client.
// @Summary Register client
// @Tags Clients
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RegisterClientRequest true "Client data"
// @Success 201 {object} RegisterClientResponse
// @Router /clients [post]
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, secret, err := h.clients.Create(r.Context(), oauth2.CreateClientInput{
		Name:          req.Name,
		RedirectURIs:  req.RedirectURIs,
		AllowedScopes: req.AllowedScopes,
		GrantTypes:    req.GrantTypes,
		Confidential:  req.Confidential,
		FirstParty:    req.FirstParty,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to register client")
		return
	}

	actorID := ""
	if principal, ok := bearer.FromContext(r.Context()); ok {
		actorID = principal.UserID
	}
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeClientCreated,
		ActorID:   actorID,
		Resource:  audit.ResourceClient,
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"client_id": client.ID},
	})

	respondJSON(w, http.StatusCreated, RegisterClientResponse{
		ID:           client.ID,
		Name:         client.Name,
		ClientSecret: secret,
	})
}

// ListClients lists every registered client.
// @Summary List clients
// @Tags Clients
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Router /clients [get]
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.clients.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clients")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"clients": clients,
		"total":   len(clients),
	})
}

// GetClient retrieves a single client.
// @Summary Get client
// @Tags Clients
// @Produce json
// @Security BearerAuth
// @Success 200 {object} oauth2.Client
// @Router /clients/{id} [get]
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.clients.Find(r.Context(), chi.URLParam(r, "id"))
	if err != nil || client == nil {
		respondError(w, http.StatusNotFound, "client not found")
		return
	}
	respondJSON(w, http.StatusOK, client)
}

// DeleteClient deletes a client.
// @Summary Delete client
// @Tags Clients
// @Security BearerAuth
// @Success 204
// @Router /clients/{id} [delete]
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.clients.Destroy(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "client not found")
		return
	}

	actorID := ""
	if principal, ok := bearer.FromContext(r.Context()); ok {
		actorID = principal.UserID
	}
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeClientDeleted,
		ActorID:   actorID,
		Resource:  audit.ResourceClient,
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"client_id": id},
	})

	w.WriteHeader(http.StatusNoContent)
}

// CreatePersonalTokenRequest is the body of POST /oauth/personal-tokens.
type CreatePersonalTokenRequest struct {
	Name   string   `json:"name" example:"CI deploy key"`
	Scopes []string `json:"scopes"`
}

// CreatePersonalTokenResponse returns the plaintext access token once.
type CreatePersonalTokenResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

// CreatePersonalToken issues a long-lived personal access token against
// the configured personal-access client, scoped to the caller.
// @Summary Create personal access token
// @Tags PersonalTokens
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} CreatePersonalTokenResponse
// @Router /personal-tokens [post]
func (h *Handler) CreatePersonalToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := bearer.FromContext(r.Context())
	if !ok || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.personalAccessClient == "" {
		respondError(w, http.StatusInternalServerError, "no personal access client configured")
		return
	}

	var req CreatePersonalTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plainAccess, _, tok, err := h.tokens.Create(r.Context(), oauth2.CreateTokenInput{
		UserID:      principal.UserID,
		ClientID:    h.personalAccessClient,
		Name:        req.Name,
		Scopes:      req.Scopes,
		WithRefresh: false,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	respondJSON(w, http.StatusCreated, CreatePersonalTokenResponse{
		ID:          tok.ID,
		Name:        tok.Name,
		AccessToken: plainAccess,
	})
}

// ListPersonalTokens lists the caller's active personal access tokens.
// Plaintext secrets are never returned after creation.
// @Summary List personal access tokens
// @Tags PersonalTokens
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Router /personal-tokens [get]
func (h *Handler) ListPersonalTokens(w http.ResponseWriter, r *http.Request) {
	principal, ok := bearer.FromContext(r.Context())
	if !ok || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tokens, err := h.tokens.PersonalTokensFor(r.Context(), principal.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tokens": tokens,
		"total":  len(tokens),
	})
}

// RevokePersonalToken revokes a personal access token owned by the
// caller.
// @Summary Revoke personal access token
// @Tags PersonalTokens
// @Security BearerAuth
// @Success 204
// @Router /personal-tokens/{id} [delete]
func (h *Handler) RevokePersonalToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := bearer.FromContext(r.Context())
	if !ok || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	owned, err := h.tokens.PersonalTokensFor(r.Context(), principal.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	if !slices.ContainsFunc(owned, func(t *oauth2.Token) bool { return t.ID == id }) {
		respondError(w, http.StatusNotFound, "token not found")
		return
	}
	if err := h.tokens.Revoke(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
