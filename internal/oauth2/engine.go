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

// Package oauth2 implements the Credential Lifecycle and Grant Protocol
// Engine: the state machine behind /authorize, /token, /revoke and
// /introspect, built over a unified token model and hex-encoded SHA-256
// credential hashes.
package oauth2

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/stravigor/oauth2/internal/scope"
)

// AuthRequestStore is the out-of-scope consent-session collaborator
// (spec §4.4 step 9): get/set/forget over the pending authorize request
// keyed by an opaque session handle the host supplies.
type AuthRequestStore interface {
	Set(ctx context.Context, sessionID string, req PendingAuthorize) error
	Get(ctx context.Context, sessionID string) (PendingAuthorize, bool, error)
	Forget(ctx context.Context, sessionID string) error
}

// PendingAuthorize is the bounded payload stashed between the GET
// /authorize validation step and consent resolution.
type PendingAuthorize struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ConsentRenderer is invoked for non-first-party clients that require
// explicit user approval. It returns the response the engine should
// hand back to the caller (e.g. a rendered HTML page, or the same JSON
// consent envelope the engine would otherwise build).
type ConsentRenderer func(client *Client, scopes []scope.Described, state string) (*Response, error)

// Engine is the Grant Protocol Engine.
type Engine struct {
	Clients  *Clients
	Codes    *Codes
	Tokens   *Tokens
	Scopes   *scope.Registry
	Sessions AuthRequestStore

	DefaultScopes        []string
	PersonalAccessClient string

	RenderConsent ConsentRenderer
	Emit          EmitFunc
}

// ResponseKind distinguishes how the transport layer should render a
// Response.
type ResponseKind int

const (
	KindJSON ResponseKind = iota
	KindRedirect
	KindNoContent
)

// Response is the host-agnostic outcome of an engine operation: a
// redirect, a JSON payload, or an empty 200/204.
type Response struct {
	Kind        ResponseKind
	StatusCode  int
	RedirectURL string
	Body        any
}

func jsonResponse(status int, body any) *Response {
	return &Response{Kind: KindJSON, StatusCode: status, Body: body}
}

func redirectResponse(url string) *Response {
	return &Response{Kind: KindRedirect, StatusCode: 302, RedirectURL: url}
}

// errorResponse renders a protocol error as its standard JSON envelope.
func errorResponse(err *Error) *Response {
	return jsonResponse(err.StatusCode(), err)
}

// AuthorizeRequest carries the parsed GET /authorize query parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// SessionID identifies the host session the pending request is
	// stashed under; UserID is the already-resolved identifier of the
	// authenticated resource owner (empty if none).
	SessionID string
	UserID    string
}

// Authorize implements GET /authorize (spec §4.4 steps 1–11).
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (*Response, error) {
	if req.ResponseType != "code" {
		return errorResponse(NewError(ErrInvalidRequest, "response_type must be 'code'")), nil
	}
	if req.ClientID == "" {
		return errorResponse(NewError(ErrInvalidRequest, "client_id is required")), nil
	}

	client, err := e.Clients.Find(ctx, req.ClientID)
	if err != nil || client == nil || client.Revoked {
		return errorResponse(NewError(ErrInvalidClient, "unknown or revoked client")), nil
	}
	if !client.SupportsGrant(GrantAuthorizationCode) {
		return errorResponse(NewError(ErrInvalidRequest, "client is not permitted to use authorization_code")), nil
	}

	// Redirect URI must match byte-for-byte against the registered
	// list. This check happens before any error is allowed to redirect,
	// because an unvalidated redirect_uri cannot be trusted as a
	// destination.
	if req.RedirectURI == "" || !client.HasRedirectURI(req.RedirectURI) {
		return errorResponse(NewError(ErrInvalidRequest, "redirect_uri is missing or not registered")), nil
	}

	if !client.Confidential && req.CodeChallenge == "" {
		return redirectResponse(errorRedirect(req.RedirectURI, ErrInvalidRequest, "code_challenge is required for public clients", req.State)), nil
	}

	method := req.CodeChallengeMethod
	if req.CodeChallenge != "" {
		if method == "" {
			method = ChallengeMethodPlain
		}
		if method != ChallengeMethodS256 && method != ChallengeMethodPlain {
			return redirectResponse(errorRedirect(req.RedirectURI, ErrInvalidRequest, "unsupported code_challenge_method", req.State)), nil
		}
	}

	scopes, serr := e.Scopes.Validate(scope.ParseSpaceDelimited(req.Scope), client.AllowedScopes, e.DefaultScopes)
	if serr != nil {
		return redirectResponse(errorRedirect(req.RedirectURI, ErrInvalidScope, serr.Error(), req.State)), nil
	}

	pending := PendingAuthorize{
		ClientID:            client.ID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
	}
	if err := e.Sessions.Set(ctx, req.SessionID, pending); err != nil {
		return errorResponse(NewError(ErrServerError, "could not persist pending authorization")), nil
	}

	if client.FirstParty {
		return e.issueCode(ctx, pending, req.UserID)
	}

	if e.RenderConsent != nil {
		return e.RenderConsent(client, e.Scopes.Describe(scopes), req.State)
	}

	return jsonResponse(200, map[string]any{
		"authorization_required": true,
		"client": map[string]any{
			"id":   client.ID,
			"name": client.Name,
		},
		"scopes": scopes,
		"state":  req.State,
	}), nil
}

// ConsentRequest carries the POST /authorize consent decision.
type ConsentRequest struct {
	SessionID string
	UserID    string
	Approved  bool
}

// Consent implements POST /authorize (spec §4.4 "consent resolution").
func (e *Engine) Consent(ctx context.Context, req ConsentRequest) (*Response, error) {
	pending, ok, err := e.Sessions.Get(ctx, req.SessionID)
	if err != nil {
		return errorResponse(NewError(ErrServerError, "")), nil
	}
	if !ok {
		return errorResponse(NewError(ErrInvalidRequest, "no pending authorization request")), nil
	}
	_ = e.Sessions.Forget(ctx, req.SessionID)

	if !req.Approved {
		return redirectResponse(errorRedirect(pending.RedirectURI, ErrAccessDenied, "user denied the request", pending.State)), nil
	}
	return e.issueCode(ctx, pending, req.UserID)
}

// issueCode creates the authorization code and redirects back to the
// client (spec §4.4 steps 12–15).
func (e *Engine) issueCode(ctx context.Context, pending PendingAuthorize, rawUserID string) (*Response, error) {
	userID, err := resolveUserID(rawUserID)
	if err != nil {
		return errorResponse(NewError(ErrServerError, "could not resolve authenticated user")), nil
	}

	plain, _, err := e.Codes.Create(ctx, CreateCodeInput{
		ClientID:            pending.ClientID,
		UserID:              userID,
		RedirectURI:         pending.RedirectURI,
		Scopes:              pending.Scopes,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
	})
	if err != nil {
		return redirectResponse(errorRedirect(pending.RedirectURI, ErrServerError, "", pending.State)), nil
	}

	params := map[string]string{"code": plain}
	if pending.State != "" {
		params["state"] = pending.State
	}

	emit(ctx, e.Emit, Emitted{Type: EventCodeIssued, ClientID: pending.ClientID, UserID: userID, Scopes: pending.Scopes})

	return redirectResponse(addQueryParams(pending.RedirectURI, params)), nil
}

// TokenRequest carries the parsed POST /token body (form or JSON; field
// names per RFC 6749).
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// TokenResponse is the success envelope for POST /token.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Token implements POST /token across all three supported grant types
// (spec §4.4 "POST /token").
func (e *Engine) Token(ctx context.Context, req TokenRequest) (*Response, error) {
	switch req.GrantType {
	case GrantAuthorizationCode:
		return e.tokenFromCode(ctx, req)
	case GrantClientCredentials:
		return e.tokenFromClientCredentials(ctx, req)
	case GrantRefreshToken:
		return e.tokenFromRefresh(ctx, req)
	case "":
		return errorResponse(NewError(ErrInvalidRequest, "grant_type is required")), nil
	default:
		return errorResponse(NewError(ErrUnsupportedGrantType, "unsupported grant_type")), nil
	}
}

func (e *Engine) authenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, *Error) {
	client, err := e.Clients.Find(ctx, clientID)
	if err != nil || client == nil || client.Revoked {
		return nil, NewError(ErrInvalidClient, "unknown or revoked client")
	}
	if client.Confidential {
		if clientSecret == "" || !e.Clients.VerifySecret(client, clientSecret) {
			return nil, NewError(ErrInvalidClient, "client authentication failed")
		}
	}
	return client, nil
}

func (e *Engine) tokenFromCode(ctx context.Context, req TokenRequest) (*Response, error) {
	if req.Code == "" || req.RedirectURI == "" || req.ClientID == "" {
		return errorResponse(NewError(ErrInvalidRequest, "code, redirect_uri and client_id are required")), nil
	}

	client, cerr := e.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if cerr != nil {
		return errorResponse(cerr), nil
	}

	row, err := e.Codes.Consume(ctx, req.Code, client.ID, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		return errorResponse(NewError(ErrServerError, "")), nil
	}
	if row == nil {
		return errorResponse(NewError(ErrInvalidGrant, "authorization code is invalid, expired, used, or mismatched")), nil
	}

	plainAccess, plainRefresh, tok, err := e.Tokens.Create(ctx, CreateTokenInput{
		UserID:      row.UserID,
		ClientID:    client.ID,
		Scopes:      row.Scopes,
		WithRefresh: client.SupportsGrant(GrantRefreshToken),
	})
	if err != nil {
		return errorResponse(NewError(ErrServerError, "")), nil
	}

	emit(ctx, e.Emit, Emitted{Type: EventTokenIssued, ClientID: client.ID, UserID: row.UserID, TokenID: tok.ID, Scopes: tok.Scopes})

	return jsonResponse(200, tokenEnvelope(plainAccess, plainRefresh, tok)), nil
}

func (e *Engine) tokenFromClientCredentials(ctx context.Context, req TokenRequest) (*Response, error) {
	if req.ClientID == "" || req.ClientSecret == "" {
		return errorResponse(NewError(ErrInvalidRequest, "client_id and client_secret are required")), nil
	}

	client, err := e.Clients.Find(ctx, req.ClientID)
	if err != nil || client == nil || client.Revoked {
		return errorResponse(NewError(ErrInvalidClient, "unknown or revoked client")), nil
	}
	if !client.Confidential {
		return errorResponse(NewError(ErrInvalidClient, "public clients may not use client_credentials")), nil
	}
	if !client.SupportsGrant(GrantClientCredentials) {
		return errorResponse(NewError(ErrInvalidGrant, "client is not permitted to use client_credentials")), nil
	}
	if !e.Clients.VerifySecret(client, req.ClientSecret) {
		return errorResponse(NewError(ErrInvalidClient, "client authentication failed")), nil
	}

	scopes, verr := e.Scopes.Validate(scope.ParseSpaceDelimited(req.Scope), client.AllowedScopes, e.DefaultScopes)
	if verr != nil {
		return errorResponse(NewError(ErrInvalidScope, verr.Error())), nil
	}

	plainAccess, _, tok, err := e.Tokens.Create(ctx, CreateTokenInput{
		ClientID:    client.ID,
		Scopes:      scopes,
		WithRefresh: false,
	})
	if err != nil {
		return errorResponse(NewError(ErrServerError, "")), nil
	}

	emit(ctx, e.Emit, Emitted{Type: EventTokenIssued, ClientID: client.ID, TokenID: tok.ID, Scopes: tok.Scopes})

	return jsonResponse(200, tokenEnvelope(plainAccess, "", tok)), nil
}

func (e *Engine) tokenFromRefresh(ctx context.Context, req TokenRequest) (*Response, error) {
	if req.RefreshToken == "" || req.ClientID == "" {
		return errorResponse(NewError(ErrInvalidRequest, "refresh_token and client_id are required")), nil
	}

	client, cerr := e.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if cerr != nil {
		return errorResponse(cerr), nil
	}

	old, err := e.Tokens.ValidateRefresh(ctx, req.RefreshToken)
	if err != nil {
		return errorResponse(NewError(ErrServerError, "")), nil
	}
	if old == nil || old.ClientID != client.ID {
		return errorResponse(NewError(ErrInvalidGrant, "refresh token is invalid, revoked, expired, or mismatched")), nil
	}

	scopes := old.Scopes
	if req.Scope != "" {
		requested := scope.ParseSpaceDelimited(req.Scope)
		var widened []string
		allowed := make(map[string]struct{}, len(old.Scopes))
		for _, s := range old.Scopes {
			allowed[s] = struct{}{}
		}
		for _, s := range requested {
			if _, ok := allowed[s]; !ok {
				widened = append(widened, s)
			}
		}
		if len(widened) > 0 {
			return errorResponse(NewError(ErrInvalidRequest, fmt.Sprintf("requested scope widens the original grant: %s", strings.Join(widened, " ")))), nil
		}
		scopes = requested
	}

	// Rotation: revoke the old pair before issuing the new one so the
	// old refresh token cannot be reused even if issuance below fails.
	if err := e.Tokens.Revoke(ctx, old.ID); err != nil {
		return errorResponse(NewError(ErrServerError, "")), nil
	}

	plainAccess, plainRefresh, tok, err := e.Tokens.Create(ctx, CreateTokenInput{
		UserID:      old.UserID,
		ClientID:    client.ID,
		Scopes:      scopes,
		WithRefresh: true,
	})
	if err != nil {
		return errorResponse(NewError(ErrServerError, "")), nil
	}

	emit(ctx, e.Emit, Emitted{Type: EventTokenRefreshed, ClientID: client.ID, UserID: old.UserID, TokenID: tok.ID, Scopes: tok.Scopes})

	return jsonResponse(200, tokenEnvelope(plainAccess, plainRefresh, tok)), nil
}

func tokenEnvelope(plainAccess, plainRefresh string, tok *Token) TokenResponse {
	expiresIn := int64(math.Floor(time.Until(tok.ExpiresAt).Seconds()))
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken:  plainAccess,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		Scope:        scope.Join(tok.Scopes),
		RefreshToken: plainRefresh,
	}
}

// RevokeRequest carries the parsed POST /revoke body (RFC 7009).
type RevokeRequest struct {
	Token        string
	ClientID     string
	ClientSecret string
}

// Revoke implements POST /revoke. Per RFC 7009 §2.2 the response is
// always HTTP 200 once the token parameter was present, regardless of
// whether the token existed or was already revoked.
func (e *Engine) Revoke(ctx context.Context, req RevokeRequest) (*Response, error) {
	if req.Token == "" {
		return errorResponse(NewError(ErrInvalidRequest, "token is required")), nil
	}

	if req.ClientID != "" {
		client, err := e.Clients.Find(ctx, req.ClientID)
		if err != nil || client == nil || client.Revoked {
			return errorResponse(NewError(ErrInvalidClient, "unknown or revoked client")), nil
		}
		// Secret verification is conditional on the secret being
		// supplied: RFC 7009 permits unauthenticated revoke attempts.
		if client.Confidential && req.ClientSecret != "" && !e.Clients.VerifySecret(client, req.ClientSecret) {
			return errorResponse(NewError(ErrInvalidClient, "client authentication failed")), nil
		}
	}

	if tok, _ := e.Tokens.Validate(ctx, req.Token); tok != nil {
		_ = e.Tokens.Revoke(ctx, tok.ID)
		emit(ctx, e.Emit, Emitted{Type: EventTokenRevoked, ClientID: tok.ClientID, UserID: tok.UserID, TokenID: tok.ID})
	} else if tok, _ := e.Tokens.ValidateRefresh(ctx, req.Token); tok != nil {
		_ = e.Tokens.Revoke(ctx, tok.ID)
		emit(ctx, e.Emit, Emitted{Type: EventTokenRevoked, ClientID: tok.ClientID, UserID: tok.UserID, TokenID: tok.ID})
	}

	return &Response{Kind: KindNoContent, StatusCode: 200, Body: map[string]any{}}, nil
}

// IntrospectRequest carries the parsed POST /introspect body (RFC 7662).
type IntrospectRequest struct {
	Token        string
	ClientID     string
	ClientSecret string
}

// Introspect implements POST /introspect.
func (e *Engine) Introspect(ctx context.Context, req IntrospectRequest) (*Response, error) {
	if req.Token == "" {
		return errorResponse(NewError(ErrInvalidRequest, "token is required")), nil
	}

	if req.ClientID != "" {
		client, err := e.Clients.Find(ctx, req.ClientID)
		if err != nil || client == nil || client.Revoked {
			return errorResponse(NewError(ErrInvalidClient, "unknown or revoked client")), nil
		}
		if client.Confidential && req.ClientSecret != "" && !e.Clients.VerifySecret(client, req.ClientSecret) {
			return errorResponse(NewError(ErrInvalidClient, "client authentication failed")), nil
		}
	}

	tok, err := e.Tokens.Validate(ctx, req.Token)
	if err != nil {
		return errorResponse(NewError(ErrServerError, "")), nil
	}
	if tok == nil {
		return jsonResponse(200, map[string]any{"active": false}), nil
	}

	body := map[string]any{
		"active":     true,
		"scope":      scope.Join(tok.Scopes),
		"client_id":  tok.ClientID,
		"token_type": "Bearer",
		"exp":        tok.ExpiresAt.Unix(),
		"iat":        tok.CreatedAt.Unix(),
	}
	if tok.UserID != "" {
		body["sub"] = tok.UserID
	}
	return jsonResponse(200, body), nil
}

// errorRedirect builds a redirect URL carrying the standard OAuth2
// error query parameters.
func errorRedirect(redirectURI, code, description, state string) string {
	params := map[string]string{"error": code}
	if description != "" {
		params["error_description"] = description
	}
	if state != "" {
		params["state"] = state
	}
	return addQueryParams(redirectURI, params)
}

func addQueryParams(rawURL string, params map[string]string) string {
	q := url.Values{}
	for _, k := range []string{"code", "error", "error_description", "state"} {
		if v, ok := params[k]; ok {
			q.Set(k, v)
		}
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + q.Encode()
}

// resolveUserID adapts the dynamic user-identifier shapes a host may
// attach to a request context (string, integer, or a handle exposing an
// ID) into the opaque string identifier the lifecycle layer persists.
// The Go transport boundary already normalizes these to a string, so
// this adapter's only remaining job is to reject the absent case.
func resolveUserID(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("no authenticated user on request context")
	}
	return raw, nil
}
