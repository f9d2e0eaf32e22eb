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

package oauth2

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sync"
	"testing"

	"github.com/stravigor/oauth2/internal/scope"
)

// fakeSessionStore is an in-memory AuthRequestStore for engine tests.
type fakeSessionStore struct {
	mu   sync.Mutex
	data map[string]PendingAuthorize
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{data: make(map[string]PendingAuthorize)}
}

func (s *fakeSessionStore) Set(_ context.Context, sessionID string, req PendingAuthorize) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = req
	return nil
}

func (s *fakeSessionStore) Get(_ context.Context, sessionID string) (PendingAuthorize, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.data[sessionID]
	return req, ok, nil
}

func (s *fakeSessionStore) Forget(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

func newTestEngine() *Engine {
	registry := scope.New(map[string]string{
		"read":  "read access",
		"write": "write access",
	})
	return &Engine{
		Clients:       NewClients(newFakeClientRepo()),
		Codes:         NewCodes(newFakeCodeRepo(), testAccessLifetime),
		Tokens:        NewTokens(newFakeTokenRepo(), testAccessLifetime, testRefreshLifetime, testPersonalLifetime, ""),
		Scopes:        registry,
		Sessions:      newFakeSessionStore(),
		DefaultScopes: []string{"read"},
	}
}

func redirectQuery(t *testing.T, resp *Response) url.Values {
	t.Helper()
	if resp.Kind != KindRedirect {
		t.Fatalf("expected a redirect response, got kind=%v body=%v", resp.Kind, resp.Body)
	}
	u, err := url.Parse(resp.RedirectURL)
	if err != nil {
		t.Fatalf("could not parse redirect url %q: %v", resp.RedirectURL, err)
	}
	return u.Query()
}

// TestPurpose: End-to-end PKCE (S256) happy path: authorize a
// first-party public client, exchange the resulting code with the
// matching verifier, and confirm a usable access token comes back.
// Scope: Integration (in-process, fakes only)
// Security: RFC 7636 full round trip.
// Expected: Authorize redirects with a code; Token succeeds and the
// returned access token subsequently validates.
func TestEngine_PKCEHappyPath(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, _, err := e.Clients.Create(ctx, CreateClientInput{
		Name:         "spa",
		RedirectURIs: []string{"https://app.example/cb"},
		GrantTypes:   []string{GrantAuthorizationCode, GrantRefreshToken},
		Confidential: false,
		FirstParty:   true,
	})
	if err != nil {
		t.Fatalf("create client failed: %v", err)
	}

	verifier := "a-sufficiently-random-verifier-string"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	authResp, err := e.Authorize(ctx, AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            client.ID,
		RedirectURI:         "https://app.example/cb",
		Scope:               "read write",
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: ChallengeMethodS256,
		SessionID:           "sess-1",
		UserID:              "user-1",
	})
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	q := redirectQuery(t, authResp)
	code := q.Get("code")
	if code == "" {
		t.Fatalf("expected a code in the redirect, got %v", authResp.RedirectURL)
	}
	if q.Get("state") != "xyz" {
		t.Errorf("expected state echoed back, got %q", q.Get("state"))
	}

	tokResp, err := e.Token(ctx, TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example/cb",
		ClientID:     client.ID,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("token exchange failed: %v", err)
	}
	body, ok := tokResp.Body.(TokenResponse)
	if !ok {
		t.Fatalf("expected a TokenResponse body, got %T", tokResp.Body)
	}
	if body.AccessToken == "" {
		t.Fatal("expected a non-empty access token")
	}

	validated, err := e.Tokens.Validate(ctx, body.AccessToken)
	if err != nil || validated == nil {
		t.Fatalf("issued access token should validate, got row=%v err=%v", validated, err)
	}
}

// TestPurpose: Validates that a second exchange of the same
// authorization code is rejected as invalid_grant (RFC 6749 §4.1.2).
// Scope: Integration
// Security: Single-use code / replay protection.
// Expected: First exchange succeeds; second returns invalid_grant.
func TestEngine_CodeReplayRejected(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, secret, _ := e.Clients.Create(ctx, CreateClientInput{
		Name:         "confidential-app",
		RedirectURIs: []string{"https://app.example/cb"},
		GrantTypes:   []string{GrantAuthorizationCode},
		Confidential: true,
		FirstParty:   true,
	})

	authResp, _ := e.Authorize(ctx, AuthorizeRequest{
		ResponseType: "code",
		ClientID:     client.ID,
		RedirectURI:  "https://app.example/cb",
		SessionID:    "sess-1",
		UserID:       "user-1",
	})
	code := redirectQuery(t, authResp).Get("code")

	first, err := e.Token(ctx, TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://app.example/cb",
		ClientID: client.ID, ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := first.Body.(TokenResponse); !ok {
		t.Fatalf("expected first exchange to succeed, got %v", first.Body)
	}

	second, err := e.Token(ctx, TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://app.example/cb",
		ClientID: client.ID, ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oerr, ok := second.Body.(*Error)
	if !ok || oerr.Code != ErrInvalidGrant {
		t.Fatalf("expected invalid_grant on replay, got %v", second.Body)
	}
}

// TestPurpose: Validates that submitting a code with a redirect_uri
// that does not match the one used at authorize time is rejected, and
// that the rightful client can still use the code afterward.
// Scope: Integration
// Security: Redirect URI binding (spec §8 scenario 3).
// Expected: Tampered exchange fails invalid_grant; correct exchange
// afterward still succeeds.
func TestEngine_RedirectURITamperingRejected(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, _, _ := e.Clients.Create(ctx, CreateClientInput{
		Name:         "app",
		RedirectURIs: []string{"https://app.example/cb"},
		GrantTypes:   []string{GrantAuthorizationCode},
		Confidential: false,
		FirstParty:   true,
	})

	verifier := "verifier-value-000000000000000000"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	authResp, _ := e.Authorize(ctx, AuthorizeRequest{
		ResponseType: "code", ClientID: client.ID, RedirectURI: "https://app.example/cb",
		CodeChallenge: challenge, CodeChallengeMethod: ChallengeMethodS256,
		SessionID: "sess-1", UserID: "user-1",
	})
	code := redirectQuery(t, authResp).Get("code")

	tampered, err := e.Token(ctx, TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://evil.example/cb",
		ClientID: client.ID, CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oerr, ok := tampered.Body.(*Error); !ok || oerr.Code != ErrInvalidGrant {
		t.Fatalf("expected invalid_grant for mismatched redirect_uri, got %v", tampered.Body)
	}

	good, err := e.Token(ctx, TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://app.example/cb",
		ClientID: client.ID, CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := good.Body.(TokenResponse); !ok {
		t.Fatalf("expected the rightful redirect_uri to still succeed, got %v", good.Body)
	}
}

// TestPurpose: Validates the refresh grant rotates credentials: the
// old refresh token stops working once a new pair has been issued.
// Scope: Integration
// Expected: Refresh succeeds once; reusing the old refresh token
// afterward fails invalid_grant.
func TestEngine_RefreshRotation(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, secret, _ := e.Clients.Create(ctx, CreateClientInput{
		Name:         "app",
		RedirectURIs: []string{"https://app.example/cb"},
		GrantTypes:   []string{GrantAuthorizationCode, GrantRefreshToken},
		Confidential: true,
		FirstParty:   true,
	})

	authResp, _ := e.Authorize(ctx, AuthorizeRequest{
		ResponseType: "code", ClientID: client.ID, RedirectURI: "https://app.example/cb",
		Scope: "read", SessionID: "sess-1", UserID: "user-1",
	})
	code := redirectQuery(t, authResp).Get("code")

	first, err := e.Token(ctx, TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://app.example/cb",
		ClientID: client.ID, ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstBody, ok := first.Body.(TokenResponse)
	if !ok || firstBody.RefreshToken == "" {
		t.Fatalf("expected an initial refresh token, got %v", first.Body)
	}

	refreshed, err := e.Token(ctx, TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: firstBody.RefreshToken,
		ClientID: client.ID, ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refreshedBody, ok := refreshed.Body.(TokenResponse)
	if !ok {
		t.Fatalf("expected refresh to succeed, got %v", refreshed.Body)
	}
	if refreshedBody.AccessToken == firstBody.AccessToken {
		t.Error("expected a new access token from refresh, got the same one back")
	}

	replay, err := e.Token(ctx, TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: firstBody.RefreshToken,
		ClientID: client.ID, ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oerr, ok := replay.Body.(*Error); !ok || oerr.Code != ErrInvalidGrant {
		t.Fatalf("expected the rotated-out refresh token to be rejected, got %v", replay.Body)
	}
}

// TestPurpose: Validates that a refresh request cannot widen its scope
// beyond what the original grant carried.
// Scope: Integration
// Security: Scope widening prevention on refresh (RFC 6749 §6).
// Expected: Requesting an extra scope on refresh is rejected
// invalid_request.
func TestEngine_RefreshScopeWideningRejected(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, secret, _ := e.Clients.Create(ctx, CreateClientInput{
		Name:         "app",
		RedirectURIs: []string{"https://app.example/cb"},
		GrantTypes:   []string{GrantAuthorizationCode, GrantRefreshToken},
		Confidential: true,
		FirstParty:   true,
	})

	authResp, _ := e.Authorize(ctx, AuthorizeRequest{
		ResponseType: "code", ClientID: client.ID, RedirectURI: "https://app.example/cb",
		Scope: "read", SessionID: "sess-1", UserID: "user-1",
	})
	code := redirectQuery(t, authResp).Get("code")

	first, _ := e.Token(ctx, TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://app.example/cb",
		ClientID: client.ID, ClientSecret: secret,
	})
	firstBody := first.Body.(TokenResponse)

	widened, err := e.Token(ctx, TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: firstBody.RefreshToken,
		ClientID: client.ID, ClientSecret: secret, Scope: "read write",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oerr, ok := widened.Body.(*Error); !ok || oerr.Code != ErrInvalidRequest {
		t.Fatalf("expected invalid_request for scope widening, got %v", widened.Body)
	}
}

// TestPurpose: Validates that a public client cannot use the
// client_credentials grant.
// Scope: Integration
// Security: client_credentials requires a confidential client (RFC
// 6749 §4.4, spec §3 client invariant).
// Expected: invalid_client is returned, not a token.
func TestEngine_ClientCredentialsRejectedForPublicClient(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, _, _ := e.Clients.Create(ctx, CreateClientInput{
		Name:         "public-service",
		GrantTypes:   []string{GrantClientCredentials},
		Confidential: false,
	})

	resp, err := e.Token(ctx, TokenRequest{
		GrantType: GrantClientCredentials, ClientID: client.ID, ClientSecret: "whatever",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oerr, ok := resp.Body.(*Error)
	if !ok || oerr.Code != ErrInvalidClient {
		t.Fatalf("expected invalid_client, got %v", resp.Body)
	}
}

// TestPurpose: Validates the client_credentials happy path for a
// confidential client that supports the grant.
// Scope: Integration
// Expected: A token is issued with no refresh component.
func TestEngine_ClientCredentialsHappyPath(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, secret, _ := e.Clients.Create(ctx, CreateClientInput{
		Name:         "service",
		GrantTypes:   []string{GrantClientCredentials},
		Confidential: true,
	})

	resp, err := e.Token(ctx, TokenRequest{
		GrantType: GrantClientCredentials, ClientID: client.ID, ClientSecret: secret, Scope: "read",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, ok := resp.Body.(TokenResponse)
	if !ok {
		t.Fatalf("expected a token response, got %v", resp.Body)
	}
	if body.RefreshToken != "" {
		t.Error("client_credentials tokens must never carry a refresh token")
	}
}

// TestPurpose: Validates RFC 7009's conditional client authentication:
// revoke succeeds with HTTP-200 semantics whenever client_secret is
// simply omitted, even though client_id was supplied.
// Scope: Integration
// Security: Documented reference-behavior quirk (spec §9): client auth
// during revoke/introspect is verified only if a secret was actually
// supplied.
// Expected: Revoke without a secret still revokes the token.
func TestEngine_Revoke_ConditionalClientAuth(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, secret, _ := e.Clients.Create(ctx, CreateClientInput{
		Name: "app", GrantTypes: []string{GrantClientCredentials}, Confidential: true,
	})
	tokResp, _ := e.Token(ctx, TokenRequest{
		GrantType: GrantClientCredentials, ClientID: client.ID, ClientSecret: secret,
	})
	access := tokResp.Body.(TokenResponse).AccessToken

	resp, err := e.Revoke(ctx, RevokeRequest{Token: access, ClientID: client.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("revoke must always answer 200 once token is present, got %d", resp.StatusCode)
	}

	tok, _ := e.Tokens.Validate(ctx, access)
	if tok != nil {
		t.Fatal("expected the token to be revoked")
	}
}

// TestPurpose: Validates that revoke is a no-op (still HTTP 200) for an
// unknown token, per RFC 7009 §2.2.
// Scope: Integration
// Expected: No error, 200 response.
func TestEngine_Revoke_UnknownTokenStillReturns200(t *testing.T) {
	e := newTestEngine()
	resp, err := e.Revoke(context.Background(), RevokeRequest{Token: "does-not-exist"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

// TestPurpose: Validates introspection reports active:false for a
// revoked token and a full active record for a live one.
// Scope: Integration
// Expected: Live token introspects active=true with scope/client_id/sub;
// revoked token introspects active=false.
func TestEngine_Introspect(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	client, _, _ := e.Clients.Create(ctx, CreateClientInput{
		Name:         "app",
		RedirectURIs: []string{"https://app.example/cb"},
		GrantTypes:   []string{GrantAuthorizationCode},
		Confidential: false,
		FirstParty:   true,
	})
	authResp, _ := e.Authorize(ctx, AuthorizeRequest{
		ResponseType: "code", ClientID: client.ID, RedirectURI: "https://app.example/cb",
		Scope: "read", SessionID: "s", UserID: "user-9",
	})
	code := redirectQuery(t, authResp).Get("code")
	tokResp, _ := e.Token(ctx, TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://app.example/cb", ClientID: client.ID,
	})
	access := tokResp.Body.(TokenResponse).AccessToken

	active, err := e.Introspect(ctx, IntrospectRequest{Token: access})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := active.Body.(map[string]any)
	if body["active"] != true {
		t.Fatalf("expected active=true, got %v", body)
	}
	if body["sub"] != "user-9" {
		t.Errorf("expected sub=user-9, got %v", body["sub"])
	}

	if _, err := e.Revoke(ctx, RevokeRequest{Token: access}); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	inactive, err := e.Introspect(ctx, IntrospectRequest{Token: access})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inactiveBody := inactive.Body.(map[string]any)
	if inactiveBody["active"] != false {
		t.Fatalf("expected active=false after revoke, got %v", inactiveBody)
	}
}
