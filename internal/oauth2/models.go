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
	"errors"
	"time"
)

// Domain errors returned by the credential lifecycle operations.
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrClientAlreadyExists = errors.New("client already exists")
	ErrTokenNotFound       = errors.New("token not found")
)

// Grant types a client may be permitted to use.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

// PKCE code challenge methods (RFC 7636).
const (
	ChallengeMethodS256  = "S256"
	ChallengeMethodPlain = "plain"
)

// Client is an application registered to obtain tokens.
type Client struct {
	ID            string
	Name          string
	SecretHash    string // empty iff public
	RedirectURIs  []string
	AllowedScopes []string // nil means "any registered scope"
	GrantTypes    []string
	Confidential  bool
	FirstParty    bool
	Revoked       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SupportsGrant reports whether the client is permitted to use the given
// grant type.
func (c *Client) SupportsGrant(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri matches a registered redirect URI,
// byte-for-byte. No partial or prefix matching is performed.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode is a single-use bearer that authorizes a token
// exchange.
type AuthorizationCode struct {
	ID                  string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string // empty if PKCE not used
	CodeChallengeMethod string
	CodeHash            string
	ExpiresAt           time.Time
	UsedAt              *time.Time
	CreatedAt           time.Time
}

// Token is an access token with an optional paired refresh token. One
// row covers both, per the unified credential model: a token issued
// without a refresh component simply leaves RefreshHash empty.
type Token struct {
	ID               string
	UserID           string // empty for client_credentials tokens
	ClientID         string
	Name             string // set only for personal access tokens
	Scopes           []string
	AccessHash       string
	RefreshHash      string // empty if no refresh token was issued
	ExpiresAt        time.Time
	RefreshExpiresAt *time.Time
	LastUsedAt       *time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// HasRefresh reports whether the token carries a refresh credential.
func (t *Token) HasRefresh() bool {
	return t.RefreshHash != ""
}

// ClientRepository persists Client rows.
type ClientRepository interface {
	Create(ctx context.Context, c *Client) error
	Find(ctx context.Context, id string) (*Client, error)
	Update(ctx context.Context, c *Client) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Client, error)
}

// CodeRepository persists AuthorizationCode rows.
type CodeRepository interface {
	Create(ctx context.Context, c *AuthorizationCode) error
	// FindActive is a read-only lookup scoped to clientID and
	// redirectURI, returning (nil, nil) if no unused, unexpired,
	// matching row exists for hash. It has no side effects, so a
	// caller can inspect PKCE fields before deciding whether the code
	// should actually be burned.
	FindActive(ctx context.Context, hash, clientID, redirectURI string) (*AuthorizationCode, error)
	// MarkUsed atomically marks the code identified by hash as used and
	// returns the row as it stood immediately after the update,
	// conditioned on used_at still being unset — so two concurrent
	// callers that both passed FindActive can never both succeed here.
	// Returns (nil, nil) if the row was already used (or vanished) by
	// the time this runs.
	MarkUsed(ctx context.Context, hash string) (*AuthorizationCode, error)
	Prune(ctx context.Context) (int64, error)
}

// TokenRepository persists Token rows.
type TokenRepository interface {
	Create(ctx context.Context, t *Token) error
	FindByAccessHash(ctx context.Context, hash string) (*Token, error)
	FindByRefreshHash(ctx context.Context, hash string) (*Token, error)
	TouchLastUsed(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	RevokeAllForClient(ctx context.Context, userID, clientID string) error
	ListForUser(ctx context.Context, userID string) ([]*Token, error)
	ListPersonalForUser(ctx context.Context, userID, personalAccessClient string) ([]*Token, error)
	Prune(ctx context.Context, revokedOlderThan time.Duration) (int64, error)
}
