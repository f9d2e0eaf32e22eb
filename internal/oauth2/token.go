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
	"time"

	"github.com/google/uuid"
)

// Tokens is the Credential Lifecycle surface over access/refresh tokens.
type Tokens struct {
	repo                 TokenRepository
	accessLifetime       time.Duration
	refreshLifetime      time.Duration
	personalLifetime     time.Duration
	personalAccessClient string
}

// NewTokens builds the token lifecycle manager. personalLifetime governs
// tokens created with a non-empty Name (personal access tokens, spec
// §6 personalAccessTokenLifetime); every other token uses
// accessLifetime.
func NewTokens(repo TokenRepository, accessLifetime, refreshLifetime, personalLifetime time.Duration, personalAccessClient string) *Tokens {
	return &Tokens{
		repo:                 repo,
		accessLifetime:       accessLifetime,
		refreshLifetime:      refreshLifetime,
		personalLifetime:     personalLifetime,
		personalAccessClient: personalAccessClient,
	}
}

// CreateTokenInput describes a token pair to be issued.
type CreateTokenInput struct {
	UserID       string // empty for client_credentials
	ClientID     string
	Name         string // personal access tokens only
	Scopes       []string
	WithRefresh  bool
}

// Create issues a new access token, and a paired refresh token when
// requested and a user is present. Returns the plaintext access token,
// the plaintext refresh token (empty if none was issued), and the row.
func (t *Tokens) Create(ctx context.Context, in CreateTokenInput) (string, string, *Token, error) {
	lifetime := t.accessLifetime
	if in.Name != "" {
		lifetime = t.personalLifetime
	}

	plainAccess := generateSecret(tokenSecretBytes)
	row := &Token{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		ClientID:   in.ClientID,
		Name:       in.Name,
		Scopes:     in.Scopes,
		AccessHash: hashSecret(plainAccess),
		ExpiresAt:  time.Now().Add(lifetime),
		CreatedAt:  time.Now(),
	}

	var plainRefresh string
	if in.WithRefresh && in.UserID != "" {
		plainRefresh = generateSecret(tokenSecretBytes)
		row.RefreshHash = hashSecret(plainRefresh)
		expiresAt := time.Now().Add(t.refreshLifetime)
		row.RefreshExpiresAt = &expiresAt
	}

	if err := t.repo.Create(ctx, row); err != nil {
		return "", "", nil, err
	}
	return plainAccess, plainRefresh, row, nil
}

// Validate looks up an access token by its plaintext, rejecting it if
// revoked or expired. On success it schedules a fire-and-forget update
// of last_used_at; failures updating that field never affect the
// validation result.
func (t *Tokens) Validate(ctx context.Context, plainAccess string) (*Token, error) {
	row, err := t.repo.FindByAccessHash(ctx, hashSecret(plainAccess))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	if row.RevokedAt != nil {
		return nil, nil
	}
	if !row.ExpiresAt.After(time.Now()) {
		return nil, nil
	}

	go func(id string) {
		bg := context.Background()
		_ = t.repo.TouchLastUsed(bg, id)
	}(row.ID)

	return row, nil
}

// ValidateRefresh looks up a refresh token by its plaintext, rejecting
// it if revoked or its refresh_expires_at has passed.
func (t *Tokens) ValidateRefresh(ctx context.Context, plainRefresh string) (*Token, error) {
	row, err := t.repo.FindByRefreshHash(ctx, hashSecret(plainRefresh))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	if row.RevokedAt != nil {
		return nil, nil
	}
	if row.RefreshExpiresAt == nil || !row.RefreshExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return row, nil
}

// Revoke marks a token revoked. Idempotent.
func (t *Tokens) Revoke(ctx context.Context, id string) error {
	return t.repo.Revoke(ctx, id)
}

// RevokeAllForUser revokes every non-revoked token belonging to a user.
func (t *Tokens) RevokeAllForUser(ctx context.Context, userID string) error {
	return t.repo.RevokeAllForUser(ctx, userID)
}

// RevokeAllForClient revokes every non-revoked token for a user/client
// pair.
func (t *Tokens) RevokeAllForClient(ctx context.Context, userID, clientID string) error {
	return t.repo.RevokeAllForClient(ctx, userID, clientID)
}

// ListForUser returns non-revoked, non-expired tokens for a user,
// newest-first.
func (t *Tokens) ListForUser(ctx context.Context, userID string) ([]*Token, error) {
	return t.repo.ListForUser(ctx, userID)
}

// PersonalTokensFor returns tokens issued against the configured
// personal-access client for a user; empty if none is configured.
func (t *Tokens) PersonalTokensFor(ctx context.Context, userID string) ([]*Token, error) {
	if t.personalAccessClient == "" {
		return nil, nil
	}
	return t.repo.ListPersonalForUser(ctx, userID, t.personalAccessClient)
}

// Prune deletes tokens that are fully expired or have been revoked for
// longer than revokedOlderThan.
func (t *Tokens) Prune(ctx context.Context, revokedOlderThan time.Duration) (int64, error) {
	return t.repo.Prune(ctx, revokedOlderThan)
}
