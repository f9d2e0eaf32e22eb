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

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stravigor/oauth2/internal/oauth2"
)

// TokenRepository implements oauth2.TokenRepository over the unified
// tokens table (one row covers both the access and optional refresh
// component of a grant).
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create persists a new token row.
func (r *TokenRepository) Create(ctx context.Context, t *oauth2.Token) error {
	scopes, err := json.Marshal(t.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	refreshHash := sql.NullString{String: t.RefreshHash, Valid: t.RefreshHash != ""}
	var refreshExpiresAt sql.NullTime
	if t.RefreshExpiresAt != nil {
		refreshExpiresAt = sql.NullTime{Time: *t.RefreshExpiresAt, Valid: true}
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO tokens (
			id, user_id, client_id, name, scopes, access_hash, refresh_hash,
			expires_at, refresh_expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		t.ID, t.UserID, t.ClientID, t.Name, scopes, t.AccessHash, refreshHash,
		t.ExpiresAt, refreshExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

func scanToken(row interface {
	Scan(dest ...any) error
}) (*oauth2.Token, error) {
	var t oauth2.Token
	var scopesJSON []byte
	var refreshHash sql.NullString
	var refreshExpiresAt, lastUsedAt, revokedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.UserID, &t.ClientID, &t.Name, &scopesJSON, &t.AccessHash, &refreshHash,
		&t.ExpiresAt, &refreshExpiresAt, &lastUsedAt, &revokedAt, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}

	if err := json.Unmarshal(scopesJSON, &t.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	if refreshHash.Valid {
		t.RefreshHash = refreshHash.String
	}
	if refreshExpiresAt.Valid {
		t.RefreshExpiresAt = &refreshExpiresAt.Time
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Time
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}

	return &t, nil
}

const selectTokenColumns = `
	id, user_id, client_id, name, scopes, access_hash, refresh_hash,
	expires_at, refresh_expires_at, last_used_at, revoked_at, created_at
`

// FindByAccessHash looks up a token by its access-token hash.
func (r *TokenRepository) FindByAccessHash(ctx context.Context, hash string) (*oauth2.Token, error) {
	row := r.db.pool.QueryRow(ctx, "SELECT "+selectTokenColumns+" FROM tokens WHERE access_hash = $1", hash)
	return scanToken(row)
}

// FindByRefreshHash looks up a token by its refresh-token hash.
func (r *TokenRepository) FindByRefreshHash(ctx context.Context, hash string) (*oauth2.Token, error) {
	row := r.db.pool.QueryRow(ctx, "SELECT "+selectTokenColumns+" FROM tokens WHERE refresh_hash = $1", hash)
	return scanToken(row)
}

// TouchLastUsed updates last_used_at to now. Best-effort: called from a
// fire-and-forget goroutine by the lifecycle layer.
func (r *TokenRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `UPDATE tokens SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch last_used_at: %w", err)
	}
	return nil
}

// Revoke marks a token revoked. Idempotent: revoking an already-revoked
// token is not an error.
func (r *TokenRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE tokens SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every non-revoked token belonging to a user.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE tokens SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke tokens for user: %w", err)
	}
	return nil
}

// RevokeAllForClient revokes every non-revoked token for a user/client
// pair.
func (r *TokenRepository) RevokeAllForClient(ctx context.Context, userID, clientID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE tokens SET revoked_at = now()
		WHERE user_id = $1 AND client_id = $2 AND revoked_at IS NULL
	`, userID, clientID)
	if err != nil {
		return fmt.Errorf("failed to revoke tokens for client: %w", err)
	}
	return nil
}

// ListForUser returns non-revoked, non-expired tokens for a user,
// newest-first.
func (r *TokenRepository) ListForUser(ctx context.Context, userID string) ([]*oauth2.Token, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+selectTokenColumns+`
		FROM tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > now()
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

// ListPersonalForUser returns non-revoked, non-expired tokens issued
// against personalAccessClient for a user, newest-first.
func (r *TokenRepository) ListPersonalForUser(ctx context.Context, userID, personalAccessClient string) ([]*oauth2.Token, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+selectTokenColumns+`
		FROM tokens
		WHERE user_id = $1 AND client_id = $2 AND revoked_at IS NULL AND expires_at > now()
		ORDER BY created_at DESC
	`, userID, personalAccessClient)
	if err != nil {
		return nil, fmt.Errorf("failed to query personal tokens: %w", err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

func collectTokens(rows pgx.Rows) ([]*oauth2.Token, error) {
	var tokens []*oauth2.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tokens, nil
}

// Prune deletes tokens where (the access token has expired and no
// refresh token was ever issued) OR (the refresh token itself has
// expired) OR (the token was revoked more than revokedOlderThan ago). A
// token with an expired access component but a still-valid refresh
// component is kept, since the refresh grant can still renew it.
func (r *TokenRepository) Prune(ctx context.Context, revokedOlderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-revokedOlderThan)
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM tokens
		WHERE (expires_at < now() AND refresh_hash IS NULL)
		   OR (refresh_expires_at IS NOT NULL AND refresh_expires_at < now())
		   OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tokens: %w", err)
	}
	return result.RowsAffected(), nil
}
