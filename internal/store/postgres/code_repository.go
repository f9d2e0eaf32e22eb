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

	"github.com/jackc/pgx/v5"
	"github.com/stravigor/oauth2/internal/oauth2"
)

// CodeRepository implements oauth2.CodeRepository.
type CodeRepository struct {
	db *DB
}

// NewCodeRepository creates a new authorization code repository.
func NewCodeRepository(db *DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// Create persists a new authorization code.
func (r *CodeRepository) Create(ctx context.Context, c *oauth2.AuthorizationCode) error {
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO auth_codes (
			id, client_id, user_id, redirect_uri, scopes,
			code_challenge, code_challenge_method, code_hash, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		c.ID, c.ClientID, c.UserID, c.RedirectURI, scopes,
		c.CodeChallenge, c.CodeChallengeMethod, c.CodeHash, c.ExpiresAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}
	return nil
}

// FindActive is a read-only lookup scoped to clientID, redirectURI, not
// used, and not expired. It never mutates the row, so the caller can
// check PKCE before deciding whether the code should be burned.
func (r *CodeRepository) FindActive(ctx context.Context, hash, clientID, redirectURI string) (*oauth2.AuthorizationCode, error) {
	var c oauth2.AuthorizationCode
	var scopesJSON []byte
	var usedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, client_id, user_id, redirect_uri, scopes,
		       code_challenge, code_challenge_method, code_hash, expires_at, used_at, created_at
		FROM auth_codes
		WHERE code_hash = $1 AND client_id = $2 AND redirect_uri = $3
		      AND used_at IS NULL AND expires_at > now()
	`, hash, clientID, redirectURI).Scan(
		&c.ID, &c.ClientID, &c.UserID, &c.RedirectURI, &scopesJSON,
		&c.CodeChallenge, &c.CodeChallengeMethod, &c.CodeHash, &c.ExpiresAt, &usedAt, &c.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up authorization code: %w", err)
	}

	if err := json.Unmarshal(scopesJSON, &c.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}

	return &c, nil
}

// MarkUsed atomically marks the code matching hash as used via a single
// conditional UPDATE ... WHERE used_at IS NULL RETURNING *, so two
// callers racing on the same code after both passing FindActive can
// never both receive a non-nil row here.
func (r *CodeRepository) MarkUsed(ctx context.Context, hash string) (*oauth2.AuthorizationCode, error) {
	var c oauth2.AuthorizationCode
	var scopesJSON []byte
	var usedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		UPDATE auth_codes SET used_at = now()
		WHERE code_hash = $1 AND used_at IS NULL
		RETURNING id, client_id, user_id, redirect_uri, scopes,
		          code_challenge, code_challenge_method, code_hash, expires_at, used_at, created_at
	`, hash).Scan(
		&c.ID, &c.ClientID, &c.UserID, &c.RedirectURI, &scopesJSON,
		&c.CodeChallenge, &c.CodeChallengeMethod, &c.CodeHash, &c.ExpiresAt, &usedAt, &c.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to mark authorization code used: %w", err)
	}

	if err := json.Unmarshal(scopesJSON, &c.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}

	return &c, nil
}

// Prune deletes used or expired codes, returning the count removed.
func (r *CodeRepository) Prune(ctx context.Context) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM auth_codes WHERE used_at IS NOT NULL OR expires_at < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune authorization codes: %w", err)
	}
	return result.RowsAffected(), nil
}
