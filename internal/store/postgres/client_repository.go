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
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stravigor/oauth2/internal/oauth2"
)

// ClientRepository implements oauth2.ClientRepository.
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository.
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create persists a new OAuth2 client.
func (r *ClientRepository) Create(ctx context.Context, c *oauth2.Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect URIs: %w", err)
	}
	allowedScopes, err := json.Marshal(c.AllowedScopes)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed scopes: %w", err)
	}
	grantTypes, err := json.Marshal(c.GrantTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal grant types: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO clients (
			id, name, secret_hash, redirect_uris, allowed_scopes, grant_types,
			confidential, first_party, revoked, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID, c.Name, c.SecretHash, redirectURIs, allowedScopes, grantTypes,
		c.Confidential, c.FirstParty, c.Revoked, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// Find retrieves a client by ID.
func (r *ClientRepository) Find(ctx context.Context, id string) (*oauth2.Client, error) {
	var c oauth2.Client
	var redirectURIsJSON, allowedScopesJSON, grantTypesJSON []byte

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, secret_hash, redirect_uris, allowed_scopes, grant_types,
		       confidential, first_party, revoked, created_at, updated_at
		FROM clients
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.SecretHash, &redirectURIsJSON, &allowedScopesJSON, &grantTypesJSON,
		&c.Confidential, &c.FirstParty, &c.Revoked, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if err := json.Unmarshal(redirectURIsJSON, &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redirect URIs: %w", err)
	}
	if err := json.Unmarshal(allowedScopesJSON, &c.AllowedScopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowed scopes: %w", err)
	}
	if err := json.Unmarshal(grantTypesJSON, &c.GrantTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant types: %w", err)
	}

	return &c, nil
}

// Update writes back mutable client fields (name, redirect URIs,
// allowed scopes, grant types, revoked status).
func (r *ClientRepository) Update(ctx context.Context, c *oauth2.Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect URIs: %w", err)
	}
	allowedScopes, err := json.Marshal(c.AllowedScopes)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed scopes: %w", err)
	}
	grantTypes, err := json.Marshal(c.GrantTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal grant types: %w", err)
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE clients SET
			name = $2,
			redirect_uris = $3,
			allowed_scopes = $4,
			grant_types = $5,
			confidential = $6,
			first_party = $7,
			revoked = $8,
			updated_at = $9
		WHERE id = $1
	`,
		c.ID, c.Name, redirectURIs, allowedScopes, grantTypes,
		c.Confidential, c.FirstParty, c.Revoked, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth2.ErrClientNotFound
	}
	return nil
}

// Delete hard-deletes a client; tokens and auth codes cascade via
// foreign key.
func (r *ClientRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth2.ErrClientNotFound
	}
	return nil
}

// List returns every registered client, newest first.
func (r *ClientRepository) List(ctx context.Context) ([]*oauth2.Client, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, secret_hash, redirect_uris, allowed_scopes, grant_types,
		       confidential, first_party, revoked, created_at, updated_at
		FROM clients
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []*oauth2.Client
	for rows.Next() {
		var c oauth2.Client
		var redirectURIsJSON, allowedScopesJSON, grantTypesJSON []byte

		if err := rows.Scan(
			&c.ID, &c.Name, &c.SecretHash, &redirectURIsJSON, &allowedScopesJSON, &grantTypesJSON,
			&c.Confidential, &c.FirstParty, &c.Revoked, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}

		if err := json.Unmarshal(redirectURIsJSON, &c.RedirectURIs); err != nil {
			continue
		}
		if err := json.Unmarshal(allowedScopesJSON, &c.AllowedScopes); err != nil {
			continue
		}
		if err := json.Unmarshal(grantTypesJSON, &c.GrantTypes); err != nil {
			continue
		}

		clients = append(clients, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return clients, nil
}
