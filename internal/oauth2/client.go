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

// Clients is the Credential Lifecycle surface over client registrations.
type Clients struct {
	repo ClientRepository
}

// NewClients builds the client lifecycle manager.
func NewClients(repo ClientRepository) *Clients {
	return &Clients{repo: repo}
}

// CreateClientInput describes a new client registration.
type CreateClientInput struct {
	Name          string
	RedirectURIs  []string
	AllowedScopes []string // nil means "any registered scope"
	GrantTypes    []string // nil defaults to [authorization_code, refresh_token]; non-nil empty means none
	Confidential  bool
	FirstParty    bool
}

// Create allocates a client, generating and hashing a secret for
// confidential clients. The plaintext secret is returned once and never
// persisted.
func (c *Clients) Create(ctx context.Context, in CreateClientInput) (*Client, string, error) {
	grantTypes := in.GrantTypes
	if grantTypes == nil {
		grantTypes = []string{GrantAuthorizationCode, GrantRefreshToken}
	}

	client := &Client{
		ID:            uuid.NewString(),
		Name:          in.Name,
		RedirectURIs:  in.RedirectURIs,
		AllowedScopes: in.AllowedScopes,
		GrantTypes:    grantTypes,
		Confidential:  in.Confidential,
		FirstParty:    in.FirstParty,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	var plainSecret string
	if in.Confidential {
		plainSecret = GenerateClientSecret()
		client.SecretHash = HashClientSecret(plainSecret)
	}

	if err := c.repo.Create(ctx, client); err != nil {
		return nil, "", err
	}
	return client, plainSecret, nil
}

// Find returns the client regardless of its revoked status; callers
// that care must check Revoked themselves.
func (c *Clients) Find(ctx context.Context, id string) (*Client, error) {
	return c.repo.Find(ctx, id)
}

// VerifySecret computes the hash of plain and compares it, in constant
// time, against the stored hash. Returns false for public clients
// (no stored secret).
func (c *Clients) VerifySecret(client *Client, plain string) bool {
	if client.SecretHash == "" {
		return false
	}
	return secretsEqual(HashClientSecret(plain), client.SecretHash)
}

// Revoke marks a client revoked. Idempotent.
func (c *Clients) Revoke(ctx context.Context, id string) error {
	client, err := c.repo.Find(ctx, id)
	if err != nil {
		return err
	}
	if client.Revoked {
		return nil
	}
	client.Revoked = true
	client.UpdatedAt = time.Now()
	return c.repo.Update(ctx, client)
}

// Destroy hard-deletes a client and, by foreign-key cascade at the
// storage layer, its tokens and authorization codes. Intended for tests
// and administrative tooling only.
func (c *Clients) Destroy(ctx context.Context, id string) error {
	return c.repo.Delete(ctx, id)
}

// List returns every registered client.
func (c *Clients) List(ctx context.Context) ([]*Client, error) {
	return c.repo.List(ctx)
}
