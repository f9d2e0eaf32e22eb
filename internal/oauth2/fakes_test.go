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
	"sync"
	"time"
)

// fakeClientRepo is an in-memory ClientRepository for tests.
type fakeClientRepo struct {
	mu      sync.Mutex
	clients map[string]*Client
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{clients: make(map[string]*Client)}
}

func (r *fakeClientRepo) Create(_ context.Context, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.clients[c.ID] = &cp
	return nil
}

func (r *fakeClientRepo) Find(_ context.Context, id string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeClientRepo) Update(_ context.Context, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID]; !ok {
		return ErrClientNotFound
	}
	cp := *c
	r.clients[c.ID] = &cp
	return nil
}

func (r *fakeClientRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
	return nil
}

func (r *fakeClientRepo) List(_ context.Context) ([]*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// fakeCodeRepo is an in-memory CodeRepository for tests. FindActive
// mirrors the same scoping the Postgres implementation enforces at the
// SQL layer: hash, client, redirect URI, not-used, not-expired, all in
// one read with no side effects on mismatch; MarkUsed sets used_at.
type fakeCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*AuthorizationCode // keyed by CodeHash
}

func newFakeCodeRepo() *fakeCodeRepo {
	return &fakeCodeRepo{codes: make(map[string]*AuthorizationCode)}
}

func (r *fakeCodeRepo) Create(_ context.Context, c *AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.codes[c.CodeHash] = &cp
	return nil
}

func (r *fakeCodeRepo) FindActive(_ context.Context, hash, clientID, redirectURI string) (*AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[hash]
	if !ok {
		return nil, nil
	}
	if c.UsedAt != nil || c.ClientID != clientID || c.RedirectURI != redirectURI || c.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCodeRepo) MarkUsed(_ context.Context, hash string) (*AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[hash]
	if !ok || c.UsedAt != nil {
		return nil, nil
	}
	now := time.Now()
	c.UsedAt = &now
	cp := *c // RETURNING reflects the row as it stands after the UPDATE, used_at included
	return &cp, nil
}

func (r *fakeCodeRepo) Prune(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, c := range r.codes {
		if c.UsedAt != nil || c.ExpiresAt.Before(time.Now()) {
			delete(r.codes, hash)
			n++
		}
	}
	return n, nil
}

// fakeTokenRepo is an in-memory TokenRepository for tests.
type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*Token // keyed by ID
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*Token)}
}

func (r *fakeTokenRepo) Create(_ context.Context, t *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.ID] = &cp
	return nil
}

func (r *fakeTokenRepo) FindByAccessHash(_ context.Context, hash string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.AccessHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeTokenRepo) FindByRefreshHash(_ context.Context, hash string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.RefreshHash != "" && t.RefreshHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeTokenRepo) TouchLastUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok {
		now := time.Now()
		t.LastUsedAt = &now
	}
	return nil
}

func (r *fakeTokenRepo) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok && t.RevokedAt == nil {
		now := time.Now()
		t.RevokedAt = &now
	}
	return nil
}

func (r *fakeTokenRepo) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, t := range r.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

func (r *fakeTokenRepo) RevokeAllForClient(_ context.Context, userID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, t := range r.tokens {
		if t.UserID == userID && t.ClientID == clientID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

func (r *fakeTokenRepo) ListForUser(_ context.Context, userID string) ([]*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Token
	for _, t := range r.tokens {
		if t.UserID == userID && t.RevokedAt == nil && t.ExpiresAt.After(time.Now()) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTokenRepo) ListPersonalForUser(_ context.Context, userID, personalAccessClient string) ([]*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Token
	for _, t := range r.tokens {
		if t.UserID == userID && t.ClientID == personalAccessClient && t.RevokedAt == nil && t.ExpiresAt.After(time.Now()) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTokenRepo) Prune(_ context.Context, revokedOlderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-revokedOlderThan)
	var n int64
	for id, t := range r.tokens {
		expiredNoRefresh := t.ExpiresAt.Before(time.Now()) && t.RefreshHash == ""
		refreshExpired := t.RefreshExpiresAt != nil && t.RefreshExpiresAt.Before(time.Now())
		oldRevoked := t.RevokedAt != nil && t.RevokedAt.Before(cutoff)
		if expiredNoRefresh || refreshExpired || oldRevoked {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}
