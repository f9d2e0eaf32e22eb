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

// Package user provides the minimal resource-owner collaborator the
// authorization server consults to authenticate the user side of the
// authorization_code grant. The full identity subsystem (registration,
// profile, lockout policy) lives outside this module's scope; callers
// wire in whatever Provider they have.
package user

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Domain errors.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the bare resource-owner record the authorization server
// needs: an opaque ID and an email for display/audit purposes.
type Identity struct {
	ID    string
	Email string
}

// Provider is the small interface the authorization server consumes.
// Find resolves the currently authenticated user (e.g. from a host
// session); Authenticate verifies a login credential pair, used by the
// demo login handler exercised in front of the /authorize flow.
type Provider interface {
	Find(ctx context.Context, id string) (*Identity, error)
	Authenticate(ctx context.Context, email, password string) (*Identity, error)
}

// record pairs an Identity with its bcrypt password hash.
type record struct {
	identity Identity
	hash     string
}

// MemoryProvider is an in-memory, bcrypt-backed Provider intended for
// demos and tests, not production use (no persistence, no lockout
// policy, no email verification).
type MemoryProvider struct {
	mu      sync.RWMutex
	byID    map[string]*record
	byEmail map[string]*record
}

// NewMemoryProvider builds an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		byID:    make(map[string]*record),
		byEmail: make(map[string]*record),
	}
}

// Register adds a user with the given plaintext password, hashing it
// with bcrypt at its default cost.
func (p *MemoryProvider) Register(id, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r := &record{identity: Identity{ID: id, Email: email}, hash: string(hash)}
	p.byID[id] = r
	p.byEmail[email] = r
	return nil
}

// Find implements Provider.
func (p *MemoryProvider) Find(_ context.Context, id string) (*Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	identity := r.identity
	return &identity, nil
}

// Authenticate implements Provider.
func (p *MemoryProvider) Authenticate(_ context.Context, email, password string) (*Identity, error) {
	p.mu.RLock()
	r, ok := p.byEmail[email]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(r.hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	identity := r.identity
	return &identity, nil
}
