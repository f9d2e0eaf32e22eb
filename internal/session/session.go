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

// Package session provides the in-memory pending-authorization store
// consulted between the GET /authorize validation step and consent
// resolution.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/stravigor/oauth2/internal/oauth2"
)

// entry pairs a stashed PendingAuthorize with its expiry.
type entry struct {
	req       oauth2.PendingAuthorize
	expiresAt time.Time
}

// Store is an in-memory, mutex-guarded AuthRequestStore. Entries expire
// on their own after ttl even if never explicitly forgotten, so an
// abandoned consent flow cannot leak memory indefinitely.
type Store struct {
	mu              sync.Mutex
	entries         map[string]entry
	ttl             time.Duration
	cleanupInterval time.Duration
}

// New builds a pending-authorization store with the given entry
// lifetime.
func New(ttl time.Duration) *Store {
	s := &Store{
		entries:         make(map[string]entry),
		ttl:             ttl,
		cleanupInterval: time.Minute,
	}
	go s.cleanup()
	return s
}

// Set stashes a pending authorization request under sessionID,
// overwriting any existing entry.
func (s *Store) Set(_ context.Context, sessionID string, req oauth2.PendingAuthorize) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = entry{req: req, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

// Get retrieves a pending authorization request, reporting false if it
// is absent or has expired.
func (s *Store) Get(_ context.Context, sessionID string) (oauth2.PendingAuthorize, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok || time.Now().After(e.expiresAt) {
		return oauth2.PendingAuthorize{}, false, nil
	}
	return e.req, true, nil
}

// Forget removes a pending authorization request. Safe to call even if
// it was never set.
func (s *Store) Forget(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

func (s *Store) cleanup() {
	ticker := time.NewTicker(s.cleanupInterval)
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for id, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()
	}
}
