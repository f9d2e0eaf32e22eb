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
	"testing"
)

// TestPurpose: Validates that creating a confidential client issues a
// plaintext secret once and persists only its hash.
// Scope: Unit Test
// Security: Secrets must never be recoverable from stored state.
// Expected: Plaintext secret is non-empty; stored hash differs from it
// and matches SHA-256(plaintext).
func TestClients_Create_ConfidentialGeneratesSecret(t *testing.T) {
	clients := NewClients(newFakeClientRepo())
	ctx := context.Background()

	client, secret, err := clients.Create(ctx, CreateClientInput{
		Name:         "Confidential App",
		Confidential: true,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if secret == "" {
		t.Fatal("expected a plaintext secret for a confidential client")
	}
	if client.SecretHash == "" || client.SecretHash == secret {
		t.Fatal("secret hash must be present and differ from the plaintext")
	}
	if client.SecretHash != hashSecret(secret) {
		t.Fatal("stored hash does not match SHA-256 of the plaintext secret")
	}
}

// TestPurpose: Validates that public clients receive no secret at all.
// Scope: Unit Test
// Security: confidential ⇔ secret hash present invariant (spec §3).
// Expected: Plaintext secret empty, stored hash empty.
func TestClients_Create_PublicHasNoSecret(t *testing.T) {
	clients := NewClients(newFakeClientRepo())
	ctx := context.Background()

	client, secret, err := clients.Create(ctx, CreateClientInput{
		Name:         "Public SPA",
		Confidential: false,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if secret != "" {
		t.Fatal("public client must not receive a plaintext secret")
	}
	if client.SecretHash != "" {
		t.Fatal("public client must not have a stored secret hash")
	}
}

// TestPurpose: Validates VerifySecret's constant-time comparison
// against the stored hash, including the public-client degenerate case.
// Scope: Unit Test
// Expected: Correct secret verifies; wrong secret and public clients do not.
func TestClients_VerifySecret(t *testing.T) {
	clients := NewClients(newFakeClientRepo())
	ctx := context.Background()

	confidential, secret, _ := clients.Create(ctx, CreateClientInput{Name: "c", Confidential: true})
	if !clients.VerifySecret(confidential, secret) {
		t.Error("correct secret should verify")
	}
	if clients.VerifySecret(confidential, secret+"x") {
		t.Error("wrong secret must not verify")
	}

	public, _, _ := clients.Create(ctx, CreateClientInput{Name: "p", Confidential: false})
	if clients.VerifySecret(public, "anything") {
		t.Error("public client has no secret and must never verify")
	}
}

// TestPurpose: Validates that Revoke is idempotent and that grant-type
// and redirect-URI membership checks on Client behave as documented.
// Scope: Unit Test
// Expected: Revoking twice leaves Revoked=true without error; helper
// predicates match only registered entries.
func TestClients_RevokeIdempotent(t *testing.T) {
	clients := NewClients(newFakeClientRepo())
	ctx := context.Background()

	client, _, _ := clients.Create(ctx, CreateClientInput{
		Name:         "c",
		RedirectURIs: []string{"https://app/cb"},
		GrantTypes:   []string{GrantAuthorizationCode},
	})

	if err := clients.Revoke(ctx, client.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := clients.Revoke(ctx, client.ID); err != nil {
		t.Fatalf("second revoke should be a no-op, got: %v", err)
	}

	got, _ := clients.Find(ctx, client.ID)
	if !got.Revoked {
		t.Fatal("expected client to be revoked")
	}

	if !got.SupportsGrant(GrantAuthorizationCode) {
		t.Error("expected authorization_code to be a supported grant")
	}
	if got.SupportsGrant(GrantClientCredentials) {
		t.Error("client_credentials was never registered")
	}
	if !got.HasRedirectURI("https://app/cb") {
		t.Error("expected the registered redirect URI to match")
	}
	if got.HasRedirectURI("https://app/cb/") {
		t.Error("redirect URI matching must be byte-for-byte, no trailing-slash tolerance")
	}
}

// TestPurpose: Validates that Destroy hard-deletes the client row.
// Scope: Unit Test
// Expected: A subsequent Find returns nil.
func TestClients_Destroy(t *testing.T) {
	clients := NewClients(newFakeClientRepo())
	ctx := context.Background()

	client, _, _ := clients.Create(ctx, CreateClientInput{Name: "temp"})
	if err := clients.Destroy(ctx, client.ID); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	got, _ := clients.Find(ctx, client.ID)
	if got != nil {
		t.Fatal("expected client to be gone after Destroy")
	}
}
