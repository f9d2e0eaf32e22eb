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
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// Codes is the Credential Lifecycle surface over authorization codes.
type Codes struct {
	repo     CodeRepository
	lifetime time.Duration
}

// NewCodes builds the authorization-code lifecycle manager.
func NewCodes(repo CodeRepository, lifetime time.Duration) *Codes {
	return &Codes{repo: repo, lifetime: lifetime}
}

// CreateCodeInput describes a code to be issued at authorize-approval.
type CreateCodeInput struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Create issues a new authorization code, returning the plaintext (to be
// placed in the redirect) and the persisted row.
func (c *Codes) Create(ctx context.Context, in CreateCodeInput) (string, *AuthorizationCode, error) {
	plain := generateSecret(codeSecretBytes)
	row := &AuthorizationCode{
		ID:                  uuid.NewString(),
		ClientID:            in.ClientID,
		UserID:              in.UserID,
		RedirectURI:         in.RedirectURI,
		Scopes:              in.Scopes,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: in.CodeChallengeMethod,
		CodeHash:            hashSecret(plain),
		ExpiresAt:           time.Now().Add(c.lifetime),
		CreatedAt:           time.Now(),
	}
	if err := c.repo.Create(ctx, row); err != nil {
		return "", nil, err
	}
	return plain, row, nil
}

// Consume attempts a single-use code exchange. It returns nil (with a
// nil error) if the code does not exist, was already used, has expired,
// belongs to another client, the redirect URI does not match
// byte-for-byte, or PKCE verification fails — all of these are "consume
// failed" outcomes the protocol layer uniformly reports as
// invalid_grant, with no side effects on the stored row in any of these
// cases (spec: PKCE failure must not burn the code).
//
// The row is fetched read-only first (scoped to clientID and
// redirectURI) so PKCE can be checked before anything is mutated. Only
// once PKCE passes does MarkUsed perform the atomic conditional UPDATE
// ... WHERE used_at IS NULL RETURNING * that prevents two concurrent
// exchanges of the same code from both succeeding.
func (c *Codes) Consume(ctx context.Context, plain, clientID, redirectURI, codeVerifier string) (*AuthorizationCode, error) {
	hash := hashSecret(plain)
	row, err := c.repo.FindActive(ctx, hash, clientID, redirectURI)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	if row.CodeChallenge != "" {
		if !verifyPKCE(row.CodeChallenge, row.CodeChallengeMethod, codeVerifier) {
			return nil, nil
		}
	}
	return c.repo.MarkUsed(ctx, hash)
}

// Prune deletes used or expired codes, returning the count removed.
func (c *Codes) Prune(ctx context.Context) (int64, error) {
	return c.repo.Prune(ctx)
}

// verifyPKCE checks a code verifier against a stored challenge (RFC 7636
// §4.6). An empty verifier never verifies, even against an empty
// challenge — PKCE, once required, cannot be bypassed by omission.
func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}
	switch method {
	case ChallengeMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return computed == challenge
	case ChallengeMethodPlain, "":
		// RFC 7636 §4.3: method defaults to "plain" when omitted.
		return verifier == challenge
	default:
		return false
	}
}
