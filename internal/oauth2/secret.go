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
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Secret byte lengths. These are design constants, not configuration:
// changing them changes the security margin of every credential kind.
const (
	clientSecretBytes = 32 // 64 hex chars
	codeSecretBytes   = 40 // 80 hex chars
	tokenSecretBytes  = 40 // 80 hex chars
)

// generateSecret returns n cryptographically random bytes, hex-encoded.
func generateSecret(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// broken, a condition this process cannot recover from.
		panic("oauth2: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// hashSecret returns the SHA-256 hash of plain, hex-encoded. Hashes are
// persisted; plaintexts are returned to the caller exactly once and
// never stored.
func hashSecret(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// secretsEqual compares two secrets in constant time.
func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateClientSecret returns a new plaintext client secret.
func GenerateClientSecret() string {
	return generateSecret(clientSecretBytes)
}

// HashClientSecret hashes a plaintext client secret for storage.
func HashClientSecret(plain string) string {
	return hashSecret(plain)
}
