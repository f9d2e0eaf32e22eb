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

// Package scope implements the process-wide scope registry consulted by
// the grant protocol engine when validating requested scopes.
package scope

import (
	"fmt"
	"strings"
	"sync"
)

// Described pairs a scope name with its human-readable description.
type Described struct {
	Name        string
	Description string
}

// Registry is a process-wide, mutex-guarded name→description map.
type Registry struct {
	mu    sync.Mutex
	names map[string]string
}

// New builds a registry pre-populated from configuration.
func New(initial map[string]string) *Registry {
	r := &Registry{names: make(map[string]string, len(initial))}
	for name, desc := range initial {
		r.names[name] = desc
	}
	return r
}

// Define adds or updates scope descriptions. Safe for concurrent use.
func (r *Registry) Define(batch map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, desc := range batch {
		r.names[name] = desc
	}
}

// Reset clears the registry. Intended for test setup only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = make(map[string]string)
}

func (r *Registry) isRegistered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[name]
	return ok
}

func (r *Registry) describeOne(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if desc, ok := r.names[name]; ok {
		return desc
	}
	return name
}

// InvalidScopeError reports that one or more requested scopes could not
// be validated, either because they are unregistered or because they are
// absent from the requesting client's allow-list.
type InvalidScopeError struct {
	Names []string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid_scope: %s", strings.Join(e.Names, " "))
}

// Validate computes the effective scope list for a request.
//
// If requested is empty, defaults is substituted. Every name in the
// result must be registered. If clientAllowed is non-nil, every name
// must also appear in it. Input order is preserved so callers can echo
// it back verbatim in responses.
func (r *Registry) Validate(requested []string, clientAllowed []string, defaults []string) ([]string, error) {
	effective := requested
	if len(effective) == 0 {
		effective = defaults
	}

	var allowSet map[string]struct{}
	if clientAllowed != nil {
		allowSet = make(map[string]struct{}, len(clientAllowed))
		for _, name := range clientAllowed {
			allowSet[name] = struct{}{}
		}
	}

	var bad []string
	for _, name := range effective {
		if !r.isRegistered(name) {
			bad = append(bad, name)
			continue
		}
		if allowSet != nil {
			if _, ok := allowSet[name]; !ok {
				bad = append(bad, name)
			}
		}
	}
	if len(bad) > 0 {
		return nil, &InvalidScopeError{Names: bad}
	}

	out := make([]string, len(effective))
	copy(out, effective)
	return out, nil
}

// Describe maps scope names to (name, description) pairs. Unknown names
// pass through using the name itself as the description; this call
// never fails, since it is used only for display.
func (r *Registry) Describe(names []string) []Described {
	out := make([]Described, 0, len(names))
	for _, name := range names {
		out = append(out, Described{Name: name, Description: r.describeOne(name)})
	}
	return out
}

// ParseSpaceDelimited splits an RFC 6749 space-delimited scope string,
// dropping empty fields so "" and "  " both yield an empty slice.
func ParseSpaceDelimited(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Join renders a scope list back into the RFC 6749 space-delimited form.
func Join(names []string) string {
	return strings.Join(names, " ")
}
