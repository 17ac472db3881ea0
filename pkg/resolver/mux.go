/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package resolver

import (
	"context"
	"fmt"
)

// Mux dispatches references to a resolver by scheme.
type Mux struct {
	resolvers map[string]Resolver
}

// NewMux returns an empty mux.
func NewMux() *Mux {
	return &Mux{resolvers: make(map[string]Resolver)}
}

// Handle registers r for scheme. Register before use; Mux is not safe for
// concurrent registration.
func (m *Mux) Handle(scheme string, r Resolver) *Mux {
	m.resolvers[scheme] = r
	return m
}

func (m *Mux) route(ref string) (Resolver, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	next, ok := m.resolvers[r.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no resolver for %q", errUnsupportedScheme, r.Scheme)
	}

	return next, nil
}

func (m *Mux) Exists(ctx context.Context, ref string) (bool, error) {
	next, err := m.route(ref)
	if err != nil {
		return false, err
	}

	return next.Exists(ctx, ref)
}

func (m *Mux) Fetch(ctx context.Context, ref string) ([]byte, error) {
	next, err := m.route(ref)
	if err != nil {
		return nil, err
	}

	return next.Fetch(ctx, ref)
}
