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

package adaptertest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/adapterhub/pkg/bundle"
	"github.com/carverauto/adapterhub/pkg/resolver"
)

// EmptyWasm is the smallest valid WebAssembly module.
//
//nolint:gochecknoglobals // fixture bytes
var EmptyWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Bundle encodes a bundle for tests.
func Bundle(t testing.TB, m bundle.Manifest, units map[string][]byte) []byte {
	t.Helper()

	data, err := bundle.Build(m, units)
	require.NoError(t, err)

	return data
}

// NativeBundle builds a single-class native bundle whose unit is unitJSON.
func NativeBundle(t testing.TB, class, unitJSON string) []byte {
	t.Helper()

	return Bundle(t, bundle.Manifest{
		Name: class,
		Adapters: []bundle.Entry{{
			Class:   class,
			Runtime: bundle.RuntimeNative,
			Unit:    "units/adapter.unit",
		}},
	}, map[string][]byte{"units/adapter.unit": []byte(unitJSON)})
}

// MemResolver is an in-memory resolver keyed by reference.
type MemResolver struct {
	mu      sync.Mutex
	modules map[string][]byte
	fetches map[string]int
}

var _ resolver.Resolver = (*MemResolver)(nil)

// NewMemResolver returns an empty resolver.
func NewMemResolver() *MemResolver {
	return &MemResolver{modules: make(map[string][]byte), fetches: make(map[string]int)}
}

// Put stores data under ref.
func (m *MemResolver) Put(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.modules[ref] = data
}

// Delete removes ref.
func (m *MemResolver) Delete(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.modules, ref)
}

func (m *MemResolver) Exists(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.modules[ref]

	return ok, nil
}

func (m *MemResolver) Fetch(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches[ref]++

	data, ok := m.modules[ref]
	if !ok {
		return nil, resolver.ErrModuleNotFound
	}

	return data, nil
}

// Fetches reports how many times ref was fetched.
func (m *MemResolver) Fetches(ref string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fetches[ref]
}
