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

package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

var (
	errNilInstance      = errors.New("nil instance")
	errNilAdapter       = errors.New("instance has no adapter")
	errProtocolMismatch = errors.New("instance protocol type does not match key")
	errEmptyKey         = errors.New("empty protocol type")
)

// Registry maps protocol type to the current Instance. Reads never block;
// Swap is the only mutator.
type Registry struct {
	entries sync.Map // string -> *Instance
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Get returns the last committed instance for protocolType, or nil.
func (r *Registry) Get(protocolType string) *Instance {
	v, ok := r.entries.Load(protocolType)
	if !ok {
		return nil
	}

	return v.(*Instance)
}

// Swap installs next as current and returns what it replaced (nil on first
// install). The caller owns the returned instance and destroys it.
func (r *Registry) Swap(protocolType string, next *Instance) (*Instance, error) {
	switch {
	case strings.TrimSpace(protocolType) == "":
		return nil, fmt.Errorf("%w: %w", adapter.ErrSwap, errEmptyKey)
	case next == nil:
		return nil, fmt.Errorf("%w: %w", adapter.ErrSwap, errNilInstance)
	case next.Adapter == nil:
		return nil, fmt.Errorf("%w: %w", adapter.ErrSwap, errNilAdapter)
	case next.ProtocolType != protocolType:
		return nil, fmt.Errorf("%w: %w: %q != %q", adapter.ErrSwap, errProtocolMismatch, next.ProtocolType, protocolType)
	}

	prev, loaded := r.entries.Swap(protocolType, next)
	if !loaded {
		return nil, nil
	}

	return prev.(*Instance), nil
}

// Restore puts want back as current if the entry currently holds got.
// It reports whether the entry changed.
func (r *Registry) Restore(protocolType string, got, want *Instance) bool {
	if got == want {
		return false
	}

	if want == nil {
		return r.entries.CompareAndDelete(protocolType, got)
	}

	if got == nil {
		_, loaded := r.entries.LoadOrStore(protocolType, want)
		return !loaded
	}

	return r.entries.CompareAndSwap(protocolType, got, want)
}

// List returns the current instances ordered by protocol type.
func (r *Registry) List() []*Instance {
	var out []*Instance

	r.entries.Range(func(_, v any) bool {
		out = append(out, v.(*Instance))
		return true
	})

	slices.SortFunc(out, func(a, b *Instance) int {
		return cmp.Compare(a.ProtocolType, b.ProtocolType)
	})

	return out
}

// Len returns the number of installed protocol types.
func (r *Registry) Len() int {
	n := 0

	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})

	return n
}
