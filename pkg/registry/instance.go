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

// Package registry holds the live adapter instance for each protocol type.
package registry

import (
	"time"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

// Instance is a committed adapter plus the inputs it was built from.
// Instances are never mutated after construction.
type Instance struct {
	ID            string
	ProtocolType  string
	Version       string
	Manufacturer  string
	Capabilities  []string
	ModuleRef     string
	ClassName     string
	AppliedConfig adapter.Config
	CommittedAt   time.Time

	Adapter adapter.Adapter
	// Factory builds fresh instances of the same unit for config-only updates.
	Factory adapter.Factory
}

// Spec describes an instance to build.
type Spec struct {
	ID            string
	ProtocolType  string
	Identity      adapter.Identity
	ModuleRef     string
	ClassName     string
	AppliedConfig adapter.Config
	Adapter       adapter.Adapter
	Factory       adapter.Factory
}

// NewInstance copies s into a new Instance stamped with the current time.
func NewInstance(s Spec) *Instance {
	return &Instance{
		ID:            s.ID,
		ProtocolType:  s.ProtocolType,
		Version:       s.Identity.Version,
		Manufacturer:  s.Identity.Manufacturer,
		Capabilities:  append([]string(nil), s.Identity.Capabilities...),
		ModuleRef:     s.ModuleRef,
		ClassName:     s.ClassName,
		AppliedConfig: s.AppliedConfig.Clone(),
		CommittedAt:   time.Now().UTC(),
		Adapter:       s.Adapter,
		Factory:       s.Factory,
	}
}

// Identity returns the identity captured when the instance was built.
func (i *Instance) Identity() adapter.Identity {
	return adapter.Identity{
		ProtocolType: i.ProtocolType,
		Version:      i.Version,
		Manufacturer: i.Manufacturer,
		Capabilities: append([]string(nil), i.Capabilities...),
	}
}

// Config returns a copy of the applied configuration.
func (i *Instance) Config() adapter.Config {
	return i.AppliedConfig.Clone()
}
