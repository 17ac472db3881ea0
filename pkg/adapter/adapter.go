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

// Package adapter defines the capability contract every protocol adapter
// implements, its declared configuration surface and the error taxonomy
// used across the update pipeline.
package adapter

import (
	"context"
	"maps"
)

// Adapter is a pluggable implementation of a device communication protocol.
// Initialize is called once after construction and before configuration.
// Destroy is called on an outgoing instance after its successor is committed.
type Adapter interface {
	ProtocolType() string
	Version() string
	Manufacturer() string
	SupportedCapabilities() []string
	Initialize(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Configurable adapters declare a schema and accept typed values for it.
// Configure receives values already coerced to the declared field types.
type Configurable interface {
	ConfigSchema() Schema
	Configure(values Config) error
	ConfigValue(name string) (any, bool)
}

// UnitLoader adapters receive the raw bytes of their loadable unit before
// Initialize.
type UnitLoader interface {
	LoadUnit(unit []byte) error
}

// Constructor is a zero-argument construction path for a native adapter.
type Constructor func() Adapter

// Factory builds a fresh, initialized adapter from an already-loaded unit.
type Factory func(ctx context.Context) (Adapter, error)

// Config is a generic key/value configuration.
type Config map[string]any

// Clone returns a shallow copy; nil stays nil.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}

	return maps.Clone(c)
}

// Merge returns a copy of c with every key of over laid on top.
func (c Config) Merge(over Config) Config {
	out := make(Config, len(c)+len(over))
	maps.Copy(out, c)
	maps.Copy(out, over)

	return out
}

// Identity is the self-reported identity of an adapter.
type Identity struct {
	ProtocolType string   `json:"protocol_type"`
	Version      string   `json:"version"`
	Manufacturer string   `json:"manufacturer"`
	Capabilities []string `json:"capabilities"`
}

// IdentityOf reads the identity methods of a.
func IdentityOf(a Adapter) Identity {
	return Identity{
		ProtocolType: a.ProtocolType(),
		Version:      a.Version(),
		Manufacturer: a.Manufacturer(),
		Capabilities: append([]string(nil), a.SupportedCapabilities()...),
	}
}
