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

// Package serial provides a native serial-line adapter (RS485 style) whose
// identity is read from its loadable unit.
package serial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

// ClassName is the catalog key of the RS485 adapter.
const ClassName = "serial.RS485"

const (
	defaultProtocolType = "RS485"
	defaultVersion      = "1.0.0"
	defaultManufacturer = "adapterhub"
)

var (
	errNotInitialized = errors.New("adapter not initialized")
	errDestroyed      = errors.New("adapter destroyed")
	errBadUnit        = errors.New("invalid serial unit descriptor")
)

// Unit is the descriptor carried in a native .unit file.
type Unit struct {
	adapter.Identity
	Defaults adapter.Config `json:"defaults,omitempty"`
}

//nolint:gochecknoglobals // fixed schema
var schema = adapter.Schema{
	{Name: "baudRate", Type: adapter.FieldInt},
	{Name: "dataBits", Type: adapter.FieldInt},
	{Name: "stopBits", Type: adapter.FieldInt},
	{Name: "parity", Type: adapter.FieldString, Allowed: []any{"none", "even", "odd"}},
	{Name: "timeoutMs", Type: adapter.FieldInt},
	{Name: "slaveAddress", Type: adapter.FieldInt},
}

// RS485 is a serial-line adapter. Its methods are safe for concurrent use.
type RS485 struct {
	mu          sync.RWMutex
	identity    adapter.Identity
	values      adapter.Config
	initialized bool
	destroyed   bool
}

var (
	_ adapter.Adapter      = (*RS485)(nil)
	_ adapter.Configurable = (*RS485)(nil)
	_ adapter.UnitLoader   = (*RS485)(nil)
)

// New is the zero-argument constructor registered in the native catalog.
func New() adapter.Adapter {
	return &RS485{
		identity: adapter.Identity{
			ProtocolType: defaultProtocolType,
			Version:      defaultVersion,
			Manufacturer: defaultManufacturer,
			Capabilities: []string{"rs485", "modbus-rtu"},
		},
		values: adapter.Config{
			"baudRate": 9600,
			"dataBits": 8,
			"stopBits": 1,
			"parity":   "none",
		},
	}
}

// LoadUnit reads identity and defaults from the unit descriptor. Fields
// missing from the descriptor keep their built-in values.
func (r *RS485) LoadUnit(unit []byte) error {
	var u Unit
	if err := json.Unmarshal(unit, &u); err != nil {
		return fmt.Errorf("%w: %w", errBadUnit, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if u.ProtocolType != "" {
		r.identity.ProtocolType = u.ProtocolType
	}

	if u.Version != "" {
		r.identity.Version = u.Version
	}

	if u.Manufacturer != "" {
		r.identity.Manufacturer = u.Manufacturer
	}

	if u.Capabilities != nil {
		r.identity.Capabilities = u.Capabilities
	}

	for k, v := range u.Defaults {
		r.values[k] = normalizeNumber(v)
	}

	return nil
}

func (r *RS485) ProtocolType() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.identity.ProtocolType
}

func (r *RS485) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.identity.Version
}

func (r *RS485) Manufacturer() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.identity.Manufacturer
}

func (r *RS485) SupportedCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.identity.Capabilities...)
}

func (r *RS485) Initialize(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return errDestroyed
	}

	r.initialized = true

	return nil
}

func (r *RS485) Destroy(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.destroyed = true
	r.initialized = false

	return nil
}

// ConfigSchema returns the declared configuration surface.
func (*RS485) ConfigSchema() adapter.Schema {
	return schema
}

// Configure stores values. Keys are expected to be declared in the schema.
func (r *RS485) Configure(values adapter.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return errDestroyed
	}

	if !r.initialized {
		return errNotInitialized
	}

	for k, v := range values {
		r.values[k] = v
	}

	return nil
}

// ConfigValue reads back a configured value.
func (r *RS485) ConfigValue(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.values[name]

	return v, ok
}

// Destroyed reports whether Destroy has been called.
func (r *RS485) Destroyed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.destroyed
}

// normalizeNumber turns integral JSON numbers into ints.
func normalizeNumber(v any) any {
	f, ok := v.(float64)
	if ok && f == float64(int(f)) {
		return int(f)
	}

	return v
}
