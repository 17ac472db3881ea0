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

// Package adaptertest provides configurable fake adapters for tests.
package adaptertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

// DefaultSchema is the serial-style schema used by NewFake.
//
//nolint:gochecknoglobals // shared test fixture
var DefaultSchema = adapter.Schema{
	{Name: "baudRate", Type: adapter.FieldInt},
	{Name: "dataBits", Type: adapter.FieldInt},
	{Name: "stopBits", Type: adapter.FieldInt},
	{Name: "parity", Type: adapter.FieldString},
	{Name: "enabled", Type: adapter.FieldBool},
}

// Fake is an in-memory adapter whose behavior is controlled by its fields.
// Set fields before handing the fake to code under test.
type Fake struct {
	Identity adapter.Identity
	Schema   adapter.Schema

	InitErr      error
	DestroyErr   error
	ConfigureErr error
	PanicOnInit  bool

	// PanicOnIdentity makes the identity getters panic after Initialize.
	PanicOnIdentity atomic.Bool

	// Drift overrides ConfigValue results so verification observes a
	// value different from the one configured.
	Drift adapter.Config

	// OnConfigure is invoked at the start of Configure.
	OnConfigure func(values adapter.Config)

	mu           sync.Mutex
	values       adapter.Config
	initCalls    atomic.Int32
	destroyCalls atomic.Int32
}

var (
	_ adapter.Adapter      = (*Fake)(nil)
	_ adapter.Configurable = (*Fake)(nil)
)

// NewFake returns a fake with a valid identity and DefaultSchema.
func NewFake(protocolType, version string) *Fake {
	return &Fake{
		Identity: adapter.Identity{
			ProtocolType: protocolType,
			Version:      version,
			Manufacturer: "Fake Devices",
			Capabilities: []string{"read", "write"},
		},
		Schema: DefaultSchema,
		values: adapter.Config{},
	}
}

func (f *Fake) checkPanic() {
	if f.PanicOnIdentity.Load() {
		panic("fake adapter identity panic")
	}
}

func (f *Fake) ProtocolType() string {
	f.checkPanic()
	return f.Identity.ProtocolType
}

func (f *Fake) Version() string {
	f.checkPanic()
	return f.Identity.Version
}

func (f *Fake) Manufacturer() string {
	f.checkPanic()
	return f.Identity.Manufacturer
}

func (f *Fake) SupportedCapabilities() []string {
	f.checkPanic()
	return f.Identity.Capabilities
}

func (f *Fake) Initialize(_ context.Context) error {
	f.initCalls.Add(1)

	if f.PanicOnInit {
		panic("fake adapter initialize panic")
	}

	return f.InitErr
}

func (f *Fake) Destroy(_ context.Context) error {
	f.destroyCalls.Add(1)
	return f.DestroyErr
}

func (f *Fake) ConfigSchema() adapter.Schema {
	return f.Schema
}

func (f *Fake) Configure(values adapter.Config) error {
	if f.OnConfigure != nil {
		f.OnConfigure(values)
	}

	if f.ConfigureErr != nil {
		return f.ConfigureErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.values == nil {
		f.values = adapter.Config{}
	}

	for k, v := range values {
		f.values[k] = v
	}

	return nil
}

func (f *Fake) ConfigValue(name string) (any, bool) {
	if v, ok := f.Drift[name]; ok {
		return v, true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[name]

	return v, ok
}

// Values returns a copy of the configured values.
func (f *Fake) Values() adapter.Config {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.values.Clone()
}

// InitCalls reports how many times Initialize ran.
func (f *Fake) InitCalls() int {
	return int(f.initCalls.Load())
}

// DestroyCalls reports how many times Destroy ran.
func (f *Fake) DestroyCalls() int {
	return int(f.destroyCalls.Load())
}

// Bare is an adapter without a configuration surface.
type Bare struct {
	adapter.Identity
}

func (b *Bare) ProtocolType() string               { return b.Identity.ProtocolType }
func (b *Bare) Version() string                    { return b.Identity.Version }
func (b *Bare) Manufacturer() string               { return b.Identity.Manufacturer }
func (b *Bare) SupportedCapabilities() []string    { return b.Capabilities }
func (*Bare) Initialize(_ context.Context) error   { return nil }
func (*Bare) Destroy(_ context.Context) error      { return nil }
