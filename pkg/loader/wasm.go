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

package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/bundle"
)

const (
	exportInitialize = "initialize"
	exportDestroy    = "destroy"
	exportAlloc      = "alloc"
	exportConfigure  = "configure"
)

var (
	errRuntimeClosed  = errors.New("wasm runtime closed")
	errNoConfigBuffer = errors.New("wasm module exports configure without alloc and memory")
	errConfigBounds   = errors.New("wasm config buffer out of bounds")
	errConfigRejected = errors.New("wasm module rejected configuration")
)

var _ adapter.Configurable = (*wasmAdapter)(nil)

// wasmRuntime owns one wazero runtime per load attempt. Instances created
// from it hold a reference; the runtime closes when the last is destroyed.
type wasmRuntime struct {
	rt       wazero.Runtime
	compiled wazero.CompiledModule

	mu     sync.Mutex
	refs   int
	closed bool
}

func wasmFactory(ctx context.Context, entry bundle.Entry, unit []byte) (adapter.Factory, error) {
	rt := wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("%w: wasi: %w", adapter.ErrLoad, err)
	}

	compiled, err := rt.CompileModule(ctx, unit)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("%w: compile %s: %w", adapter.ErrLoad, entry.Unit, err)
	}

	w := &wasmRuntime{rt: rt, compiled: compiled}

	return func(ctx context.Context) (adapter.Adapter, error) {
		return w.instantiate(ctx, entry)
	}, nil
}

func (w *wasmRuntime) acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errRuntimeClosed
	}

	w.refs++

	return nil
}

func (w *wasmRuntime) release(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.refs--
	if w.refs > 0 || w.closed {
		return nil
	}

	w.closed = true

	return w.rt.Close(ctx)
}

func (w *wasmRuntime) instantiate(ctx context.Context, entry bundle.Entry) (a adapter.Adapter, err error) {
	if err := w.acquire(); err != nil {
		return nil, fmt.Errorf("%w: %w", adapter.ErrLoad, err)
	}

	var inst *wasmAdapter

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during instantiation: %v", adapter.ErrLoad, r)
		}

		if err == nil {
			return
		}

		a = nil

		if inst != nil {
			_ = inst.Destroy(ctx)
			return
		}

		_ = w.release(ctx)
	}()

	// Anonymous instances never collide inside the runtime namespace.
	mod, err := w.rt.InstantiateModule(ctx, w.compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate %s: %w", adapter.ErrLoad, entry.Unit, err)
	}

	inst = &wasmAdapter{
		identity: entry.Identity(),
		schema:   entry.Config,
		mod:      mod,
		owner:    w,
		values:   adapter.Config{},
	}

	if err := inst.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("%w: initialize: %w", adapter.ErrLoad, err)
	}

	return inst, nil
}

// wasmAdapter is an adapter backed by a WebAssembly module instance. Its
// identity and configuration surface come from the manifest entry.
type wasmAdapter struct {
	identity adapter.Identity
	schema   adapter.Schema
	mod      api.Module
	owner    *wasmRuntime

	mu        sync.RWMutex
	values    adapter.Config
	destroyed bool
}

func (w *wasmAdapter) ProtocolType() string { return w.identity.ProtocolType }
func (w *wasmAdapter) Version() string      { return w.identity.Version }
func (w *wasmAdapter) Manufacturer() string { return w.identity.Manufacturer }

func (w *wasmAdapter) SupportedCapabilities() []string {
	return append([]string(nil), w.identity.Capabilities...)
}

func (w *wasmAdapter) call(ctx context.Context, name string) error {
	fn := w.mod.ExportedFunction(name)
	if fn == nil {
		return nil
	}

	if _, err := fn.Call(ctx); err != nil {
		return fmt.Errorf("wasm export %s: %w", name, err)
	}

	return nil
}

func (w *wasmAdapter) Initialize(ctx context.Context) error {
	return w.call(ctx, exportInitialize)
}

// Destroy runs the destroy export, closes the instance and releases the
// runtime reference. Repeated calls are no-ops.
func (w *wasmAdapter) Destroy(ctx context.Context) error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return nil
	}

	w.destroyed = true
	w.mu.Unlock()

	return errors.Join(
		w.call(ctx, exportDestroy),
		w.mod.Close(ctx),
		w.owner.release(ctx),
	)
}

func (w *wasmAdapter) ConfigSchema() adapter.Schema {
	return w.schema
}

// Configure hands values to the module's configure export, when present,
// and keeps the accepted values for read-back. A module without the export
// has a host-side configuration surface only.
func (w *wasmAdapter) Configure(values adapter.Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return errRuntimeClosed
	}

	if err := w.push(context.Background(), values); err != nil {
		return err
	}

	for k, v := range values {
		w.values[k] = v
	}

	return nil
}

// push writes values as JSON into a buffer from alloc(len) and calls
// configure(ptr, len). A non-zero status rejects the configuration.
func (w *wasmAdapter) push(ctx context.Context, values adapter.Config) error {
	configure := w.mod.ExportedFunction(exportConfigure)
	if configure == nil {
		return nil
	}

	alloc := w.mod.ExportedFunction(exportAlloc)
	mem := w.mod.Memory()

	if alloc == nil || mem == nil {
		return errNoConfigBuffer
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal wasm config: %w", err)
	}

	out, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("wasm export %s: %w", exportAlloc, err)
	}

	ptr := uint32(out[0])
	if !mem.Write(ptr, data) {
		return fmt.Errorf("%w: %d bytes at %d", errConfigBounds, len(data), ptr)
	}

	out, err = configure.Call(ctx, uint64(ptr), uint64(len(data)))
	if err != nil {
		return fmt.Errorf("wasm export %s: %w", exportConfigure, err)
	}

	if status := int32(uint32(out[0])); status != 0 {
		return fmt.Errorf("%w: status %d", errConfigRejected, status)
	}

	return nil
}

func (w *wasmAdapter) ConfigValue(name string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	v, ok := w.values[name]

	return v, ok
}
