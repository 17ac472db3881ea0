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

// Package loader resolves a module reference and class name into a fresh,
// initialized adapter. Each load gets its own instantiation context so
// different revisions of a bundle never share state.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/bundle"
	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/resolver"
)

var (
	errClassNotInBundle   = errors.New("class not declared in bundle manifest")
	errClassNotRegistered = errors.New("native class not registered")
	errNilAdapter         = errors.New("constructor returned nil")
	errUnknownRuntime     = errors.New("unknown runtime")
)

// Request identifies what to load and what the result must look like.
type Request struct {
	ProtocolType    string
	ModuleRef       string
	ClassName       string
	ExpectedVersion string
}

// Candidate is a loaded, initialized adapter not yet configured or
// published.
type Candidate struct {
	Adapter    adapter.Adapter
	Factory    adapter.Factory
	Identity   adapter.Identity
	Entry      bundle.Entry
	Digest     string
	StagedPath string
}

// Loader builds candidates from bundles.
type Loader struct {
	resolver resolver.Resolver
	catalog  *Catalog
	stager   *bundle.Stager
	logger   logger.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithStager keeps a local copy of each fetched bundle.
func WithStager(s *bundle.Stager) Option {
	return func(l *Loader) { l.stager = s }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Loader) { l.logger = log }
}

// New creates a loader. A nil catalog is treated as empty.
func New(res resolver.Resolver, catalog *Catalog, opts ...Option) *Loader {
	if catalog == nil {
		catalog = NewCatalog()
	}

	l := &Loader{
		resolver: res,
		catalog:  catalog,
		logger:   logger.NewTestLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Exists reports whether ref resolves to a readable bundle.
func (l *Loader) Exists(ctx context.Context, ref string) (bool, error) {
	return l.resolver.Exists(ctx, ref)
}

// Load fetches the bundle, checks integrity, instantiates the class and
// validates the reported identity. The registry is never touched. On any
// failure after construction the candidate is destroyed.
func (l *Loader) Load(ctx context.Context, req Request) (*Candidate, error) {
	data, err := l.resolver.Fetch(ctx, req.ModuleRef)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", adapter.ErrLoad, req.ModuleRef, err)
	}

	b, err := bundle.Open(data)
	if err != nil {
		return nil, err
	}

	entry, ok := b.Entry(req.ClassName)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", adapter.ErrLoad, errClassNotInBundle, req.ClassName)
	}

	var staged string
	if l.stager != nil {
		if staged, err = l.stager.Stage(b.Digest, data); err != nil {
			l.logger.Warn().Err(err).Str("module_ref", req.ModuleRef).Msg("Failed to stage bundle copy")
		}
	}

	factory, err := l.factory(ctx, entry, b.Unit(entry))
	if err != nil {
		return nil, err
	}

	a, err := factory(ctx)
	if err != nil {
		return nil, err
	}

	id, err := ValidateIdentity(a, req.ProtocolType, req.ExpectedVersion)
	if err != nil {
		destroyQuietly(ctx, a, l.logger)
		return nil, err
	}

	l.logger.Debug().
		Str("protocol_type", req.ProtocolType).
		Str("class", req.ClassName).
		Str("runtime", string(entry.Runtime)).
		Str("version", id.Version).
		Str("digest", b.Digest).
		Msg("Loaded adapter candidate")

	return &Candidate{
		Adapter:    a,
		Factory:    factory,
		Identity:   id,
		Entry:      entry,
		Digest:     b.Digest,
		StagedPath: staged,
	}, nil
}

func (l *Loader) factory(ctx context.Context, entry bundle.Entry, unit []byte) (adapter.Factory, error) {
	switch entry.Runtime {
	case bundle.RuntimeNative:
		ctor, ok := l.catalog.Lookup(entry.Class)
		if !ok {
			return nil, fmt.Errorf("%w: %w: %s", adapter.ErrLoad, errClassNotRegistered, entry.Class)
		}

		return nativeFactory(ctor, unit), nil
	case bundle.RuntimeWasm:
		return wasmFactory(ctx, entry, unit)
	default:
		return nil, fmt.Errorf("%w: %w: %q", adapter.ErrLoad, errUnknownRuntime, entry.Runtime)
	}
}

// CleanupStaged removes staged bundle copies older than maxAge.
func (l *Loader) CleanupStaged(maxAge time.Duration) (int, error) {
	if l.stager == nil {
		return 0, nil
	}

	return l.stager.Cleanup(maxAge)
}

func destroyQuietly(ctx context.Context, a adapter.Adapter, log logger.Logger) {
	if err := SafeDestroy(ctx, a); err != nil {
		log.Warn().Err(err).Msg("Failed to destroy rejected adapter")
	}
}

// SafeDestroy calls Destroy, converting a panic into an error.
func SafeDestroy(ctx context.Context, a adapter.Adapter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destroy panicked: %v", r)
		}
	}()

	return a.Destroy(ctx)
}
