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

// Package orchestrator drives adapter updates end to end: validate, load,
// configure, verify and swap, or fail leaving the previous adapter live.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/configapply"
	"github.com/carverauto/adapterhub/pkg/history"
	"github.com/carverauto/adapterhub/pkg/loader"
	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/registry"
	"github.com/carverauto/adapterhub/pkg/store"
)

const tracerName = "adapterhub/orchestrator"

var (
	errClosed          = errors.New("orchestrator is closed")
	errStorePanic      = errors.New("config store failure")
	errLoaderRequired  = errors.New("module loader is required")
	errApplierRequired = errors.New("config applier is required")
)

// ModuleLoader builds candidate adapters from bundles.
type ModuleLoader interface {
	Exists(ctx context.Context, ref string) (bool, error)
	Load(ctx context.Context, req loader.Request) (*loader.Candidate, error)
	CleanupStaged(maxAge time.Duration) (int, error)
}

// ConfigApplier configures and verifies adapters.
type ConfigApplier interface {
	Apply(ctx context.Context, ad adapter.Adapter, protocolType string, cfg adapter.Config) configapply.Outcome
	Verify(ctx context.Context, ad adapter.Adapter, applied adapter.Config) configapply.Outcome
}

// EventPublisher announces terminal attempts.
type EventPublisher interface {
	Publish(ctx context.Context, rec history.Record) error
}

// OutcomeRecorder records metrics for attempts and housekeeping.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, rec history.Record, elapsed time.Duration)
	RecordCleanup(ctx context.Context, removed int)
}

// CommitHook runs after an instance is committed.
type CommitHook func(ctx context.Context, inst *registry.Instance)

// Orchestrator is the only entry point for changing installed adapters.
type Orchestrator struct {
	cfg      Config
	loader   ModuleLoader
	applier  ConfigApplier
	registry *registry.Registry
	history  *history.History
	queue    *serializer

	updates      *semaphore.Weighted
	housekeeping *semaphore.Weighted

	store   store.ConfigStore
	events  EventPublisher
	metrics OutcomeRecorder
	hooks   []CommitHook
	tracer  trace.Tracer
	logger  logger.Logger

	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	running atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = log }
}

// WithStore persists each committed configuration.
func WithStore(s store.ConfigStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithEvents publishes every terminal attempt.
func WithEvents(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithMetrics records attempt outcomes.
func WithMetrics(r OutcomeRecorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithCommitHook adds a hook run after every commit.
func WithCommitHook(h CommitHook) Option {
	return func(o *Orchestrator) { o.hooks = append(o.hooks, h) }
}

// WithRegistry shares an existing registry.
func WithRegistry(r *registry.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// New creates an orchestrator. cfg may be nil.
func New(cfg *Config, ld ModuleLoader, ap ConfigApplier, opts ...Option) (*Orchestrator, error) {
	if ld == nil {
		return nil, errLoaderRequired
	}

	if ap == nil {
		return nil, errApplierRequired
	}

	var c Config
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		c = *cfg
	}

	c = c.withDefaults()

	o := &Orchestrator{
		cfg:          c,
		loader:       ld,
		applier:      ap,
		history:      history.New(c.HistoryLimit),
		queue:        newSerializer(),
		updates:      semaphore.NewWeighted(int64(c.Workers)),
		housekeeping: semaphore.NewWeighted(int64(c.HousekeepingWorkers)),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.registry == nil {
		o.registry = registry.New()
	}

	if o.logger == nil {
		o.logger = logger.NewTestLogger()
	}

	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	return o, nil
}

// SubmitOption adjusts a submitted update.
type SubmitOption func(*request)

// WithExpectedVersion fails the update unless the loaded adapter reports v.
func WithExpectedVersion(v string) SubmitOption {
	return func(r *request) { r.expectedVersion = v }
}

// WithReplaceConfig makes a config-only update install exactly the given
// configuration instead of laying it over the installed one.
func WithReplaceConfig() SubmitOption {
	return func(r *request) { r.replaceConfig = true }
}

// SubmitModuleUpdate loads className from moduleRef, configures it with cfg
// and installs it for protocolType.
func (o *Orchestrator) SubmitModuleUpdate(
	ctx context.Context, protocolType, moduleRef, className string, cfg adapter.Config, opts ...SubmitOption,
) *Handle {
	req := &request{
		kind:         history.KindModule,
		protocolType: protocolType,
		moduleRef:    moduleRef,
		className:    className,
		config:       cfg.Clone(),
	}

	for _, opt := range opts {
		opt(req)
	}

	return o.submit(ctx, req)
}

// SubmitConfigUpdate reconfigures the installed adapter for protocolType.
// cfg is laid over the installed configuration; a fresh instance of the
// installed unit is configured with the result and swapped in.
func (o *Orchestrator) SubmitConfigUpdate(
	ctx context.Context, protocolType string, cfg adapter.Config, opts ...SubmitOption,
) *Handle {
	req := &request{
		kind:         history.KindConfig,
		protocolType: protocolType,
		config:       cfg.Clone(),
	}

	for _, opt := range opts {
		opt(req)
	}

	return o.submit(ctx, req)
}

// Rollback reinstalls the newest successful recorded state for version.
func (o *Orchestrator) Rollback(ctx context.Context, protocolType, version string) *Handle {
	return o.submit(ctx, &request{
		kind:          history.KindRollback,
		protocolType:  protocolType,
		targetVersion: version,
	})
}

func (o *Orchestrator) submit(ctx context.Context, req *request) *Handle {
	o.closeMu.RLock()
	defer o.closeMu.RUnlock()

	if o.closed {
		return resolvedHandle(UpdateResult{
			Message:      errClosed.Error(),
			ProtocolType: req.protocolType,
			State:        StateFailed,
			ErrorKind:    adapter.KindOf(errClosed),
			Err:          errClosed,
		})
	}

	h := newHandle(req.protocolType)
	t := o.queue.enqueue(req.protocolType)
	runCtx := context.WithoutCancel(ctx)

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		t.wait()

		// Accepted work always runs to a terminal state, so the slot is
		// acquired without a deadline.
		_ = o.updates.Acquire(runCtx, 1)
		o.running.Add(1)

		res := o.run(runCtx, req)

		o.running.Add(-1)
		o.updates.Release(1)
		h.resolve(res)
		t.release()
	}()

	return h
}

// Get returns the live adapter for protocolType, or nil.
func (o *Orchestrator) Get(protocolType string) adapter.Adapter {
	if inst := o.registry.Get(protocolType); inst != nil {
		return inst.Adapter
	}

	return nil
}

// Instance returns the committed instance for protocolType, or nil.
func (o *Orchestrator) Instance(protocolType string) *registry.Instance {
	return o.registry.Get(protocolType)
}

// GetVersion reports the installed adapter's identity. It never fails:
// VersionUnknown when nothing is installed, VersionError when the adapter
// cannot report its identity.
func (o *Orchestrator) GetVersion(protocolType string) VersionInfo {
	info := VersionInfo{ProtocolType: protocolType, Version: VersionUnknown, AsOf: time.Now().UTC()}

	inst := o.registry.Get(protocolType)
	if inst == nil {
		return info
	}

	version, manufacturer, err := reportedIdentity(inst.Adapter)
	if err != nil {
		o.logger.Warn().Err(err).Str("protocol_type", protocolType).Msg("Installed adapter failed to report identity")

		info.Version = VersionError

		return info
	}

	info.Version = version
	info.Manufacturer = manufacturer

	return info
}

func reportedIdentity(a adapter.Adapter) (version, manufacturer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: identity panicked: %v", adapter.ErrLoad, r)
		}
	}()

	return a.Version(), a.Manufacturer(), nil
}

// GetAllVersions reports every installed protocol type.
func (o *Orchestrator) GetAllVersions() map[string]VersionInfo {
	out := make(map[string]VersionInfo)

	for _, inst := range o.registry.List() {
		out[inst.ProtocolType] = o.GetVersion(inst.ProtocolType)
	}

	return out
}

// GetHistory returns the recorded attempts for protocolType, oldest first.
func (o *Orchestrator) GetHistory(protocolType string) []history.Record {
	return o.history.List(protocolType)
}

// InFlight reports how many pipelines are executing.
func (o *Orchestrator) InFlight() int {
	return int(o.running.Load())
}

// CleanupArtifacts removes stale staged bundles on the housekeeping pool.
func (o *Orchestrator) CleanupArtifacts(ctx context.Context) *CleanupHandle {
	h := &CleanupHandle{promise: newPromise[CleanupResult]()}
	runCtx := context.WithoutCancel(ctx)

	o.closeMu.RLock()
	defer o.closeMu.RUnlock()

	if o.closed {
		h.resolve(CleanupResult{Err: errClosed})
		return h
	}

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		_ = o.housekeeping.Acquire(runCtx, 1)
		defer o.housekeeping.Release(1)

		removed, err := o.loader.CleanupStaged(o.cfg.ArtifactTTL.Std())
		if err != nil {
			o.logger.Warn().Err(err).Msg("Staged artifact cleanup failed")
		} else if removed > 0 {
			o.logger.Info().Int("removed", removed).Msg("Removed stale staged artifacts")
		}

		if o.metrics != nil {
			o.guard("", "metrics recorder", func() { o.metrics.RecordCleanup(runCtx, removed) })
		}

		h.resolve(CleanupResult{Removed: removed, Err: err})
	}()

	return h
}

// Reinstall submits a module update for every entry in the config store.
func (o *Orchestrator) Reinstall(ctx context.Context) ([]*Handle, error) {
	if o.store == nil {
		return nil, nil
	}

	entries, err := o.listStored(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored configs: %w", err)
	}

	handles := make([]*Handle, 0, len(entries))

	for _, e := range entries {
		o.logger.Info().
			Str("protocol_type", e.ProtocolType).
			Str("module_ref", e.ModuleRef).
			Str("version", e.Version).
			Msg("Reinstalling stored adapter")

		handles = append(handles, o.SubmitModuleUpdate(ctx, e.ProtocolType, e.ModuleRef, e.ClassName, e.Config,
			WithExpectedVersion(e.Version)))
	}

	return handles, nil
}

func (o *Orchestrator) listStored(ctx context.Context) (entries []store.Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: config store panicked: %v", errStorePanic, r)
		}
	}()

	return o.store.List(ctx)
}

// Close rejects new work and waits for accepted work to finish. Committed
// adapters stay installed.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.closeMu.Lock()
	o.closed = true
	o.closeMu.Unlock()

	done := make(chan struct{})

	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
