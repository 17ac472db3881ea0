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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/history"
	"github.com/carverauto/adapterhub/pkg/loader"
	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/registry"
	"github.com/carverauto/adapterhub/pkg/resolver"
	"github.com/carverauto/adapterhub/pkg/store"
)

var (
	errProtocolTypeRequired = errors.New("protocol type is required")
	errModuleRefRequired    = errors.New("module reference is required")
	errClassNameRequired    = errors.New("class name is required")
	errVersionRequired      = errors.New("target version is required")
	errNotInstalled         = errors.New("no adapter installed")
	errNotRebuildable       = errors.New("installed adapter has no factory")
	errNoRecordedVersion    = errors.New("no successful record for version")
	errNotReplayable        = errors.New("recorded state has no module reference")
)

type request struct {
	kind            history.Kind
	protocolType    string
	moduleRef       string
	className       string
	config          adapter.Config
	expectedVersion string
	targetVersion   string
	replaceConfig   bool
}

// attempt is one run of the pipeline. Only the goroutine holding the
// protocol type's ticket touches it.
type attempt struct {
	o   *Orchestrator
	req *request
	log logger.Logger

	state    State
	failedAt State
	snapshot *registry.Instance

	candidate adapter.Adapter
	factory   adapter.Factory
	identity  adapter.Identity
	applied   adapter.Config

	committed *registry.Instance
	replaced  *registry.Instance
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func (o *Orchestrator) run(ctx context.Context, req *request) UpdateResult {
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "adapter.update", trace.WithAttributes(
		attribute.String("protocol_type", req.protocolType),
		attribute.String("kind", string(req.kind)),
		attribute.String("module_ref", req.moduleRef),
	))
	defer span.End()

	at := &attempt{
		o:        o,
		req:      req,
		state:    StateIdle,
		snapshot: o.registry.Get(req.protocolType),
		log: o.logger.WithFields(map[string]interface{}{
			"protocol_type": req.protocolType,
			"kind":          string(req.kind),
		}),
	}

	err := at.execute(ctx)
	if err != nil {
		at.fail(ctx)
		at.transition(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		at.transition(StateCommitted)
		at.destroyReplaced(ctx)
	}

	rec := at.record(err)
	if blank(req.protocolType) {
		// not kept in history but still reported
		rec.ID = uuid.New()
		rec.ProtocolType = req.protocolType
		rec.Timestamp = time.Now().UTC()
	} else {
		rec = o.history.Append(req.protocolType, rec)
	}

	o.afterAttempt(ctx, at, rec, time.Since(start))

	res := UpdateResult{
		Success:      err == nil,
		ProtocolType: req.protocolType,
		Version:      at.identity.Version,
		State:        at.state,
		ErrorKind:    adapter.KindOf(err),
		RecordID:     rec.ID,
		Err:          err,
	}

	if err != nil {
		res.Message = fmt.Sprintf("%s failed: %v", at.failedAt, err)
	} else {
		res.Message = fmt.Sprintf("%s adapter %s version %s committed", req.kind, req.protocolType, at.identity.Version)
	}

	span.SetAttributes(attribute.String("state", string(at.state)), attribute.String("error_kind", string(res.ErrorKind)))

	return res
}

func (at *attempt) execute(ctx context.Context) error {
	if err := at.stage(ctx, StateValidating, at.validate); err != nil {
		return err
	}

	if at.req.kind != history.KindConfig {
		if err := at.stage(ctx, StateLoading, at.load); err != nil {
			return err
		}
	}

	if err := at.stage(ctx, StateConfiguring, at.configure); err != nil {
		return err
	}

	if err := at.stage(ctx, StateVerifying, at.verify); err != nil {
		return err
	}

	return at.stage(ctx, StateSwapping, at.swap)
}

func (at *attempt) transition(s State) {
	at.log.Debug().Str("from", string(at.state)).Str("to", string(s)).Msg("Update state transition")
	at.state = s
}

// stage runs fn in state s. Panics and unclassified errors take the
// stage's error kind.
func (at *attempt) stage(ctx context.Context, s State, fn func(context.Context) error) (err error) {
	at.transition(s)

	ctx, span := at.o.tracer.Start(ctx, "stage."+strings.ToLower(string(s)))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in %s: %v", stageKinds[s], s, r)
		}

		if err != nil {
			if adapter.KindOf(err) == adapter.KindInternal {
				err = fmt.Errorf("%w: %w", stageKinds[s], err)
			}

			at.failedAt = s

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	return fn(ctx)
}

func (at *attempt) validate(ctx context.Context) error {
	req := at.req

	if blank(req.protocolType) {
		return fmt.Errorf("%w: %w", adapter.ErrParameter, errProtocolTypeRequired)
	}

	switch req.kind {
	case history.KindModule:
		if blank(req.moduleRef) {
			return fmt.Errorf("%w: %w", adapter.ErrParameter, errModuleRefRequired)
		}

		if blank(req.className) {
			return fmt.Errorf("%w: %w", adapter.ErrParameter, errClassNameRequired)
		}

		ok, err := at.o.loader.Exists(ctx, req.moduleRef)
		if err != nil {
			return fmt.Errorf("%w: module %s: %w", adapter.ErrParameter, req.moduleRef, err)
		}

		if !ok {
			return fmt.Errorf("%w: %w: %s", adapter.ErrParameter, resolver.ErrModuleNotFound, req.moduleRef)
		}
	case history.KindConfig:
		if at.snapshot == nil {
			return fmt.Errorf("%w: %w for %s", adapter.ErrParameter, errNotInstalled, req.protocolType)
		}

		if at.snapshot.Factory == nil {
			return fmt.Errorf("%w: %w", adapter.ErrParameter, errNotRebuildable)
		}

		req.moduleRef = at.snapshot.ModuleRef
		req.className = at.snapshot.ClassName
		if !req.replaceConfig {
			req.config = at.snapshot.Config().Merge(req.config)
		}
	case history.KindRollback:
		if blank(req.targetVersion) {
			return fmt.Errorf("%w: %w", adapter.ErrParameter, errVersionRequired)
		}

		rec, ok := at.o.history.Find(req.protocolType, req.targetVersion)
		if !ok {
			return fmt.Errorf("%w: %w %q", adapter.ErrBackupUnavailable, errNoRecordedVersion, req.targetVersion)
		}

		if blank(rec.ModuleRef) || blank(rec.ClassName) {
			return fmt.Errorf("%w: %w", adapter.ErrBackupUnavailable, errNotReplayable)
		}

		req.moduleRef = rec.ModuleRef
		req.className = rec.ClassName
		req.config = rec.AppliedConfig.Clone()
		req.expectedVersion = req.targetVersion
	}

	return nil
}

func (at *attempt) load(ctx context.Context) error {
	cand, err := at.o.loader.Load(ctx, loader.Request{
		ProtocolType:    at.req.protocolType,
		ModuleRef:       at.req.moduleRef,
		ClassName:       at.req.className,
		ExpectedVersion: at.req.expectedVersion,
	})
	if err != nil {
		return err
	}

	at.candidate = cand.Adapter
	at.factory = cand.Factory
	at.identity = cand.Identity

	return nil
}

// rebuild builds a fresh instance of the installed unit for a config-only
// update.
func (at *attempt) rebuild(ctx context.Context) error {
	ad, err := at.snapshot.Factory(ctx)
	if err != nil {
		return err
	}

	at.candidate = ad

	id, err := loader.ValidateIdentity(ad, at.req.protocolType, at.snapshot.Version)
	if err != nil {
		return err
	}

	at.factory = at.snapshot.Factory
	at.identity = id

	return nil
}

func (at *attempt) configure(ctx context.Context) error {
	if at.candidate == nil {
		if err := at.rebuild(ctx); err != nil {
			return err
		}
	}

	out := at.o.applier.Apply(ctx, at.candidate, at.req.protocolType, at.req.config)
	if !out.Success {
		return out.Err
	}

	at.applied = out.Applied

	return nil
}

func (at *attempt) verify(ctx context.Context) error {
	out := at.o.applier.Verify(ctx, at.candidate, at.applied)
	if !out.Success {
		return out.Err
	}

	return nil
}

func (at *attempt) swap(_ context.Context) error {
	inst := registry.NewInstance(registry.Spec{
		ID:            uuid.NewString(),
		ProtocolType:  at.req.protocolType,
		Identity:      at.identity,
		ModuleRef:     at.req.moduleRef,
		ClassName:     at.req.className,
		AppliedConfig: at.applied,
		Adapter:       at.candidate,
		Factory:       at.factory,
	})

	prev, err := at.o.registry.Swap(at.req.protocolType, inst)
	if err != nil {
		return err
	}

	at.committed = inst
	at.replaced = prev
	at.candidate = nil

	return nil
}

// fail releases the uncommitted candidate and puts the snapshot back if
// the registry moved.
func (at *attempt) fail(ctx context.Context) {
	if at.candidate != nil {
		if err := loader.SafeDestroy(ctx, at.candidate); err != nil {
			at.log.Warn().Err(err).Msg("Failed to destroy rejected candidate")
		}

		at.candidate = nil
	}

	if blank(at.req.protocolType) {
		return
	}

	current := at.o.registry.Get(at.req.protocolType)
	if current != at.snapshot && at.o.registry.Restore(at.req.protocolType, current, at.snapshot) {
		at.log.Warn().Msg("Restored previous adapter after failed update")
	}
}

// destroyReplaced tears down the outgoing instance once its successor is
// live. Failures are logged and never undo the swap.
func (at *attempt) destroyReplaced(ctx context.Context) {
	if at.replaced == nil || at.replaced.Adapter == nil {
		return
	}

	if err := loader.SafeDestroy(ctx, at.replaced.Adapter); err != nil {
		at.log.Warn().Err(err).Str("version", at.replaced.Version).Msg("Failed to destroy replaced adapter")
	}
}

func (at *attempt) record(err error) history.Record {
	rec := history.Record{
		Kind:      at.req.kind,
		ModuleRef: at.req.moduleRef,
		ClassName: at.req.className,
		Version:   at.identity.Version,
		State:     string(at.state),
		Outcome:   history.OutcomeSuccess,
	}

	if at.snapshot != nil {
		rec.PreviousConfig = at.snapshot.Config()
	}

	if err != nil {
		rec.Outcome = history.OutcomeFailure
		rec.FailureReason = fmt.Sprintf("%s: %v", at.failedAt, err)
		rec.ErrorKind = adapter.KindOf(err)
		rec.AppliedConfig = at.req.config
	} else {
		rec.AppliedConfig = at.applied
	}

	return rec
}

func (o *Orchestrator) afterAttempt(ctx context.Context, at *attempt, rec history.Record, elapsed time.Duration) {
	if inst := at.committed; inst != nil {
		at.log.Info().
			Str("version", inst.Version).
			Str("module_ref", inst.ModuleRef).
			Dur("elapsed", elapsed).
			Msg("Adapter update committed")

		o.guard(rec.ProtocolType, "config store", func() { o.persist(ctx, inst) })
		o.runHooks(ctx, inst)
	} else {
		at.log.Warn().
			Str("failed_at", string(at.failedAt)).
			Str("error_kind", string(rec.ErrorKind)).
			Str("reason", rec.FailureReason).
			Msg("Adapter update failed")
	}

	if o.events != nil {
		o.guard(rec.ProtocolType, "event publisher", func() {
			if err := o.events.Publish(ctx, rec); err != nil {
				at.log.Warn().Err(err).Msg("Failed to publish update event")
			}
		})
	}

	if o.metrics != nil {
		o.guard(rec.ProtocolType, "metrics recorder", func() { o.metrics.RecordOutcome(ctx, rec, elapsed) })
	}
}

// guard runs fn and logs a panic instead of letting it reach the worker.
func (o *Orchestrator) guard(protocolType, collaborator string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Str("protocol_type", protocolType).
				Str("collaborator", collaborator).
				Msg("Collaborator panicked after update")
		}
	}()

	fn()
}

func (o *Orchestrator) persist(ctx context.Context, inst *registry.Instance) {
	if o.store == nil {
		return
	}

	err := o.store.Save(ctx, store.Entry{
		ProtocolType: inst.ProtocolType,
		ModuleRef:    inst.ModuleRef,
		ClassName:    inst.ClassName,
		Version:      inst.Version,
		Config:       inst.Config(),
		UpdatedAt:    inst.CommittedAt,
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("protocol_type", inst.ProtocolType).Msg("Failed to persist committed config")
	}
}

func (o *Orchestrator) runHooks(ctx context.Context, inst *registry.Instance) {
	for _, hook := range o.hooks {
		o.guard(inst.ProtocolType, "commit hook", func() { hook(ctx, inst) })
	}
}
