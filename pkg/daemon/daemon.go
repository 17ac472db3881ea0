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

package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/adapterhub/pkg/adapter/serial"
	"github.com/carverauto/adapterhub/pkg/bundle"
	"github.com/carverauto/adapterhub/pkg/configapply"
	"github.com/carverauto/adapterhub/pkg/events"
	"github.com/carverauto/adapterhub/pkg/lifecycle"
	"github.com/carverauto/adapterhub/pkg/loader"
	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/metrics"
	"github.com/carverauto/adapterhub/pkg/natsutil"
	"github.com/carverauto/adapterhub/pkg/orchestrator"
	"github.com/carverauto/adapterhub/pkg/reconcile"
	"github.com/carverauto/adapterhub/pkg/registry"
	"github.com/carverauto/adapterhub/pkg/resolver"
	"github.com/carverauto/adapterhub/pkg/store"
)

const serviceName = "adapterd"

// Daemon owns every long-lived component of adapterd.
type Daemon struct {
	cfg    Config
	logger logger.Logger

	conn      *natsutil.Conn
	telemetry *lifecycle.Telemetry
	recorder  *metrics.Recorder
	store     store.ConfigStore
	health    *lifecycle.HealthServer
	watcher   *reconcile.Watcher
	orch      *orchestrator.Orchestrator

	stopOnce sync.Once
}

// New builds the daemon. Nothing runs until Run.
func New(ctx context.Context, cfg *Config, log logger.Logger) (d *Daemon, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	d = &Daemon{cfg: cfg.withDefaults(), logger: log}

	defer func() {
		if err != nil {
			d.shutdown()
			d = nil
		}
	}()

	if d.telemetry, err = lifecycle.InitializeTelemetry(ctx, d.cfg.Telemetry, log); err != nil {
		if !errors.Is(err, lifecycle.ErrTelemetryDisabled) {
			return d, err
		}

		err = nil
	}

	if d.cfg.NATS.Enabled() {
		if d.conn, err = natsutil.Connect(ctx, d.cfg.NATS, serviceName, log.WithComponent("nats")); err != nil {
			return d, err
		}
	}

	ld, err := d.newLoader(ctx)
	if err != nil {
		return d, err
	}

	if d.store, err = store.Open(ctx, &d.cfg.Store, d.jetStream(), log.WithComponent("store")); err != nil {
		return d, err
	}

	reg := registry.New()

	if d.recorder, err = metrics.NewRecorder(nil); err != nil {
		return d, err
	}

	if err = d.recorder.ObserveInstalled(reg.Len); err != nil {
		return d, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(log.WithComponent("orchestrator")),
		orchestrator.WithRegistry(reg),
		orchestrator.WithMetrics(d.recorder),
	}

	if d.store != nil {
		opts = append(opts, orchestrator.WithStore(d.store))
	}

	if d.cfg.Events.Enabled {
		pub, err := events.NewPublisher(ctx, d.jetStream(), d.cfg.Events.Config, log.WithComponent("events"))
		if err != nil {
			return d, err
		}

		opts = append(opts, orchestrator.WithEvents(pub))
	}

	if d.cfg.HealthListenAddr != "" {
		d.health = lifecycle.NewHealthServer(d.cfg.HealthListenAddr, log.WithComponent("health"))
		opts = append(opts, orchestrator.WithCommitHook(func(_ context.Context, inst *registry.Instance) {
			d.health.SetServing(inst.ProtocolType, true)
		}))
	}

	if d.orch, err = orchestrator.New(&d.cfg.Orchestrator, ld, d.newApplier(), opts...); err != nil {
		return d, err
	}

	if d.cfg.Reconcile.Enabled {
		d.watcher, err = reconcile.NewWatcher(ctx, d.jetStream(), d.cfg.Reconcile.Config, d.orch,
			log.WithComponent("reconcile"))
		if err != nil {
			return d, err
		}
	}

	return d, nil
}

func (d *Daemon) jetStream() jetstream.JetStream {
	if d.conn == nil {
		return nil
	}

	return d.conn.JS
}

func (d *Daemon) newLoader(ctx context.Context) (*loader.Loader, error) {
	mux := resolver.NewMux().Handle(resolver.SchemeFile, resolver.NewFileResolver(d.cfg.Resolver.FileRoot))

	if d.conn != nil {
		mux.Handle(resolver.SchemeObjectStore, resolver.NewObjectStoreResolver(d.conn.JS))
	}

	if d.cfg.Resolver.S3 != nil {
		client, err := resolver.NewS3Client(ctx, *d.cfg.Resolver.S3)
		if err != nil {
			return nil, err
		}

		mux.Handle(resolver.SchemeS3, resolver.NewS3Resolver(client))
	}

	stager, err := bundle.NewStager(d.cfg.StagingDir)
	if err != nil {
		return nil, err
	}

	catalog := loader.NewCatalog()
	catalog.Register(serial.ClassName, serial.New)

	res := resolver.NewRetrying(mux, d.cfg.Resolver.Retry, d.logger.WithComponent("resolver"))

	return loader.New(res, catalog, loader.WithStager(stager), loader.WithLogger(d.logger.WithComponent("loader"))), nil
}

func (d *Daemon) newApplier() *configapply.Applier {
	ap := configapply.New(d.logger.WithComponent("configapply"))

	for pt, name := range d.cfg.Rules {
		rules, _ := configapply.NamedRuleSet(name)
		ap.RegisterRules(pt, rules)
	}

	return ap
}

// Orchestrator exposes the running orchestrator.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orch
}

// Health returns the health server, or nil when disabled.
func (d *Daemon) Health() *lifecycle.HealthServer {
	return d.health
}

// Run starts background work and blocks until ctx is done, then shuts
// everything down.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.shutdown()

	if d.health != nil {
		if err := d.health.Start(ctx); err != nil {
			return err
		}
	}

	d.boot(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if d.watcher != nil {
		g.Go(func() error { return d.watcher.Run(gctx) })
	}

	g.Go(func() error {
		d.housekeep(gctx)
		return nil
	})

	d.logger.Info().Int("installed", len(d.orch.GetAllVersions())).Msg("adapterd running")

	return g.Wait()
}

// boot restores stored adapters, then installs configured boot adapters
// that are still missing or differ.
func (d *Daemon) boot(ctx context.Context) {
	handles, err := d.orch.Reinstall(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to restore stored adapters")
	}

	d.await(ctx, handles)

	handles = handles[:0]

	for _, want := range d.cfg.Boot {
		switch reconcile.Plan(want, d.orch.Instance(want.ProtocolType)) {
		case reconcile.ActionNone:
			continue
		case reconcile.ActionConfig:
			handles = append(handles, d.orch.SubmitConfigUpdate(ctx, want.ProtocolType, want.Config,
				orchestrator.WithReplaceConfig()))
		case reconcile.ActionModule:
			var opts []orchestrator.SubmitOption
			if want.Version != "" {
				opts = append(opts, orchestrator.WithExpectedVersion(want.Version))
			}

			handles = append(handles, d.orch.SubmitModuleUpdate(ctx, want.ProtocolType, want.ModuleRef,
				want.ClassName, want.Config, opts...))
		}
	}

	d.await(ctx, handles)
}

func (d *Daemon) await(ctx context.Context, handles []*orchestrator.Handle) {
	for _, h := range handles {
		res, err := h.Wait(ctx)
		if err != nil {
			return
		}

		if !res.Success {
			d.logger.Warn().Str("protocol_type", res.ProtocolType).Str("error_kind", string(res.ErrorKind)).
				Msg(res.Message)

			continue
		}

		d.logger.Info().Str("protocol_type", res.ProtocolType).Str("version", res.Version).Msg(res.Message)
	}
}

func (d *Daemon) housekeep(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.HousekeepingInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.orch.CleanupArtifacts(ctx).Wait(ctx); err != nil {
				return
			}
		}
	}
}

func (d *Daemon) shutdown() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout.Std())
	defer cancel()

	if d.orch != nil {
		if err := d.orch.Close(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Timed out waiting for in-flight updates")
		}
	}

	if d.health != nil {
		d.health.Stop()
	}

	if d.recorder != nil {
		_ = d.recorder.Close()
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close config store")
		}
	}

	d.conn.Close()

	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to flush telemetry")
		}
	}
}
