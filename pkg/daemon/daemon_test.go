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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/carverauto/adapterhub/internal/natstest"
	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/adapter/adaptertest"
	"github.com/carverauto/adapterhub/pkg/adapter/serial"
	"github.com/carverauto/adapterhub/pkg/events"
	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/models"
	"github.com/carverauto/adapterhub/pkg/natsutil"
	"github.com/carverauto/adapterhub/pkg/reconcile"
	"github.com/carverauto/adapterhub/pkg/store"
)

const rs485Unit = `{"protocol_type":"SERIAL-A","version":"1.0.0","manufacturer":"Acme","capabilities":["rs485"]}`

func writeBundle(t *testing.T, dir string) {
	t.Helper()

	data := adaptertest.NativeBundle(t, serial.ClassName, rs485Unit)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rs485.zip"), data, 0o600))
}

func baseConfig(dir string) *Config {
	return &Config{
		StagingDir: filepath.Join(dir, "staging"),
		Resolver:   ResolverConfig{FileRoot: dir},
		Rules:      map[string]string{"SERIAL-A": "serial"},
	}
}

// start runs d until the returned stop func is called.
func start(t *testing.T, d *Daemon) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- d.Run(ctx) }()

	return func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{name: "defaults", cfg: Config{}},
		{name: "nats store without nats", cfg: Config{Store: store.Config{Backend: store.BackendNATS}}, err: errNATSRequired},
		{name: "events without nats", cfg: Config{Events: EventsConfig{Enabled: true}}, err: errNATSRequired},
		{name: "reconcile without nats", cfg: Config{Reconcile: ReconcileConfig{Enabled: true}}, err: errNATSRequired},
		{name: "unknown rules", cfg: Config{Rules: map[string]string{"SERIAL-A": "canbus"}}, err: errUnknownRuleSet},
		{
			name: "incomplete boot adapter",
			cfg:  Config{Boot: []reconcile.Adapter{{ProtocolType: "SERIAL-A", ClassName: serial.ClassName}}},
			err:  errBootIncomplete,
		},
		{name: "negative interval", cfg: Config{HousekeepingInterval: models.Duration(-time.Second)}, err: errNegativeTimeout},
		{
			name: "nats satisfied",
			cfg: Config{
				NATS:   &natsutil.Config{URL: "nats://127.0.0.1:4222"},
				Events: EventsConfig{Enabled: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.err == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tt.err)
		})
	}

	bad := Config{Store: store.Config{Backend: store.BackendSQLite}}
	require.Error(t, bad.Validate())
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()

	assert.NotEmpty(t, c.StagingDir)
	assert.Equal(t, time.Hour, c.HousekeepingInterval.Std())
	assert.Equal(t, 30*time.Second, c.ShutdownTimeout.Std())
}

func TestBootAndRestoreFromSQLite(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir)

	cfg := baseConfig(dir)
	cfg.Store = store.Config{Backend: store.BackendSQLite, Path: filepath.Join(dir, "adapters.db")}
	cfg.HealthListenAddr = "127.0.0.1:0"
	cfg.Boot = []reconcile.Adapter{{
		ProtocolType: "SERIAL-A",
		ModuleRef:    "rs485.zip",
		ClassName:    serial.ClassName,
		Version:      "1.0.0",
		Config:       adapter.Config{"baudRate": 9600},
	}}

	d, err := New(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	stop := start(t, d)

	require.Eventually(t, func() bool {
		return d.Orchestrator().GetVersion("SERIAL-A").Version == "1.0.0"
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		resp, err := d.Health().Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "SERIAL-A"})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 10*time.Second, 20*time.Millisecond, "commit hook marks the protocol type serving")

	stop()

	// a second process with no boot list restores from the store
	cfg.Boot = nil
	cfg.HealthListenAddr = ""

	d, err = New(context.Background(), cfg, nil)
	require.NoError(t, err)

	stop = start(t, d)
	defer stop()

	require.Eventually(t, func() bool {
		inst := d.Orchestrator().Instance("SERIAL-A")
		return inst != nil && inst.AppliedConfig["baudRate"] == 9600
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, "rs485.zip", d.Orchestrator().Instance("SERIAL-A").ModuleRef)
}

func TestBootRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir)

	cfg := baseConfig(dir)
	cfg.Boot = []reconcile.Adapter{{
		ProtocolType: "SERIAL-A",
		ModuleRef:    "rs485.zip",
		ClassName:    serial.ClassName,
		Config:       adapter.Config{"baudRate": 100000},
	}}

	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	stop := start(t, d)
	defer stop()

	require.Eventually(t, func() bool {
		return len(d.Orchestrator().GetHistory("SERIAL-A")) == 1
	}, 10*time.Second, 20*time.Millisecond)

	assert.Nil(t, d.Orchestrator().Get("SERIAL-A"))
	assert.Equal(t, adapter.KindValidation, d.Orchestrator().GetHistory("SERIAL-A")[0].ErrorKind)
}

func TestNATSWiring(t *testing.T) {
	srv := natstest.RunJetStreamServer(t)
	dir := t.TempDir()
	writeBundle(t, dir)

	cfg := baseConfig(dir)
	cfg.NATS = &natsutil.Config{URL: srv.ClientURL()}
	cfg.Store = store.Config{Backend: store.BackendNATS}
	cfg.Events = EventsConfig{Enabled: true}
	cfg.Reconcile = ReconcileConfig{Enabled: true}

	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	stop := start(t, d)
	defer stop()

	ctx := context.Background()

	conn, err := natsutil.Connect(ctx, cfg.NATS, t.Name(), logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	publisher, err := reconcile.NewWatcher(ctx, conn.JS, reconcile.Config{}, d.Orchestrator(), nil)
	require.NoError(t, err)

	_, err = publisher.Publish(ctx, reconcile.Desired{Adapters: []reconcile.Adapter{{
		ProtocolType: "SERIAL-A",
		ModuleRef:    "file://rs485.zip",
		ClassName:    serial.ClassName,
		Config:       adapter.Config{"baudRate": 19200},
	}}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.Orchestrator().GetVersion("SERIAL-A").Version == "1.0.0"
	}, 10*time.Second, 20*time.Millisecond)

	kv, err := store.NewKVStore(ctx, conn.JS, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e, err := kv.Load(ctx, "SERIAL-A")
		return err == nil && e.Version == "1.0.0"
	}, 10*time.Second, 20*time.Millisecond)

	stream, err := conn.JS.Stream(ctx, events.DefaultStream)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := stream.Info(ctx)
		return err == nil && info.State.Msgs >= 1
	}, 10*time.Second, 20*time.Millisecond)
}
