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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/adapter/serial"
	"github.com/carverauto/adapterhub/pkg/history"
	"github.com/carverauto/adapterhub/pkg/metrics"
	"github.com/carverauto/adapterhub/pkg/registry"
	"github.com/carverauto/adapterhub/pkg/store"
)

type recordingPublisher struct {
	mu      sync.Mutex
	records []history.Record
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, rec history.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.records = append(p.records, rec)

	return p.err
}

func (p *recordingPublisher) published() []history.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]history.Record(nil), p.records...)
}

func TestCommitPersistsConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := store.NewMockConfigStore(ctrl)

	saved := make(chan store.Entry, 1)
	mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e store.Entry) error {
		saved <- e
		return nil
	}).Times(1)

	h := newHarness(t, WithStore(mockStore))
	h.serialBundle("mem://rs485-1", "SERIAL-A", "1.0.0")

	ctx := context.Background()

	require.True(t, wait(t, h.orch.SubmitModuleUpdate(ctx, "SERIAL-A", "mem://rs485-1", serial.ClassName,
		adapter.Config{"baudRate": "9600"})).Success)

	// failures are never persisted
	require.False(t, wait(t, h.orch.SubmitConfigUpdate(ctx, "SERIAL-A", adapter.Config{"baudRate": 7})).Success)

	e := <-saved
	assert.Equal(t, "SERIAL-A", e.ProtocolType)
	assert.Equal(t, "mem://rs485-1", e.ModuleRef)
	assert.Equal(t, serial.ClassName, e.ClassName)
	assert.Equal(t, "1.0.0", e.Version)
	assert.Equal(t, adapter.Config{"baudRate": 9600}, e.Config)
	assert.False(t, e.UpdatedAt.IsZero())
}

func TestStoreErrorDoesNotFailCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := store.NewMockConfigStore(ctrl)
	mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(assert.AnError)

	h := newHarness(t, WithStore(mockStore))
	h.fakeBundle("mem://a", "fake.A", "FAKE-A", "1.0.0", nil)

	res := wait(t, h.orch.SubmitModuleUpdate(context.Background(), "FAKE-A", "mem://a", "fake.A", nil))
	assert.True(t, res.Success, res.Message)
	assert.NotNil(t, h.orch.Get("FAKE-A"))
}

func TestReinstallFromStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := store.NewMockConfigStore(ctrl)

	mockStore.EXPECT().List(gomock.Any()).Return([]store.Entry{
		{
			ProtocolType: "SERIAL-A",
			ModuleRef:    "mem://rs485-1",
			ClassName:    serial.ClassName,
			Version:      "1.0.0",
			Config:       adapter.Config{"baudRate": float64(19200)},
		},
		{
			ProtocolType: "SERIAL-B",
			ModuleRef:    "mem://rs485-b",
			ClassName:    serial.ClassName,
			Version:      "9.9.9",
		},
	}, nil)
	mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	h := newHarness(t, WithStore(mockStore))
	h.serialBundle("mem://rs485-1", "SERIAL-A", "1.0.0")
	h.serialBundle("mem://rs485-b", "SERIAL-B", "2.0.0")

	handles, err := h.orch.Reinstall(context.Background())
	require.NoError(t, err)
	require.Len(t, handles, 2)

	assert.True(t, wait(t, handles[0]).Success)
	assert.Equal(t, adapter.Config{"baudRate": 19200}, h.orch.Instance("SERIAL-A").AppliedConfig)

	// the stored version no longer matches the bundle
	drifted := wait(t, handles[1])
	assert.Equal(t, adapter.KindValidation, drifted.ErrorKind)
	assert.Nil(t, h.orch.Get("SERIAL-B"))
}

func TestReinstallWithoutStore(t *testing.T) {
	h := newHarness(t)

	handles, err := h.orch.Reinstall(context.Background())
	require.NoError(t, err)
	assert.Empty(t, handles)

	ctrl := gomock.NewController(t)
	mockStore := store.NewMockConfigStore(ctrl)
	mockStore.EXPECT().List(gomock.Any()).Return(nil, assert.AnError)

	h = newHarness(t, WithStore(mockStore))

	_, err = h.orch.Reinstall(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestEveryAttemptIsPublished(t *testing.T) {
	pub := &recordingPublisher{err: assert.AnError}
	h := newHarness(t, WithEvents(pub))
	h.fakeBundle("mem://a", "fake.A", "FAKE-A", "1.0.0", nil)

	ctx := context.Background()

	ok := wait(t, h.orch.SubmitModuleUpdate(ctx, "FAKE-A", "mem://a", "fake.A", nil))
	require.True(t, ok.Success, "publish errors do not fail the update")

	bad := wait(t, h.orch.SubmitModuleUpdate(ctx, "FAKE-A", "mem://missing", "fake.A", nil))
	require.False(t, bad.Success)

	blank := wait(t, h.orch.SubmitModuleUpdate(ctx, "", "mem://a", "fake.A", nil))
	require.False(t, blank.Success)

	recs := pub.published()
	require.Len(t, recs, 3)
	assert.Equal(t, ok.RecordID, recs[0].ID)
	assert.Equal(t, history.OutcomeSuccess, recs[0].Outcome)
	assert.Equal(t, "FAKE-A", recs[0].ProtocolType)
	assert.Equal(t, bad.RecordID, recs[1].ID)
	assert.Equal(t, history.OutcomeFailure, recs[1].Outcome)
	assert.NotEqual(t, recs[1].ID, recs[2].ID, "unrecorded attempts still get an id")
	assert.False(t, recs[2].Timestamp.IsZero())
}

func TestOutcomesAreMeasured(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := metrics.NewRecorder(provider.Meter("test"))
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, rec.ObserveInstalled(reg.Len))

	h := newHarness(t, WithMetrics(rec), WithRegistry(reg))
	h.fakeBundle("mem://a", "fake.A", "FAKE-A", "1.0.0", nil)

	ctx := context.Background()
	require.True(t, wait(t, h.orch.SubmitModuleUpdate(ctx, "FAKE-A", "mem://a", "fake.A", nil)).Success)
	require.False(t, wait(t, h.orch.SubmitConfigUpdate(ctx, "FAKE-B", nil)).Success)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := make(map[string]metricdata.Metrics)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = m
		}
	}

	attempts, ok := found["adapterhub_update_attempts_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range attempts.DataPoints {
		total += dp.Value
	}

	assert.Equal(t, int64(2), total)

	installed, ok := found["adapterhub_installed_adapters"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, installed.DataPoints, 1)
	assert.Equal(t, int64(1), installed.DataPoints[0].Value)
}

func TestCommitHooks(t *testing.T) {
	var calls atomic.Int32

	seen := make(chan *registry.Instance, 2)

	h := newHarness(t,
		WithCommitHook(func(context.Context, *registry.Instance) { panic("hook exploded") }),
		WithCommitHook(func(_ context.Context, inst *registry.Instance) {
			calls.Add(1)
			seen <- inst
		}),
	)
	h.fakeBundle("mem://a", "fake.A", "FAKE-A", "1.0.0", nil)

	ctx := context.Background()

	require.True(t, wait(t, h.orch.SubmitModuleUpdate(ctx, "FAKE-A", "mem://a", "fake.A", nil)).Success)
	require.False(t, wait(t, h.orch.Rollback(ctx, "FAKE-A", "0.1.0")).Success)
	require.True(t, wait(t, h.orch.SubmitConfigUpdate(ctx, "FAKE-A", adapter.Config{"parity": "odd"})).Success)

	assert.Equal(t, int32(2), calls.Load(), "hooks run once per commit only")
	assert.Equal(t, "1.0.0", (<-seen).Version)
	assert.Equal(t, adapter.Config{"parity": "odd"}, (<-seen).AppliedConfig)
}

func TestUpdatesAreTraced(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t, WithTracer(tp.Tracer("test")))
	h.fakeBundle("mem://a", "fake.A", "FAKE-A", "1.0.0", nil)

	ctx := context.Background()
	require.True(t, wait(t, h.orch.SubmitModuleUpdate(ctx, "FAKE-A", "mem://a", "fake.A", nil)).Success)
	require.False(t, wait(t, h.orch.SubmitModuleUpdate(ctx, "FAKE-A", "mem://a", "fake.A", nil,
		WithExpectedVersion("2.0.0"))).Success)

	names := make(map[string]int)

	var failedRoot sdktrace.ReadOnlySpan

	for _, s := range sr.Ended() {
		names[s.Name()]++

		if s.Name() == "adapter.update" && s.Status().Code == codes.Error {
			failedRoot = s
		}
	}

	assert.Equal(t, 2, names["adapter.update"])
	assert.Equal(t, 2, names["stage.validating"])
	assert.Equal(t, 2, names["stage.loading"])
	assert.Equal(t, 1, names["stage.swapping"])

	require.NotNil(t, failedRoot)
	assert.NotEmpty(t, failedRoot.Events(), "the error is recorded on the span")
}

func TestExpectedVersionAccepted(t *testing.T) {
	h := newHarness(t)
	h.fakeBundle("mem://a", "fake.A", "FAKE-A", "1.0.0", nil)

	res := wait(t, h.orch.SubmitModuleUpdate(context.Background(), "FAKE-A", "mem://a", "fake.A", nil,
		WithExpectedVersion("1.0.0")))
	assert.True(t, res.Success, res.Message)
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(context.Context, history.Record) error {
	panic("broker client bug")
}

type panickingRecorder struct{}

func (panickingRecorder) RecordOutcome(context.Context, history.Record, time.Duration) {
	panic("meter bug")
}

func (panickingRecorder) RecordCleanup(context.Context, int) {
	panic("meter bug")
}

func TestCollaboratorPanicsStayInside(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := store.NewMockConfigStore(ctrl)
	mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, store.Entry) error { panic("driver bug") }).AnyTimes()

	h := newHarness(t,
		WithStore(mockStore),
		WithEvents(panickingPublisher{}),
		WithMetrics(panickingRecorder{}),
	)
	h.fakeBundle("mem://a", "fake.A", "FAKE-A", "1.0.0", nil)

	ctx := context.Background()

	res := wait(t, h.orch.SubmitModuleUpdate(ctx, "FAKE-A", "mem://a", "fake.A", adapter.Config{"baudRate": 1}))
	require.True(t, res.Success, res.Message)
	assert.NotNil(t, h.orch.Get("FAKE-A"))

	res = wait(t, h.orch.SubmitModuleUpdate(ctx, "FAKE-A", "mem://missing", "fake.A", nil))
	assert.Equal(t, adapter.KindParameter, res.ErrorKind)

	// the ticket was released, so later work for the same type still runs
	res = wait(t, h.orch.SubmitConfigUpdate(ctx, "FAKE-A", adapter.Config{"baudRate": 2}))
	require.True(t, res.Success, res.Message)
	assert.Len(t, h.orch.GetHistory("FAKE-A"), 3)

	cleanup, err := h.orch.CleanupArtifacts(ctx).Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, cleanup.Err)
}

func TestReinstallStorePanicIsError(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := store.NewMockConfigStore(ctrl)
	mockStore.EXPECT().List(gomock.Any()).DoAndReturn(func(context.Context) ([]store.Entry, error) {
		panic("driver bug")
	})

	h := newHarness(t, WithStore(mockStore))

	handles, err := h.orch.Reinstall(context.Background())
	require.ErrorIs(t, err, errStorePanic)
	assert.Empty(t, handles)
}
