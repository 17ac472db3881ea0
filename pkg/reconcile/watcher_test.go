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

package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/adapterhub/internal/natstest"
	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/adapter/adaptertest"
	"github.com/carverauto/adapterhub/pkg/configapply"
	"github.com/carverauto/adapterhub/pkg/loader"
	"github.com/carverauto/adapterhub/pkg/orchestrator"
)

func newOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()

	res := adaptertest.NewMemResolver()
	cat := loader.NewCatalog()

	for _, pt := range []string{"FAKE-A", "FAKE-B"} {
		class := "fake." + pt
		cat.Register(class, func() adapter.Adapter { return adaptertest.NewFake(pt, "1.0.0") })
		res.Put("mem://"+pt, adaptertest.NativeBundle(t, class, "{}"))
	}

	o, err := orchestrator.New(nil, loader.New(res, cat), configapply.New(nil))
	require.NoError(t, err)

	t.Cleanup(func() { _ = o.Close(context.Background()) })

	return o
}

func desiredFake(pt string, cfg adapter.Config) Adapter {
	return Adapter{ProtocolType: pt, ModuleRef: "mem://" + pt, ClassName: "fake." + pt, Config: cfg}
}

func waitAll(t *testing.T, handles []*orchestrator.Handle) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, h := range handles {
		res, err := h.Wait(ctx)
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
	}
}

func TestNewWatcherRequiresInputs(t *testing.T) {
	_, err := NewWatcher(context.Background(), nil, Config{}, nil, nil)
	require.ErrorIs(t, err, errNoJetStream)

	conn := natstest.Connect(t)

	_, err = NewWatcher(context.Background(), conn.JS, Config{}, nil, nil)
	require.ErrorIs(t, err, errNoTarget)
}

func TestApplyOnlySubmitsDifferences(t *testing.T) {
	conn := natstest.Connect(t)
	o := newOrchestrator(t)
	ctx := context.Background()

	w, err := NewWatcher(ctx, conn.JS, Config{}, o, nil)
	require.NoError(t, err)

	doc := []byte(`{"adapters":[
		{"protocol_type":"FAKE-A","module_ref":"mem://FAKE-A","class_name":"fake.FAKE-A","config":{"baudRate":9600}},
		{"protocol_type":"FAKE-B","module_ref":"mem://FAKE-B","class_name":"fake.FAKE-B","version":"1.0.0"}
	]}`)

	handles, err := w.Apply(ctx, doc)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	waitAll(t, handles)

	handles, err = w.Apply(ctx, doc)
	require.NoError(t, err)
	assert.Empty(t, handles, "nothing changed")

	handles, err = w.Apply(ctx, []byte(`{"adapters":[
		{"protocol_type":"FAKE-A","module_ref":"mem://FAKE-A","class_name":"fake.FAKE-A","config":{"baudRate":4800}}
	]}`))
	require.NoError(t, err)
	require.Len(t, handles, 1)
	waitAll(t, handles)

	assert.Equal(t, adapter.Config{"baudRate": 4800}, o.Instance("FAKE-A").AppliedConfig)
	assert.Equal(t, "config", string(o.GetHistory("FAKE-A")[1].Kind))
	assert.NotNil(t, o.Get("FAKE-B"), "adapters missing from the document stay installed")

	fakeA := func(cfg string) []byte {
		return []byte(`{"adapters":[{"protocol_type":"FAKE-A","module_ref":"mem://FAKE-A","class_name":"fake.FAKE-A",` +
			`"config":` + cfg + `}]}`)
	}

	handles, err = w.Apply(ctx, fakeA(`{"baudRate":"4800"}`))
	require.NoError(t, err)
	assert.Empty(t, handles, "numeric strings compare after coercion")

	handles, err = w.Apply(ctx, fakeA(`{"baudRate":4800,"parity":"odd"}`))
	require.NoError(t, err)
	waitAll(t, handles)

	handles, err = w.Apply(ctx, fakeA(`{"baudRate":4800}`))
	require.NoError(t, err)
	require.Len(t, handles, 1)
	waitAll(t, handles)

	assert.Equal(t, adapter.Config{"baudRate": 4800}, o.Instance("FAKE-A").AppliedConfig,
		"keys dropped from the document are not kept")

	_, err = w.Apply(ctx, []byte("{"))
	require.ErrorIs(t, err, errInvalidDocument)
}

func TestRunFollowsDocument(t *testing.T) {
	conn := natstest.Connect(t)
	o := newOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, conn.JS, Config{Bucket: "desired-test", Key: "site-1"}, o, nil)
	require.NoError(t, err)

	// present before the watch starts
	_, err = w.Publish(ctx, Desired{Adapters: []Adapter{desiredFake("FAKE-A", nil)}})
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return o.GetVersion("FAKE-A").Version == "1.0.0"
	}, 10*time.Second, 20*time.Millisecond)

	_, err = w.kv.Put(ctx, "site-1", []byte("not json"))
	require.NoError(t, err)

	_, err = w.Publish(ctx, Desired{Adapters: []Adapter{
		desiredFake("FAKE-A", adapter.Config{"parity": "odd"}),
		desiredFake("FAKE-B", nil),
	}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		inst := o.Instance("FAKE-A")
		return o.Get("FAKE-B") != nil && inst != nil && inst.AppliedConfig["parity"] == "odd"
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, w.kv.Delete(ctx, "site-1"))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watcher did not stop")
	}

	assert.Len(t, o.GetAllVersions(), 2)
}
