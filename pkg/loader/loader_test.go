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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/adapter/adaptertest"
	"github.com/carverauto/adapterhub/pkg/adapter/serial"
	"github.com/carverauto/adapterhub/pkg/bundle"
	"github.com/carverauto/adapterhub/pkg/resolver"
)

const serialUnit = `{"protocol_type":"SERIAL-A","version":"2.0.0","manufacturer":"Acme","capabilities":["modbus-rtu"]}`

var errInitFailed = errors.New("port busy")

func newTestLoader(t *testing.T, opts ...Option) (*Loader, *adaptertest.MemResolver, *Catalog) {
	t.Helper()

	res := adaptertest.NewMemResolver()
	catalog := NewCatalog()
	catalog.Register(serial.ClassName, serial.New)

	return New(res, catalog, opts...), res, catalog
}

func TestLoadNativeAdapter(t *testing.T) {
	ctx := context.Background()
	l, res, _ := newTestLoader(t)
	res.Put("acme.zip", adaptertest.NativeBundle(t, serial.ClassName, serialUnit))

	c, err := l.Load(ctx, Request{ProtocolType: "SERIAL-A", ModuleRef: "acme.zip", ClassName: serial.ClassName})
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", c.Identity.Version)
	assert.Equal(t, "Acme", c.Identity.Manufacturer)
	assert.NotEmpty(t, c.Digest)
	assert.Empty(t, c.StagedPath)

	second, err := c.Factory(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c.Adapter, second, "factory must build a fresh instance")
	assert.Equal(t, "2.0.0", second.Version())
}

func TestLoadFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		register func(c *Catalog)
		module   []byte
		req      Request
		want     error
		detail   error
	}{
		{
			name:   "missing module",
			req:    Request{ProtocolType: "SERIAL-A", ModuleRef: "absent.zip", ClassName: serial.ClassName},
			want:   adapter.ErrLoad,
			detail: resolver.ErrModuleNotFound,
		},
		{
			name:   "broken bundle",
			module: []byte("definitely not a zip"),
			req:    Request{ProtocolType: "SERIAL-A", ModuleRef: "m.zip", ClassName: serial.ClassName},
			want:   adapter.ErrModuleIntegrity,
		},
		{
			name:   "class not in bundle",
			module: adaptertest.NativeBundle(t, serial.ClassName, serialUnit),
			req:    Request{ProtocolType: "SERIAL-A", ModuleRef: "m.zip", ClassName: "serial.RS232"},
			want:   adapter.ErrLoad,
			detail: errClassNotInBundle,
		},
		{
			name:   "class not registered",
			module: adaptertest.NativeBundle(t, "vendor.Unknown", "{}"),
			req:    Request{ProtocolType: "SERIAL-A", ModuleRef: "m.zip", ClassName: "vendor.Unknown"},
			want:   adapter.ErrLoad,
			detail: errClassNotRegistered,
		},
		{
			name: "constructor panics",
			register: func(c *Catalog) {
				c.Register("vendor.Panics", func() adapter.Adapter { panic("no zero-arg path") })
			},
			module: adaptertest.NativeBundle(t, "vendor.Panics", "{}"),
			req:    Request{ProtocolType: "SERIAL-A", ModuleRef: "m.zip", ClassName: "vendor.Panics"},
			want:   adapter.ErrLoad,
		},
		{
			name: "constructor returns nil",
			register: func(c *Catalog) {
				c.Register("vendor.Nil", func() adapter.Adapter { return nil })
			},
			module: adaptertest.NativeBundle(t, "vendor.Nil", "{}"),
			req:    Request{ProtocolType: "SERIAL-A", ModuleRef: "m.zip", ClassName: "vendor.Nil"},
			want:   adapter.ErrLoad,
			detail: errNilAdapter,
		},
		{
			name:   "bad unit",
			module: adaptertest.NativeBundle(t, serial.ClassName, "not json"),
			req:    Request{ProtocolType: "SERIAL-A", ModuleRef: "m.zip", ClassName: serial.ClassName},
			want:   adapter.ErrLoad,
		},
		{
			name:   "protocol mismatch",
			module: adaptertest.NativeBundle(t, serial.ClassName, serialUnit),
			req:    Request{ProtocolType: "SERIAL-B", ModuleRef: "m.zip", ClassName: serial.ClassName},
			want:   adapter.ErrValidation,
			detail: errProtocolMismatch,
		},
		{
			name:   "expected version mismatch",
			module: adaptertest.NativeBundle(t, serial.ClassName, serialUnit),
			req: Request{
				ProtocolType: "SERIAL-A", ModuleRef: "m.zip", ClassName: serial.ClassName, ExpectedVersion: "3.0.0",
			},
			want:   adapter.ErrValidation,
			detail: errVersionMismatch,
		},
		{
			name:   "no capabilities",
			module: adaptertest.NativeBundle(t, serial.ClassName, `{"protocol_type":"SERIAL-A","capabilities":[]}`),
			req:    Request{ProtocolType: "SERIAL-A", ModuleRef: "m.zip", ClassName: serial.ClassName},
			want:   adapter.ErrValidation,
			detail: errNoCapabilities,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, res, catalog := newTestLoader(t)
			if tt.register != nil {
				tt.register(catalog)
			}

			if tt.module != nil {
				res.Put(tt.req.ModuleRef, tt.module)
			}

			c, err := l.Load(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, c)

			if tt.detail != nil {
				require.ErrorIs(t, err, tt.detail)
			}
		})
	}
}

func TestLoadDestroysRejectedCandidates(t *testing.T) {
	ctx := context.Background()
	l, res, catalog := newTestLoader(t)

	failing := adaptertest.NewFake("SERIAL-A", "1.0.0")
	failing.InitErr = errInitFailed

	mismatched := adaptertest.NewFake("OTHER", "1.0.0")

	catalog.Register("fake.Failing", func() adapter.Adapter { return failing })
	catalog.Register("fake.Mismatched", func() adapter.Adapter { return mismatched })

	res.Put("failing.zip", adaptertest.NativeBundle(t, "fake.Failing", "{}"))
	res.Put("mismatched.zip", adaptertest.NativeBundle(t, "fake.Mismatched", "{}"))

	_, err := l.Load(ctx, Request{ProtocolType: "SERIAL-A", ModuleRef: "failing.zip", ClassName: "fake.Failing"})
	require.ErrorIs(t, err, adapter.ErrLoad)
	require.ErrorIs(t, err, errInitFailed)
	assert.Equal(t, 1, failing.DestroyCalls())

	_, err = l.Load(ctx, Request{ProtocolType: "SERIAL-A", ModuleRef: "mismatched.zip", ClassName: "fake.Mismatched"})
	require.ErrorIs(t, err, adapter.ErrValidation)
	assert.Equal(t, 1, mismatched.DestroyCalls())
}

func TestLoadIdentityPanicIsLoadError(t *testing.T) {
	ctx := context.Background()
	l, res, catalog := newTestLoader(t)

	fake := adaptertest.NewFake("SERIAL-A", "1.0.0")
	fake.PanicOnIdentity.Store(true)

	catalog.Register("fake.Panicky", func() adapter.Adapter { return fake })
	res.Put("p.zip", adaptertest.NativeBundle(t, "fake.Panicky", "{}"))

	_, err := l.Load(ctx, Request{ProtocolType: "SERIAL-A", ModuleRef: "p.zip", ClassName: "fake.Panicky"})
	require.ErrorIs(t, err, adapter.ErrLoad)
	assert.Equal(t, 1, fake.DestroyCalls())
}

func TestLoadStagesBundle(t *testing.T) {
	stager, err := bundle.NewStager(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)

	l, res, _ := newTestLoader(t, WithStager(stager))
	res.Put("acme.zip", adaptertest.NativeBundle(t, serial.ClassName, serialUnit))

	c, err := l.Load(context.Background(), Request{ProtocolType: "SERIAL-A", ModuleRef: "acme.zip", ClassName: serial.ClassName})
	require.NoError(t, err)
	assert.FileExists(t, c.StagedPath)

	removed, err := l.CleanupStaged(-time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, c.StagedPath)
}

func TestLoaderExistsDelegates(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	res := resolver.NewMockResolver(ctrl)
	res.EXPECT().Exists(ctx, "s3://b/k").Return(true, nil)

	ok, err := New(res, nil).Exists(ctx, "s3://b/k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCatalogClasses(t *testing.T) {
	c := NewCatalog()
	c.Register("b.Two", serial.New)
	c.Register("a.One", serial.New)

	assert.Equal(t, []string{"a.One", "b.Two"}, c.Classes())

	_, ok := c.Lookup("c.Three")
	assert.False(t, ok)
}
