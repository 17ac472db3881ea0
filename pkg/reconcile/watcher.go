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
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/orchestrator"
	"github.com/carverauto/adapterhub/pkg/registry"
)

const (
	// DefaultBucket holds desired-state documents.
	DefaultBucket = "adapter-desired"
	// DefaultKey is the document key within the bucket.
	DefaultKey = "desired"
)

var (
	errNoJetStream = errors.New("jetstream context is required")
	errNoTarget    = errors.New("reconcile target is required")
)

// Target is the part of the orchestrator the watcher drives.
type Target interface {
	SubmitModuleUpdate(ctx context.Context, protocolType, moduleRef, className string, cfg adapter.Config,
		opts ...orchestrator.SubmitOption) *orchestrator.Handle
	SubmitConfigUpdate(ctx context.Context, protocolType string, cfg adapter.Config,
		opts ...orchestrator.SubmitOption) *orchestrator.Handle
	Instance(protocolType string) *registry.Instance
}

// Config selects the watched key.
type Config struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
}

func (c Config) withDefaults() Config {
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}

	if c.Key == "" {
		c.Key = DefaultKey
	}

	return c
}

// Watcher submits updates whenever the desired-state document changes.
type Watcher struct {
	kv     jetstream.KeyValue
	key    string
	target Target
	logger logger.Logger

	// serializes Apply so overlapping documents are planned in order
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewWatcher creates the bucket if needed.
func NewWatcher(ctx context.Context, js jetstream.JetStream, cfg Config, target Target, log logger.Logger) (*Watcher, error) {
	if js == nil {
		return nil, errNoJetStream
	}

	if target == nil {
		return nil, errNoTarget
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	cfg = cfg.withDefaults()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "desired adapter state",
		History:     10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", cfg.Bucket, err)
	}

	return &Watcher{kv: kv, key: cfg.Key, target: target, logger: log}, nil
}

// Publish writes a desired-state document.
func (w *Watcher) Publish(ctx context.Context, d Desired) (uint64, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal desired state: %w", err)
	}

	rev, err := w.kv.Put(ctx, w.key, data)
	if err != nil {
		return 0, fmt.Errorf("failed to put desired state: %w", err)
	}

	return rev, nil
}

// Run watches the key until ctx is done. The current value, if any, is
// applied first.
func (w *Watcher) Run(ctx context.Context) error {
	kw, err := w.kv.Watch(ctx, w.key)
	if err != nil {
		return fmt.Errorf("failed to watch key %s: %w", w.key, err)
	}

	defer func() {
		if err := kw.Stop(); err != nil {
			w.logger.Debug().Err(err).Str("key", w.key).Msg("Failed to stop KV watcher")
		}

		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-kw.Updates():
			if !ok {
				return nil
			}

			// nil marks the end of the initial values
			if entry == nil {
				continue
			}

			if entry.Operation() != jetstream.KeyValuePut {
				w.logger.Info().Str("key", w.key).Msg("Desired state deleted; installed adapters are kept")
				continue
			}

			handles, err := w.Apply(ctx, entry.Value())
			if err != nil {
				w.logger.Warn().Err(err).Str("key", w.key).Uint64("revision", entry.Revision()).
					Msg("Ignoring desired state update")

				continue
			}

			w.report(ctx, entry.Revision(), handles)
		}
	}
}

// Apply plans and submits updates for one document.
func (w *Watcher) Apply(ctx context.Context, data []byte) ([]*orchestrator.Handle, error) {
	d, err := Parse(data)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var handles []*orchestrator.Handle

	for _, want := range d.Adapters {
		switch Plan(want, w.target.Instance(want.ProtocolType)) {
		case ActionModule:
			var opts []orchestrator.SubmitOption
			if want.Version != "" {
				opts = append(opts, orchestrator.WithExpectedVersion(want.Version))
			}

			handles = append(handles, w.target.SubmitModuleUpdate(ctx, want.ProtocolType, want.ModuleRef,
				want.ClassName, want.Config, opts...))
		case ActionConfig:
			// the document is authoritative; keys it leaves out are not kept
			handles = append(handles, w.target.SubmitConfigUpdate(ctx, want.ProtocolType, want.Config,
				orchestrator.WithReplaceConfig()))
		case ActionNone:
		}
	}

	return handles, nil
}

func (w *Watcher) report(ctx context.Context, revision uint64, handles []*orchestrator.Handle) {
	for _, h := range handles {
		w.wg.Add(1)

		go func(h *orchestrator.Handle) {
			defer w.wg.Done()

			res, err := h.Wait(ctx)
			if err != nil {
				return
			}

			var ev *zerolog.Event
			if res.Success {
				ev = w.logger.Info()
			} else {
				ev = w.logger.Warn()
			}

			ev.Str("protocol_type", res.ProtocolType).
				Uint64("revision", revision).
				Str("state", string(res.State)).
				Str("error_kind", string(res.ErrorKind)).
				Msg(res.Message)
		}(h)
	}
}
