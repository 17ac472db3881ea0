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

package store

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket used when none is configured.
const DefaultBucket = "adapter-configs"

// KVStore keeps entries in a JetStream key-value bucket, one key per
// protocol type.
type KVStore struct {
	kv jetstream.KeyValue
}

var _ ConfigStore = (*KVStore)(nil)

// NewKVStore creates the bucket if needed.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "last committed adapter configuration",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", bucket, err)
	}

	return &KVStore{kv: kv}, nil
}

// protocol types may contain characters KV keys reject.
func kvKey(protocolType string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(protocolType))
}

func (s *KVStore) Save(ctx context.Context, e Entry) error {
	e, err := prepare(e)
	if err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := s.kv.Put(ctx, kvKey(e.ProtocolType), data); err != nil {
		return fmt.Errorf("failed to put entry for %s: %w", e.ProtocolType, err)
	}

	return nil
}

func (s *KVStore) Load(ctx context.Context, protocolType string) (Entry, error) {
	kve, err := s.kv.Get(ctx, kvKey(protocolType))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, protocolType)
	}

	if err != nil {
		return Entry{}, fmt.Errorf("failed to get entry for %s: %w", protocolType, err)
	}

	var e Entry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal entry for %s: %w", protocolType, err)
	}

	return e, nil
}

func (s *KVStore) List(ctx context.Context) ([]Entry, error) {
	lister, err := s.kv.ListKeys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	defer func() { _ = lister.Stop() }()

	var out []Entry

	for key := range lister.Keys() {
		kve, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get key %s: %w", key, err)
		}

		var e Entry
		if err := json.Unmarshal(kve.Value(), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal key %s: %w", key, err)
		}

		out = append(out, e)
	}

	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.ProtocolType, b.ProtocolType) })

	return out, nil
}

// Close is a no-op; the connection belongs to the caller.
func (*KVStore) Close() error {
	return nil
}
