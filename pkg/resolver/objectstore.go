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

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStoreResolver reads bundles from JetStream object store buckets
// using nats-obj://bucket/name references.
type ObjectStoreResolver struct {
	js jetstream.JetStream
}

// NewObjectStoreResolver creates a resolver over js.
func NewObjectStoreResolver(js jetstream.JetStream) *ObjectStoreResolver {
	return &ObjectStoreResolver{js: js}
}

func (o *ObjectStoreResolver) open(ctx context.Context, ref string) (jetstream.ObjectStore, Ref, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, Ref{}, err
	}

	if r.Scheme != SchemeObjectStore {
		return nil, Ref{}, fmt.Errorf("%w: %q", errUnsupportedScheme, r.Scheme)
	}

	store, err := o.js.ObjectStore(ctx, r.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, r, notFound(ref)
	}

	if err != nil {
		return nil, r, fmt.Errorf("failed to open object store %s: %w", r.Bucket, err)
	}

	return store, r, nil
}

// Exists checks the object's metadata.
func (o *ObjectStoreResolver) Exists(ctx context.Context, ref string) (bool, error) {
	store, r, err := o.open(ctx, ref)
	if errors.Is(err, ErrModuleNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	info, err := store.GetInfo(ctx, r.Path)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to stat object %s: %w", ref, err)
	}

	return !info.Deleted && info.Size > 0, nil
}

// Fetch downloads the object.
func (o *ObjectStoreResolver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	store, r, err := o.open(ctx, ref)
	if err != nil {
		return nil, err
	}

	data, err := store.GetBytes(ctx, r.Path)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, notFound(ref)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to download object %s: %w", ref, err)
	}

	return data, nil
}
