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

import "context"

// promise resolves exactly once.
type promise[T any] struct {
	done   chan struct{}
	result T
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{done: make(chan struct{})}
}

func (p *promise[T]) resolve(v T) {
	p.result = v
	close(p.done)
}

// Done is closed once the result is available.
func (p *promise[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the result is available or ctx is done. Giving up on
// ctx does not stop the underlying work.
func (p *promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the result without blocking.
func (p *promise[T]) Result() (T, bool) {
	select {
	case <-p.done:
		return p.result, true
	default:
		var zero T
		return zero, false
	}
}

// Handle tracks a submitted update, config update or rollback.
type Handle struct {
	*promise[UpdateResult]
	protocolType string
}

// ProtocolType returns the protocol type the operation targets.
func (h *Handle) ProtocolType() string {
	return h.protocolType
}

func newHandle(protocolType string) *Handle {
	return &Handle{promise: newPromise[UpdateResult](), protocolType: protocolType}
}

func resolvedHandle(res UpdateResult) *Handle {
	h := newHandle(res.ProtocolType)
	h.resolve(res)

	return h
}

// CleanupResult is the outcome of a housekeeping run.
type CleanupResult struct {
	Removed int
	Err     error
}

// CleanupHandle tracks a housekeeping run.
type CleanupHandle struct {
	*promise[CleanupResult]
}
