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

import "sync"

// serializer orders work per key. Each enqueue takes its place at call
// time and waits for the previous holder of that key to finish.
type serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newSerializer() *serializer {
	return &serializer{tails: make(map[string]chan struct{})}
}

// ticket is a place in a key's queue.
type ticket struct {
	s    *serializer
	key  string
	prev <-chan struct{}
	mine chan struct{}
}

func (s *serializer) enqueue(key string) *ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &ticket{s: s, key: key, prev: s.tails[key], mine: make(chan struct{})}
	s.tails[key] = t.mine

	return t
}

// wait blocks until every earlier ticket for the key is released.
func (t *ticket) wait() {
	if t.prev != nil {
		<-t.prev
	}
}

// release lets the next ticket proceed.
func (t *ticket) release() {
	t.s.mu.Lock()
	if t.s.tails[t.key] == t.mine {
		delete(t.s.tails, t.key)
	}
	t.s.mu.Unlock()

	close(t.mine)
}

func (s *serializer) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tails)
}
