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

// Package history keeps a bounded, per-protocol-type log of update attempts.
// It is the source of truth for rollback.
package history

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

// DefaultLimit is the number of records kept per protocol type.
const DefaultLimit = 50

// Kind is the kind of update an attempt performed.
type Kind string

const (
	KindModule   Kind = "module"
	KindConfig   Kind = "config"
	KindRollback Kind = "rollback"
)

// Outcome is the terminal result of an attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Record describes one update attempt. Records are copied on the way in
// and out so callers never share maps with the log.
type Record struct {
	ID             uuid.UUID      `json:"id"`
	ProtocolType   string         `json:"protocol_type"`
	Kind           Kind           `json:"kind"`
	ModuleRef      string         `json:"module_ref,omitempty"`
	ClassName      string         `json:"class_name,omitempty"`
	Version        string         `json:"version,omitempty"`
	PreviousConfig adapter.Config `json:"previous_config,omitempty"`
	AppliedConfig  adapter.Config `json:"applied_config,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Outcome        Outcome        `json:"outcome"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	ErrorKind      adapter.Kind   `json:"error_kind,omitempty"`
	// State is the pipeline state the attempt ended in.
	State string `json:"state"`
}

// Succeeded reports whether the attempt committed.
func (r Record) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

func (r Record) clone() Record {
	r.PreviousConfig = r.PreviousConfig.Clone()
	r.AppliedConfig = r.AppliedConfig.Clone()

	return r
}

// History is safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	limit   int
	records map[string][]Record
}

// New returns a history keeping limit records per protocol type. A
// non-positive limit means DefaultLimit.
func New(limit int) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &History{limit: limit, records: make(map[string][]Record)}
}

// Limit returns the per-protocol-type cap.
func (h *History) Limit() int {
	return h.limit
}

// Append adds rec under protocolType, evicting the oldest record first when
// the log is full. Missing IDs and timestamps are filled in; the stored
// record is returned.
func (h *History) Append(protocolType string, rec Record) Record {
	rec = rec.clone()
	rec.ProtocolType = protocolType

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.records[protocolType]
	if len(list) >= h.limit {
		list = slices.Delete(list, 0, len(list)-h.limit+1)
	}

	h.records[protocolType] = append(list, rec)

	return rec.clone()
}

// Latest returns the most recent record for protocolType.
func (h *History) Latest(protocolType string) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.records[protocolType]
	if len(list) == 0 {
		return Record{}, false
	}

	return list[len(list)-1].clone(), true
}

// Find scans newest to oldest for a successful record reporting version.
// Failed attempts never name a restorable state, so they are skipped.
func (h *History) Find(protocolType, version string) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.records[protocolType]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Version == version && list[i].Succeeded() {
			return list[i].clone(), true
		}
	}

	return Record{}, false
}

// List returns the records for protocolType, oldest first.
func (h *History) List(protocolType string) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.records[protocolType]
	out := make([]Record, len(list))

	for i := range list {
		out[i] = list[i].clone()
	}

	return out
}

// ProtocolTypes returns every protocol type with at least one record.
func (h *History) ProtocolTypes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.records))
	for pt := range h.records {
		out = append(out, pt)
	}

	slices.Sort(out)

	return out
}
