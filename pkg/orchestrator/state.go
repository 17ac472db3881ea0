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
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

// State is a pipeline state.
type State string

const (
	StateIdle        State = "Idle"
	StateValidating  State = "Validating"
	StateLoading     State = "Loading"
	StateConfiguring State = "Configuring"
	StateVerifying   State = "Verifying"
	StateSwapping    State = "Swapping"
	StateCommitted   State = "Committed"
	StateFailed      State = "Failed"
)

// Terminal reports whether s ends a pipeline.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// stageKinds maps each working state to the error kind its failures carry
// when the stage did not classify them itself.
//
//nolint:gochecknoglobals // fixed lookup table
var stageKinds = map[State]error{
	StateValidating:  adapter.ErrParameter,
	StateLoading:     adapter.ErrLoad,
	StateConfiguring: adapter.ErrApply,
	StateVerifying:   adapter.ErrApply,
	StateSwapping:    adapter.ErrSwap,
}

const (
	// VersionUnknown is reported when no adapter is installed.
	VersionUnknown = "UNKNOWN"
	// VersionError is reported when the installed adapter fails to report
	// its identity.
	VersionError = "ERROR"
)

// VersionInfo is the identity of the adapter serving a protocol type.
type VersionInfo struct {
	ProtocolType string    `json:"protocol_type"`
	Version      string    `json:"version"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	AsOf         time.Time `json:"as_of"`
}

// UpdateResult is the terminal outcome of a submitted operation.
type UpdateResult struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	ProtocolType string       `json:"protocol_type"`
	Version      string       `json:"version,omitempty"`
	State        State        `json:"state"`
	ErrorKind    adapter.Kind `json:"error_kind,omitempty"`
	RecordID     uuid.UUID    `json:"record_id"`
	// Err is the classified error; nil on success.
	Err error `json:"-"`
}
