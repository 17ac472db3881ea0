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

// Package reconcile drives the orchestrator from a desired-state document
// kept in a JetStream key-value bucket.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/configapply"
	"github.com/carverauto/adapterhub/pkg/registry"
)

var (
	errEmptyDocument     = errors.New("desired state document is empty")
	errInvalidDocument   = errors.New("desired state document is invalid")
	errDuplicateProtocol = errors.New("protocol type listed more than once")
)

// Desired lists the adapters that should be installed.
type Desired struct {
	Adapters []Adapter `json:"adapters" yaml:"adapters"`
}

// Adapter is one desired installation. An empty Version accepts whatever
// the module reports.
type Adapter struct {
	ProtocolType string         `json:"protocol_type" yaml:"protocol_type"`
	ModuleRef    string         `json:"module_ref" yaml:"module_ref"`
	ClassName    string         `json:"class_name" yaml:"class_name"`
	Version      string         `json:"version,omitempty" yaml:"version,omitempty"`
	Config       adapter.Config `json:"config,omitempty" yaml:"config,omitempty"`
}

// Parse decodes and checks a desired-state document.
func Parse(data []byte) (Desired, error) {
	var d Desired

	if len(strings.TrimSpace(string(data))) == 0 {
		return d, errEmptyDocument
	}

	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("%w: %w", errInvalidDocument, err)
	}

	seen := make(map[string]struct{}, len(d.Adapters))

	for i, a := range d.Adapters {
		switch {
		case strings.TrimSpace(a.ProtocolType) == "":
			return d, fmt.Errorf("%w: adapters[%d]: protocol_type is required", errInvalidDocument, i)
		case strings.TrimSpace(a.ModuleRef) == "":
			return d, fmt.Errorf("%w: adapters[%d]: module_ref is required", errInvalidDocument, i)
		case strings.TrimSpace(a.ClassName) == "":
			return d, fmt.Errorf("%w: adapters[%d]: class_name is required", errInvalidDocument, i)
		}

		if _, dup := seen[a.ProtocolType]; dup {
			return d, fmt.Errorf("%w: %s", errDuplicateProtocol, a.ProtocolType)
		}

		seen[a.ProtocolType] = struct{}{}
	}

	return d, nil
}

// Action is what reconciling one desired adapter requires.
type Action string

const (
	ActionNone   Action = "none"
	ActionModule Action = "module"
	ActionConfig Action = "config"
)

// Plan compares a desired adapter with the committed instance. The desired
// config is compared as the installed adapter would apply it, and a key
// present only on the installed side counts as a difference.
func Plan(want Adapter, have *registry.Instance) Action {
	switch {
	case have == nil,
		have.ModuleRef != want.ModuleRef,
		have.ClassName != want.ClassName,
		want.Version != "" && have.Version != want.Version:
		return ActionModule
	case !sameConfig(normalize(want.Config, have.Adapter), have.AppliedConfig):
		return ActionConfig
	default:
		return ActionNone
	}
}

// normalize coerces cfg to the schema ad declares and drops undeclared
// keys. Values that fail coercion are kept raw so the update reports them.
func normalize(cfg adapter.Config, ad adapter.Adapter) (out adapter.Config) {
	configurable, ok := ad.(adapter.Configurable)
	if !ok || len(cfg) == 0 {
		return cfg
	}

	defer func() {
		if r := recover(); r != nil {
			out = cfg
		}
	}()

	schema := configurable.ConfigSchema()
	out = make(adapter.Config, len(cfg))

	for key, raw := range cfg {
		field, ok := schema.Lookup(key)
		if !ok {
			continue
		}

		value, err := configapply.Coerce(field.Type, raw)
		if err != nil {
			value = raw
		}

		out[key] = value
	}

	return out
}

// sameConfig compares by JSON encoding so 9600 and 9600.0 are equal.
func sameConfig(a, b adapter.Config) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}

	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)

	return errA == nil && errB == nil && string(ea) == string(eb)
}
