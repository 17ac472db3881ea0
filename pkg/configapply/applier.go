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

// Package configapply maps generic key/value configuration onto an
// adapter's declared schema and verifies that the values stuck.
package configapply

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/carverauto/adapterhub/pkg/adapter"
	"github.com/carverauto/adapterhub/pkg/logger"
)

var errUnset = errors.New("value not set")

// Outcome is the result of a configuration stage.
type Outcome struct {
	Success bool
	Message string
	Err     error
	// Applied holds the coerced values that were configured, keyed by field.
	Applied adapter.Config
}

func failed(err error) Outcome {
	return Outcome{Message: err.Error(), Err: err}
}

// Applier applies configuration using per-protocol rule sets.
type Applier struct {
	mu     sync.RWMutex
	rules  map[string]RuleSet
	logger logger.Logger
}

// New creates an applier with no rule sets.
func New(log logger.Logger) *Applier {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Applier{rules: make(map[string]RuleSet), logger: log}
}

// RegisterRules installs the rule set for protocolType, replacing any
// previous one.
func (a *Applier) RegisterRules(protocolType string, rules RuleSet) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rules[protocolType] = rules
}

func (a *Applier) rulesFor(protocolType string) RuleSet {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.rules[protocolType]
}

// Apply validates every known key and, only if all pass, configures the
// adapter. Unknown keys are logged and skipped.
func (a *Applier) Apply(_ context.Context, ad adapter.Adapter, protocolType string, cfg adapter.Config) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failed(fmt.Errorf("%w: panic while configuring: %v", adapter.ErrApply, r))
		}
	}()

	configurable, _ := ad.(adapter.Configurable)

	var schema adapter.Schema
	if configurable != nil {
		schema = configurable.ConfigSchema()
	}

	rules := a.rulesFor(protocolType)
	typed := make(adapter.Config, len(cfg))

	for _, key := range slices.Sorted(maps.Keys(cfg)) {
		field, ok := schema.Lookup(key)
		if !ok {
			a.logger.Warn().Str("protocol_type", protocolType).Str("field", key).
				Msg("Skipping configuration key not declared by adapter")

			continue
		}

		value, err := validateField(field, cfg[key], rules[key])
		if err != nil {
			return failed(err)
		}

		typed[key] = value
	}

	if len(typed) == 0 {
		return Outcome{Success: true, Message: "no configuration to apply", Applied: typed}
	}

	if err := configurable.Configure(typed.Clone()); err != nil {
		return failed(fmt.Errorf("%w: %w", adapter.ErrApply, err))
	}

	return Outcome{Success: true, Message: fmt.Sprintf("applied %d field(s)", len(typed)), Applied: typed}
}

func validateField(field adapter.Field, raw any, rule FieldRule) (any, error) {
	value, err := Coerce(field.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: field %s value %v: %w", adapter.ErrValidation, field.Name, raw, err)
	}

	if len(field.Allowed) > 0 && !allowed(field, value) {
		return nil, fmt.Errorf("%w: field %s value %v: %w: %v",
			adapter.ErrValidation, field.Name, raw, errNotAllowed, field.Allowed)
	}

	if rule != nil {
		if err := rule(value); err != nil {
			return nil, fmt.Errorf("%w: field %s value %v: %w", adapter.ErrValidation, field.Name, raw, err)
		}
	}

	return value, nil
}

func allowed(field adapter.Field, value any) bool {
	for _, candidate := range field.Allowed {
		c, err := Coerce(field.Type, candidate)
		if err == nil && c == value {
			return true
		}
	}

	return false
}

// Verify re-reads each applied field and compares it with the expected
// value after coercion to the declared type.
func (*Applier) Verify(_ context.Context, ad adapter.Adapter, applied adapter.Config) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failed(fmt.Errorf("%w: panic while verifying: %v", adapter.ErrApply, r))
		}
	}()

	if len(applied) == 0 {
		return Outcome{Success: true, Message: "nothing to verify", Applied: applied}
	}

	configurable, ok := ad.(adapter.Configurable)
	if !ok {
		return failed(fmt.Errorf("%w: adapter has no configuration surface", adapter.ErrApply))
	}

	schema := configurable.ConfigSchema()

	for _, key := range slices.Sorted(maps.Keys(applied)) {
		expected := applied[key]

		actual, ok := configurable.ConfigValue(key)
		if !ok {
			return failed(fmt.Errorf("%w: field %s expected %v, actual %w",
				adapter.ErrApply, key, expected, errUnset))
		}

		if !matches(schema, key, expected, actual) {
			return failed(fmt.Errorf("%w: field %s expected %v, actual %v",
				adapter.ErrApply, key, expected, actual))
		}
	}

	return Outcome{Success: true, Message: fmt.Sprintf("verified %d field(s)", len(applied)), Applied: applied}
}

func matches(schema adapter.Schema, key string, expected, actual any) bool {
	field, ok := schema.Lookup(key)
	if !ok {
		return reflect.DeepEqual(expected, actual)
	}

	got, err := Coerce(field.Type, actual)
	if err != nil {
		return false
	}

	want, err := Coerce(field.Type, expected)
	if err != nil {
		return false
	}

	return got == want
}
