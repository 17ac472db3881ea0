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

package adapter

import (
	"errors"
	"fmt"
	"slices"
)

// FieldType is the declared type of a configuration field.
type FieldType string

const (
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldString FieldType = "string"
	FieldBool   FieldType = "bool"
)

var errUnknownFieldType = errors.New("unknown field type")

// Field declares one configurable value. Allowed, when set, restricts the
// field to an enumerated set.
type Field struct {
	Name    string    `json:"name"`
	Type    FieldType `json:"type"`
	Allowed []any     `json:"allowed,omitempty"`
}

// Schema is the configuration surface an adapter declares.
type Schema []Field

// Lookup returns the field named name.
func (s Schema) Lookup(name string) (Field, bool) {
	i := slices.IndexFunc(s, func(f Field) bool { return f.Name == name })
	if i < 0 {
		return Field{}, false
	}

	return s[i], true
}

// Names returns the declared field names in order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for _, f := range s {
		names = append(names, f.Name)
	}

	return names
}

// Check verifies every field has a name and a known type.
func (s Schema) Check() error {
	seen := make(map[string]struct{}, len(s))

	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("%w: field without name", errUnknownFieldType)
		}

		switch f.Type {
		case FieldInt, FieldFloat, FieldString, FieldBool:
		default:
			return fmt.Errorf("%w: %q for field %s", errUnknownFieldType, f.Type, f.Name)
		}

		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %s", errUnknownFieldType, f.Name)
		}

		seen[f.Name] = struct{}{}
	}

	return nil
}
