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

package configapply

import (
	"errors"
	"fmt"
	"slices"
)

var errNotAllowed = errors.New("value not allowed")

// FieldRule validates one coerced value.
type FieldRule func(value any) error

// RuleSet maps field names to rules for one protocol type.
type RuleSet map[string]FieldRule

// OneOf accepts only the listed values.
func OneOf[T comparable](allowed ...T) FieldRule {
	return func(value any) error {
		v, ok := value.(T)
		if ok && slices.Contains(allowed, v) {
			return nil
		}

		return fmt.Errorf("%w: %v not in %v", errNotAllowed, value, allowed)
	}
}

// Range accepts integers within [lo, hi].
func Range(lo, hi int) FieldRule {
	return func(value any) error {
		v, ok := value.(int)
		if ok && v >= lo && v <= hi {
			return nil
		}

		return fmt.Errorf("%w: %v outside [%d, %d]", errNotAllowed, value, lo, hi)
	}
}

// SerialRules constrains serial-line settings.
func SerialRules() RuleSet {
	return RuleSet{
		"baudRate": OneOf(300, 600, 1200, 2400, 4800, 9600, 19200, 38400),
		"dataBits": OneOf(7, 8),
		"stopBits": OneOf(1, 2),
	}
}

// ModbusRules constrains Modbus unit addressing on top of the serial set.
func ModbusRules() RuleSet {
	rules := SerialRules()
	rules["slaveAddress"] = Range(1, 247)
	rules["unitId"] = Range(0, 255)

	return rules
}

// NamedRuleSet returns a built-in rule set by name.
func NamedRuleSet(name string) (RuleSet, bool) {
	switch name {
	case "serial":
		return SerialRules(), true
	case "modbus":
		return ModbusRules(), true
	default:
		return nil, false
	}
}
