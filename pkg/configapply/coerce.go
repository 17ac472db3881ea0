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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

var errCoerce = errors.New("cannot convert value")

// Coerce converts v to the Go type backing t: int, float64, string or bool.
// Integral JSON numbers and numeric strings are accepted for numeric types.
func Coerce(t adapter.FieldType, v any) (any, error) {
	switch t {
	case adapter.FieldInt:
		return toInt(v)
	case adapter.FieldFloat:
		return toFloat(v)
	case adapter.FieldString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T) to string", errCoerce, v, v)
		}

		return s, nil
	case adapter.FieldBool:
		return toBool(v)
	default:
		return nil, fmt.Errorf("%w: unknown field type %q", errCoerce, t)
	}
}

func toInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint:
		if n > math.MaxInt {
			return nil, fmt.Errorf("%w: %v overflows int", errCoerce, n)
		}

		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return nil, fmt.Errorf("%w: %v overflows int", errCoerce, n)
		}

		return int(n), nil
	case float32:
		return integral(float64(n), v)
	case float64:
		return integral(n, v)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v to int", errCoerce, v)
		}

		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil, fmt.Errorf("%w: %q to int", errCoerce, n)
		}

		return i, nil
	default:
		return nil, fmt.Errorf("%w: %v (%T) to int", errCoerce, v, v)
	}
}

func integral(f float64, orig any) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%w: %v to int", errCoerce, orig)
	}

	return int(f), nil
}

func toFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v to float", errCoerce, v)
		}

		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q to float", errCoerce, n)
		}

		return f, nil
	default:
		return nil, fmt.Errorf("%w: %v (%T) to float", errCoerce, v, v)
	}
}

func toBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil, fmt.Errorf("%w: %q to bool", errCoerce, b)
		}

		return parsed, nil
	default:
		return nil, fmt.Errorf("%w: %v (%T) to bool", errCoerce, v, v)
	}
}
