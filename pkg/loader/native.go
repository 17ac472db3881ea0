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

package loader

import (
	"context"
	"fmt"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

// nativeFactory constructs, feeds the unit and initializes a fresh instance
// per call. Panics become adapter.ErrLoad.
func nativeFactory(ctor adapter.Constructor, unit []byte) adapter.Factory {
	return func(ctx context.Context) (a adapter.Adapter, err error) {
		defer func() {
			if r := recover(); r != nil {
				if a != nil {
					_ = SafeDestroy(ctx, a)
				}

				a = nil
				err = fmt.Errorf("%w: panic during construction: %v", adapter.ErrLoad, r)
			}
		}()

		a = ctor()
		if a == nil {
			return nil, fmt.Errorf("%w: %w", adapter.ErrLoad, errNilAdapter)
		}

		if ul, ok := a.(adapter.UnitLoader); ok {
			if err := ul.LoadUnit(unit); err != nil {
				return nil, fmt.Errorf("%w: load unit: %w", adapter.ErrLoad, err)
			}
		}

		if err := a.Initialize(ctx); err != nil {
			_ = SafeDestroy(ctx, a)
			return nil, fmt.Errorf("%w: initialize: %w", adapter.ErrLoad, err)
		}

		return a, nil
	}
}
