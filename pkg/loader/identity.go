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
	"errors"
	"fmt"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

var (
	errProtocolMismatch = errors.New("protocol type mismatch")
	errNoVersion        = errors.New("adapter reports no version")
	errNoManufacturer   = errors.New("adapter reports no manufacturer")
	errNoCapabilities   = errors.New("adapter reports no supported capabilities")
	errVersionMismatch  = errors.New("version mismatch")
)

// ValidateIdentity reads a's identity and checks it against the requested
// protocol type and, when non-empty, the expected version. A panicking
// identity getter is a load failure.
func ValidateIdentity(a adapter.Adapter, protocolType, expectedVersion string) (id adapter.Identity, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: identity panicked: %v", adapter.ErrLoad, r)
		}
	}()

	id = adapter.IdentityOf(a)

	switch {
	case id.ProtocolType != protocolType:
		return id, fmt.Errorf("%w: %w: expected %q, adapter reports %q",
			adapter.ErrValidation, errProtocolMismatch, protocolType, id.ProtocolType)
	case id.Version == "":
		return id, fmt.Errorf("%w: %w", adapter.ErrValidation, errNoVersion)
	case id.Manufacturer == "":
		return id, fmt.Errorf("%w: %w", adapter.ErrValidation, errNoManufacturer)
	case len(id.Capabilities) == 0:
		return id, fmt.Errorf("%w: %w", adapter.ErrValidation, errNoCapabilities)
	case expectedVersion != "" && id.Version != expectedVersion:
		return id, fmt.Errorf("%w: %w: expected %q, adapter reports %q",
			adapter.ErrValidation, errVersionMismatch, expectedVersion, id.Version)
	}

	return id, nil
}
