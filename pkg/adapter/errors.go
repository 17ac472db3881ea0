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
)

// Update pipeline error kinds. Stage failures wrap exactly one of these.
var (
	ErrParameter         = errors.New("invalid parameter")
	ErrModuleIntegrity   = errors.New("module integrity check failed")
	ErrLoad              = errors.New("module load failed")
	ErrValidation        = errors.New("validation failed")
	ErrApply             = errors.New("configuration apply failed")
	ErrSwap              = errors.New("registry swap failed")
	ErrBackupUnavailable = errors.New("backup unavailable")
)

// Kind is the stable name of an error kind surfaced to callers.
type Kind string

const (
	KindNone              Kind = ""
	KindParameter         Kind = "ParameterError"
	KindModuleIntegrity   Kind = "ModuleIntegrityError"
	KindLoad              Kind = "LoadError"
	KindValidation        Kind = "ValidationError"
	KindApply             Kind = "ApplyError"
	KindSwap              Kind = "SwapError"
	KindBackupUnavailable Kind = "BackupUnavailableError"
	KindInternal          Kind = "InternalError"
)

//nolint:gochecknoglobals // fixed lookup table
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrParameter, KindParameter},
	{ErrModuleIntegrity, KindModuleIntegrity},
	{ErrLoad, KindLoad},
	{ErrValidation, KindValidation},
	{ErrApply, KindApply},
	{ErrSwap, KindSwap},
	{ErrBackupUnavailable, KindBackupUnavailable},
}

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return KindInternal
}

// SentinelFor returns the sentinel error for kind, or nil.
func SentinelFor(kind Kind) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}

	return nil
}
