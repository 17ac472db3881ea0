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

//go:generate mockgen -destination=mock_resolver.go -package=resolver github.com/carverauto/adapterhub/pkg/resolver Resolver

// Package resolver turns module references into bundle bytes.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reference schemes.
const (
	SchemeFile        = "file"
	SchemeObjectStore = "nats-obj"
	SchemeS3          = "s3"
)

var (
	// ErrModuleNotFound is returned when a reference does not resolve.
	ErrModuleNotFound = errors.New("module not found")
	// ErrInvalidRef is returned for malformed references.
	ErrInvalidRef = errors.New("invalid module reference")

	errUnsupportedScheme = errors.New("unsupported module reference scheme")
)

// Resolver resolves module references. Exists is a cheap readability check;
// Fetch returns the full bundle bytes.
type Resolver interface {
	Exists(ctx context.Context, ref string) (bool, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Ref is a parsed module reference.
type Ref struct {
	Scheme string
	// Bucket is set for object store and S3 references.
	Bucket string
	// Path is the file path, object name or key.
	Path string
}

// ParseRef splits a reference. Bare paths are file references.
func ParseRef(ref string) (Ref, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Ref{}, fmt.Errorf("%w: empty", ErrInvalidRef)
	}

	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok {
		return Ref{Scheme: SchemeFile, Path: ref}, nil
	}

	scheme = strings.ToLower(scheme)

	switch scheme {
	case SchemeFile:
		if rest == "" {
			return Ref{}, fmt.Errorf("%w: %s", ErrInvalidRef, ref)
		}

		return Ref{Scheme: SchemeFile, Path: rest}, nil
	case SchemeObjectStore, SchemeS3:
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Ref{}, fmt.Errorf("%w: %s needs bucket and name", ErrInvalidRef, ref)
		}

		return Ref{Scheme: scheme, Bucket: bucket, Path: key}, nil
	default:
		return Ref{}, fmt.Errorf("%w: %q", errUnsupportedScheme, scheme)
	}
}

func (r Ref) String() string {
	if r.Scheme == SchemeFile {
		return r.Path
	}

	return r.Scheme + "://" + r.Bucket + "/" + r.Path
}

func notFound(ref string) error {
	return fmt.Errorf("%w: %s", ErrModuleNotFound, ref)
}
