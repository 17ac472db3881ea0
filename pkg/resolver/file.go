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

package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var errOutsideRoot = errors.New("path escapes resolver root")

// FileResolver reads bundles from the local filesystem. When Root is set,
// relative paths are resolved under it and may not escape it.
type FileResolver struct {
	Root string
}

// NewFileResolver creates a file resolver rooted at root.
func NewFileResolver(root string) *FileResolver {
	return &FileResolver{Root: root}
}

func (f *FileResolver) path(ref string) (string, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	if r.Scheme != SchemeFile {
		return "", fmt.Errorf("%w: %q", errUnsupportedScheme, r.Scheme)
	}

	p := filepath.Clean(r.Path)
	if f.Root == "" || filepath.IsAbs(p) {
		return p, nil
	}

	root := filepath.Clean(f.Root)
	joined := filepath.Join(root, p)

	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %w: %s", ErrInvalidRef, errOutsideRoot, ref)
	}

	return joined, nil
}

// Exists reports whether ref names a readable regular file.
func (f *FileResolver) Exists(_ context.Context, ref string) (bool, error) {
	p, err := f.path(ref)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}

	fh, err := os.Open(p)
	if err != nil {
		return false, nil //nolint:nilerr // unreadable counts as absent
	}

	_ = fh.Close()

	return true, nil
}

// Fetch reads the whole file.
func (f *FileResolver) Fetch(_ context.Context, ref string) ([]byte, error) {
	p, err := f.path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(ref)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	return data, nil
}
