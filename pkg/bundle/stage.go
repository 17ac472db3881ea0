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

package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const stagedSuffix = ".bundle"

var errStagingDirRequired = errors.New("staging directory is required")

// Stager keeps copies of fetched bundles on local disk, keyed by digest.
type Stager struct {
	dir string
	now func() time.Time
}

// NewStager creates dir if needed.
func NewStager(dir string) (*Stager, error) {
	if dir == "" {
		return nil, errStagingDirRequired
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", dir, err)
	}

	return &Stager{dir: dir, now: time.Now}, nil
}

// Dir returns the staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage writes data under its digest and returns the staged path. An
// existing copy is refreshed rather than rewritten.
func (s *Stager) Stage(digest string, data []byte) (string, error) {
	target := filepath.Join(s.dir, digest+stagedSuffix)

	if _, err := os.Stat(target); err == nil {
		now := s.now()
		if err := os.Chtimes(target, now, now); err != nil {
			return "", fmt.Errorf("failed to refresh staged bundle: %w", err)
		}

		return target, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".stage-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staged bundle: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return "", fmt.Errorf("failed to write staged bundle: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to close staged bundle: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to publish staged bundle: %w", err)
	}

	return target, nil
}

// Cleanup removes staged artifacts whose modification time is older than
// maxAge. It returns how many files were removed.
func (s *Stager) Cleanup(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}

	removed := 0

	var errs []error

	for _, entry := range entries {
		if entry.IsDir() || !isStaged(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}

			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}

		removed++
	}

	return removed, errors.Join(errs...)
}

func isStaged(name string) bool {
	return strings.HasSuffix(name, stagedSuffix) || strings.HasPrefix(name, ".stage-")
}
