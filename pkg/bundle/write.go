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
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
)

// Write encodes a bundle archive with the manifest and the given units.
// Unit names are written in sorted order so output is deterministic.
func Write(w io.Writer, m Manifest, units map[string][]byte) error {
	zw := zip.NewWriter(w)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := writeMember(zw, ManifestName, manifest); err != nil {
		return err
	}

	for _, name := range slices.Sorted(maps.Keys(units)) {
		if err := writeMember(zw, name, units[name]); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize bundle: %w", err)
	}

	return nil
}

// Build returns the encoded bundle bytes.
func Build(m Manifest, units map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, m, units); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeMember(zw *zip.Writer, name string, content []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}

	if _, err := fw.Write(content); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}
