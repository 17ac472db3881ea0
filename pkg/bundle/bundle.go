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

// Package bundle reads and writes module bundles: zip archives carrying a
// manifest.json descriptor and one or more loadable units.
package bundle

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

// ManifestName is the descriptor path inside a bundle.
const ManifestName = "manifest.json"

// maxUnitSize bounds a single decompressed archive member.
const maxUnitSize = 64 << 20

// Runtime selects how a unit is instantiated.
type Runtime string

const (
	RuntimeNative Runtime = "native"
	RuntimeWasm   Runtime = "wasm"
)

var (
	errEmpty          = errors.New("bundle is empty")
	errNotArchive     = errors.New("bundle is not a readable archive")
	errNoManifest     = errors.New("bundle has no " + ManifestName)
	errBadManifest    = errors.New("bundle manifest is invalid")
	errNoUnits        = errors.New("bundle has no loadable unit")
	errMissingUnit    = errors.New("manifest references a missing unit")
	errUnsafePath     = errors.New("archive member has an unsafe path")
	errMemberTooLarge = errors.New("archive member too large")
)

// Manifest describes the adapters a bundle provides.
type Manifest struct {
	Name     string  `json:"name"`
	Version  string  `json:"version"`
	Adapters []Entry `json:"adapters"`
}

// Entry describes one adapter class. For the wasm runtime the identity and
// schema fields are authoritative; native adapters report their own.
type Entry struct {
	Class        string         `json:"class"`
	Runtime      Runtime        `json:"runtime"`
	Unit         string         `json:"unit"`
	ProtocolType string         `json:"protocol_type,omitempty"`
	Version      string         `json:"version,omitempty"`
	Manufacturer string         `json:"manufacturer,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Config       adapter.Schema `json:"config,omitempty"`
}

// Identity returns the identity declared by the entry.
func (e Entry) Identity() adapter.Identity {
	return adapter.Identity{
		ProtocolType: e.ProtocolType,
		Version:      e.Version,
		Manufacturer: e.Manufacturer,
		Capabilities: append([]string(nil), e.Capabilities...),
	}
}

// Bundle is an opened, integrity-checked archive.
type Bundle struct {
	Manifest Manifest
	Digest   string
	units    map[string][]byte
}

// IsUnit reports whether name is a loadable unit.
func IsUnit(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".wasm" || ext == ".unit"
}

// Open parses data and checks integrity. Every failure wraps
// adapter.ErrModuleIntegrity.
func Open(data []byte) (*Bundle, error) {
	b, err := open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", adapter.ErrModuleIntegrity, err)
	}

	return b, nil
}

func open(data []byte) (*Bundle, error) {
	if len(data) == 0 {
		return nil, errEmpty
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %w", errUnsafePath, err)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotArchive, err)
	}

	if len(zr.File) == 0 {
		return nil, errEmpty
	}

	var (
		manifestRaw []byte
		units       = make(map[string][]byte)
	)

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		name, err := cleanName(f.Name)
		if err != nil {
			return nil, err
		}

		if name != ManifestName && !IsUnit(name) {
			continue
		}

		content, err := readMember(f)
		if err != nil {
			return nil, err
		}

		if name == ManifestName {
			manifestRaw = content
			continue
		}

		units[name] = content
	}

	if manifestRaw == nil {
		return nil, errNoManifest
	}

	var m Manifest
	if err := json.Unmarshal(manifestRaw, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadManifest, err)
	}

	if len(units) == 0 {
		return nil, errNoUnits
	}

	if err := checkEntries(m, units); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)

	return &Bundle{Manifest: m, Digest: hex.EncodeToString(sum[:]), units: units}, nil
}

func checkEntries(m Manifest, units map[string][]byte) error {
	if len(m.Adapters) == 0 {
		return fmt.Errorf("%w: no adapters declared", errBadManifest)
	}

	seen := make(map[string]struct{}, len(m.Adapters))

	for _, e := range m.Adapters {
		if e.Class == "" {
			return fmt.Errorf("%w: adapter entry without class", errBadManifest)
		}

		if _, dup := seen[e.Class]; dup {
			return fmt.Errorf("%w: duplicate class %s", errBadManifest, e.Class)
		}

		seen[e.Class] = struct{}{}

		switch e.Runtime {
		case RuntimeNative, RuntimeWasm:
		default:
			return fmt.Errorf("%w: class %s has unknown runtime %q", errBadManifest, e.Class, e.Runtime)
		}

		name, err := cleanName(e.Unit)
		if err != nil {
			return err
		}

		if _, ok := units[name]; !ok {
			return fmt.Errorf("%w: %s (class %s)", errMissingUnit, e.Unit, e.Class)
		}

		if err := e.Config.Check(); err != nil {
			return fmt.Errorf("%w: class %s: %w", errBadManifest, e.Class, err)
		}
	}

	return nil
}

func cleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", errUnsafePath, name)
	}

	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", errUnsafePath, name)
	}

	return cleaned, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errNotArchive, f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	content, err := io.ReadAll(io.LimitReader(rc, maxUnitSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errNotArchive, f.Name, err)
	}

	if len(content) > maxUnitSize {
		return nil, fmt.Errorf("%w: %s", errMemberTooLarge, f.Name)
	}

	return content, nil
}

// Entry returns the manifest entry for class.
func (b *Bundle) Entry(class string) (Entry, bool) {
	for _, e := range b.Manifest.Adapters {
		if e.Class == class {
			return e, true
		}
	}

	return Entry{}, false
}

// Unit returns the bytes of the entry's unit.
func (b *Bundle) Unit(e Entry) []byte {
	name, err := cleanName(e.Unit)
	if err != nil {
		return nil
	}

	return b.units[name]
}

// Units lists the unit paths present in the archive.
func (b *Bundle) Units() []string {
	names := make([]string, 0, len(b.units))
	for name := range b.units {
		names = append(names, name)
	}

	return names
}
