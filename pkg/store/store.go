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

// Package store persists the last committed configuration per protocol
// type so adapters can be reinstalled at boot.
package store

//go:generate mockgen -destination=mock_store.go -package=store github.com/carverauto/adapterhub/pkg/store ConfigStore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

var (
	// ErrNotFound is returned by Load when nothing is stored.
	ErrNotFound = errors.New("config entry not found")

	errProtocolTypeRequired = errors.New("protocol type is required")
	errUnknownBackend       = errors.New("unknown store backend")
)

// Entry is the persisted state of one committed adapter.
type Entry struct {
	ProtocolType string         `json:"protocol_type"`
	ModuleRef    string         `json:"module_ref"`
	ClassName    string         `json:"class_name"`
	Version      string         `json:"version"`
	Config       adapter.Config `json:"config,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ConfigStore saves and loads entries keyed by protocol type.
type ConfigStore interface {
	Save(ctx context.Context, e Entry) error
	Load(ctx context.Context, protocolType string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

func prepare(e Entry) (Entry, error) {
	if e.ProtocolType == "" {
		return e, errProtocolTypeRequired
	}

	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}

	return e, nil
}

func encodeConfig(cfg adapter.Config) ([]byte, error) {
	if cfg == nil {
		cfg = adapter.Config{}
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return data, nil
}

func decodeConfig(data []byte) (adapter.Config, error) {
	if len(data) == 0 {
		return adapter.Config{}, nil
	}

	var cfg adapter.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
