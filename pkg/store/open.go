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

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/adapterhub/pkg/logger"
)

var (
	errSQLitePathRequired = errors.New("sqlite backend requires path")
	errJetStreamRequired  = errors.New("nats backend requires a JetStream connection")
)

// Backend names a ConfigStore implementation.
type Backend string

const (
	BackendNone     Backend = ""
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendNATS     Backend = "nats"
)

// Config selects and configures a backend.
type Config struct {
	Backend  Backend         `json:"backend" yaml:"backend"`
	Path     string          `json:"path,omitempty" yaml:"path,omitempty"`
	Bucket   string          `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Postgres *PostgresConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNone, BackendNATS:
		return nil
	case BackendSQLite:
		if c.Path == "" {
			return errSQLitePathRequired
		}

		return nil
	case BackendPostgres:
		if c.Postgres == nil || c.Postgres.Host == "" {
			return fmt.Errorf("store: %w", errPostgresHostRequired)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, c.Backend)
	}
}

// Open builds the configured store. It returns nil, nil for BackendNone.
// js is required for the NATS backend.
func Open(ctx context.Context, cfg *Config, js jetstream.JetStream, log logger.Logger) (ConfigStore, error) {
	if cfg == nil {
		return nil, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		s   ConfigStore
		err error
	)

	switch cfg.Backend {
	case BackendSQLite:
		s, err = NewSQLiteStore(ctx, filepath.Clean(cfg.Path))
	case BackendPostgres:
		s, err = NewPostgresStore(ctx, cfg.Postgres, log)
	case BackendNATS:
		if js == nil {
			return nil, errJetStreamRequired
		}

		s, err = NewKVStore(ctx, js, cfg.Bucket)
	default:
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return s, nil
}
