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

// Package config loads daemon configuration from files and the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/carverauto/adapterhub/pkg/logger"
)

// DefaultEnvPrefix is prepended to every environment override.
const DefaultEnvPrefix = "ADAPTERHUB_"

var (
	errLoadConfigFailed = errors.New("failed to load configuration")
	errInvalidConfigPtr = errors.New("config must be a non-nil pointer")
)

// ConfigLoader populates dst from a source identified by path.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configuration types that can check themselves.
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	file   ConfigLoader
	env    ConfigLoader
	logger logger.Logger
}

// NewConfig returns a loader that reads a file, overlays the environment
// using prefix, then validates.
func NewConfig(log logger.Logger, prefix string) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		file:   &FileConfigLoader{logger: log},
		env:    NewEnvConfigLoader(log, prefix),
		logger: log,
	}
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate loads path into cfg, applies environment overrides and
// validates the result. An empty path skips the file step.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	if path != "" {
		if err := c.file.Load(ctx, path, cfg); err != nil {
			return fmt.Errorf("%w: %w", errLoadConfigFailed, err)
		}
	}

	if err := c.env.Load(ctx, path, cfg); err != nil {
		return fmt.Errorf("%w: %w", errLoadConfigFailed, err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	c.logger.Debug().Str("path", path).Msg("Configuration loaded")

	return nil
}

// Load is a convenience wrapper using DefaultEnvPrefix.
func Load(ctx context.Context, log logger.Logger, path string, cfg interface{}) error {
	return NewConfig(log, DefaultEnvPrefix).LoadAndValidate(ctx, path, cfg)
}
