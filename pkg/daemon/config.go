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

// Package daemon wires the orchestrator to its resolvers, stores, event
// stream, desired-state watch and health surface.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/carverauto/adapterhub/pkg/configapply"
	"github.com/carverauto/adapterhub/pkg/events"
	"github.com/carverauto/adapterhub/pkg/lifecycle"
	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/models"
	"github.com/carverauto/adapterhub/pkg/natsutil"
	"github.com/carverauto/adapterhub/pkg/orchestrator"
	"github.com/carverauto/adapterhub/pkg/reconcile"
	"github.com/carverauto/adapterhub/pkg/resolver"
	"github.com/carverauto/adapterhub/pkg/store"
)

const (
	defaultHousekeepingInterval = time.Hour
	defaultShutdownTimeout      = 30 * time.Second
)

var (
	errNATSRequired    = errors.New("nats connection settings are required")
	errUnknownRuleSet  = errors.New("unknown rule set")
	errBootIncomplete  = errors.New("boot adapter needs protocol_type, module_ref and class_name")
	errNegativeTimeout = errors.New("intervals must not be negative")
)

// ResolverConfig selects the module sources.
type ResolverConfig struct {
	// FileRoot anchors relative file references.
	FileRoot string               `json:"file_root" yaml:"file_root"`
	S3       *resolver.S3Config   `json:"s3,omitempty" yaml:"s3,omitempty"`
	Retry    resolver.RetryConfig `json:"retry" yaml:"retry"`
}

// EventsConfig enables the update event stream.
type EventsConfig struct {
	events.Config `yaml:",inline"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ReconcileConfig enables the desired-state watch.
type ReconcileConfig struct {
	reconcile.Config `yaml:",inline"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Config is the adapterd configuration file.
type Config struct {
	Orchestrator         orchestrator.Config       `json:"orchestrator" yaml:"orchestrator"`
	StagingDir           string                    `json:"staging_dir" yaml:"staging_dir"`
	HousekeepingInterval models.Duration           `json:"housekeeping_interval" yaml:"housekeeping_interval"`
	ShutdownTimeout      models.Duration           `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	HealthListenAddr     string                    `json:"health_listen_addr" yaml:"health_listen_addr"`
	Logging              *logger.Config            `json:"logging,omitempty" yaml:"logging,omitempty"`
	Telemetry            lifecycle.TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	NATS                 *natsutil.Config          `json:"nats,omitempty" yaml:"nats,omitempty"`
	Resolver             ResolverConfig            `json:"resolver" yaml:"resolver"`
	Store                store.Config              `json:"store" yaml:"store"`
	Events               EventsConfig              `json:"events" yaml:"events"`
	Reconcile            ReconcileConfig           `json:"reconcile" yaml:"reconcile"`
	// Rules maps protocol types to built-in rule set names.
	Rules map[string]string `json:"rules,omitempty" yaml:"rules,omitempty"`
	// Boot adapters are installed at startup unless already restored from
	// the store.
	Boot []reconcile.Adapter `json:"boot_adapters,omitempty" yaml:"boot_adapters,omitempty"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}

	if err := c.Store.Validate(); err != nil {
		return err
	}

	if c.HousekeepingInterval < 0 || c.ShutdownTimeout < 0 {
		return errNegativeTimeout
	}

	needsNATS := c.Store.Backend == store.BackendNATS || c.Events.Enabled || c.Reconcile.Enabled
	if needsNATS && !c.NATS.Enabled() {
		return fmt.Errorf("%w: store backend %q, events %t, reconcile %t",
			errNATSRequired, c.Store.Backend, c.Events.Enabled, c.Reconcile.Enabled)
	}

	for pt, name := range c.Rules {
		if _, ok := configapply.NamedRuleSet(name); !ok {
			return fmt.Errorf("%w: %q for %s", errUnknownRuleSet, name, pt)
		}
	}

	for i, a := range c.Boot {
		if strings.TrimSpace(a.ProtocolType) == "" || strings.TrimSpace(a.ModuleRef) == "" ||
			strings.TrimSpace(a.ClassName) == "" {
			return fmt.Errorf("%w: boot_adapters[%d]", errBootIncomplete, i)
		}
	}

	return nil
}

func (c Config) withDefaults() Config {
	if c.StagingDir == "" {
		c.StagingDir = filepath.Join(os.TempDir(), "adapterhub-staging")
	}

	if c.HousekeepingInterval == 0 {
		c.HousekeepingInterval = models.Duration(defaultHousekeepingInterval)
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = models.Duration(defaultShutdownTimeout)
	}

	return c
}
