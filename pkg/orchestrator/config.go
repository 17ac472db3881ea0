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

package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/adapterhub/pkg/history"
	"github.com/carverauto/adapterhub/pkg/models"
)

const (
	defaultWorkers             = 4
	defaultHousekeepingWorkers = 1
	defaultArtifactTTL         = 24 * time.Hour
)

var (
	errNegativeWorkers = errors.New("worker counts must not be negative")
	errNegativeLimit   = errors.New("history limit must not be negative")
	errNegativeTTL     = errors.New("artifact ttl must not be negative")
)

// Config tunes the orchestrator. Zero values select defaults.
type Config struct {
	Workers             int             `json:"workers" yaml:"workers"`
	HousekeepingWorkers int             `json:"housekeeping_workers" yaml:"housekeeping_workers"`
	HistoryLimit        int             `json:"history_limit" yaml:"history_limit"`
	ArtifactTTL         models.Duration `json:"artifact_ttl" yaml:"artifact_ttl"`
}

// Validate rejects negative settings.
func (c *Config) Validate() error {
	if c.Workers < 0 || c.HousekeepingWorkers < 0 {
		return fmt.Errorf("%w: workers=%d housekeeping_workers=%d", errNegativeWorkers, c.Workers, c.HousekeepingWorkers)
	}

	if c.HistoryLimit < 0 {
		return fmt.Errorf("%w: %d", errNegativeLimit, c.HistoryLimit)
	}

	if c.ArtifactTTL < 0 {
		return fmt.Errorf("%w: %s", errNegativeTTL, c.ArtifactTTL.Std())
	}

	return nil
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}

	if c.HousekeepingWorkers == 0 {
		c.HousekeepingWorkers = defaultHousekeepingWorkers
	}

	if c.HistoryLimit == 0 {
		c.HistoryLimit = history.DefaultLimit
	}

	if c.ArtifactTTL == 0 {
		c.ArtifactTTL = models.Duration(defaultArtifactTTL)
	}

	return c
}
