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
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/models"
)

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultMaxElapsed     = 30 * time.Second
)

// RetryConfig tunes the exponential backoff applied to transient errors.
type RetryConfig struct {
	InitialInterval models.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     models.Duration `json:"max_interval" yaml:"max_interval"`
	MaxElapsed      models.Duration `json:"max_elapsed" yaml:"max_elapsed"`
	MaxTries        uint            `json:"max_tries" yaml:"max_tries"`
}

// Retrying retries transient resolver errors. Not-found, malformed
// references and context errors are returned immediately.
type Retrying struct {
	next   Resolver
	cfg    RetryConfig
	logger logger.Logger
}

// NewRetrying wraps next.
func NewRetrying(next Resolver, cfg RetryConfig, log logger.Logger) *Retrying {
	return &Retrying{next: next, cfg: cfg, logger: log}
}

func (r *Retrying) options() []backoff.RetryOption {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval.OrDefault(defaultInitialBackoff)
	bo.MaxInterval = r.cfg.MaxInterval.OrDefault(defaultMaxBackoff)
	bo.Multiplier = 1.6
	bo.RandomizationFactor = 0.2

	opts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(r.cfg.MaxElapsed.OrDefault(defaultMaxElapsed)),
	}

	if r.cfg.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(r.cfg.MaxTries))
	}

	return opts
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrModuleNotFound) ||
		errors.Is(err, ErrInvalidRef) ||
		errors.Is(err, errUnsupportedScheme) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func retry[T any](ctx context.Context, r *Retrying, op string, ref string, fn func() (T, error)) (T, error) {
	attempt := 0

	operation := func() (T, error) {
		attempt++

		v, err := fn()
		if err == nil {
			return v, nil
		}

		if isPermanent(err) {
			return v, backoff.Permanent(err)
		}

		r.logger.Warn().Err(err).Str("op", op).Str("module_ref", ref).Int("attempt", attempt).
			Msg("Transient resolver error, retrying")

		return v, err
	}

	return backoff.Retry(ctx, operation, r.options()...)
}

func (r *Retrying) Exists(ctx context.Context, ref string) (bool, error) {
	return retry(ctx, r, "exists", ref, func() (bool, error) {
		return r.next.Exists(ctx, ref)
	})
}

func (r *Retrying) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return retry(ctx, r, "fetch", ref, func() ([]byte, error) {
		return r.next.Fetch(ctx, ref)
	})
}
