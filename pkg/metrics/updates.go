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

// Package metrics exposes OpenTelemetry instruments for adapter updates.
package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/adapterhub/pkg/history"
)

const (
	meterName = "adapterhub.orchestrator"

	metricUpdateAttemptsName   = "adapterhub_update_attempts_total"
	metricUpdateDurationName   = "adapterhub_update_duration_seconds"
	metricArtifactsRemovedName = "adapterhub_artifacts_removed_total"
	metricInstalledName        = "adapterhub_installed_adapters"
)

var errNilCounter = errors.New("installed counter function is nil")

// Recorder records update outcomes. The zero value is not usable; use
// NewRecorder.
type Recorder struct {
	attempts  metric.Int64Counter
	duration  metric.Float64Histogram
	artifacts metric.Int64Counter
	meter     metric.Meter

	installed atomic.Pointer[func() int]
	reg       metric.Registration
}

// NewRecorder creates instruments on meter, or on the global meter
// provider when meter is nil.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	r := &Recorder{meter: meter}

	var err error

	r.attempts, err = meter.Int64Counter(
		metricUpdateAttemptsName,
		metric.WithDescription("Adapter update attempts by protocol type, kind and outcome"),
	)
	if err != nil {
		return nil, err
	}

	r.duration, err = meter.Float64Histogram(
		metricUpdateDurationName,
		metric.WithDescription("Time from pipeline start to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	r.artifacts, err = meter.Int64Counter(
		metricArtifactsRemovedName,
		metric.WithDescription("Stale staged bundles removed by housekeeping"),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// RecordOutcome records one terminal update attempt.
func (r *Recorder) RecordOutcome(ctx context.Context, rec history.Record, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("protocol_type", rec.ProtocolType),
		attribute.String("kind", string(rec.Kind)),
		attribute.String("outcome", string(rec.Outcome)),
		attribute.String("error_kind", string(rec.ErrorKind)),
	)

	r.attempts.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordCleanup records removed staged artifacts.
func (r *Recorder) RecordCleanup(ctx context.Context, removed int) {
	if removed <= 0 {
		return
	}

	r.artifacts.Add(ctx, int64(removed))
}

// ObserveInstalled registers a gauge reporting count() installed adapters.
func (r *Recorder) ObserveInstalled(count func() int) error {
	if count == nil {
		return errNilCounter
	}

	if r.installed.Swap(&count) != nil {
		return nil
	}

	gauge, err := r.meter.Int64ObservableGauge(
		metricInstalledName,
		metric.WithDescription("Protocol types with a committed adapter"),
	)
	if err != nil {
		return err
	}

	r.reg, err = r.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if fn := r.installed.Load(); fn != nil {
			o.ObserveInt64(gauge, int64((*fn)()))
		}

		return nil
	}, gauge)

	return err
}

// Close unregisters gauge callbacks.
func (r *Recorder) Close() error {
	if r.reg == nil {
		return nil
	}

	return r.reg.Unregister()
}
