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

// Package events publishes update outcomes as CloudEvents on JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/adapterhub/pkg/history"
	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/models"
)

const (
	DefaultStream        = "ADAPTER_UPDATES"
	DefaultSubjectPrefix = "adapters.updates"

	eventSource       = "adapterhub/orchestrator"
	typeCommitted     = "com.carverauto.adapterhub.update.committed"
	typeFailed        = "com.carverauto.adapterhub.update.failed"
	suffixCommitted   = "committed"
	suffixFailed      = "failed"
	cloudEventVersion = "1.0"
)

var errNoJetStream = errors.New("jetstream context is required")

// Config names the stream and subject prefix for update events.
type Config struct {
	Stream        string `json:"stream" yaml:"stream"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}

	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}

	return c
}

// Publisher publishes one CloudEvent per terminal update attempt.
type Publisher struct {
	js     jetstream.JetStream
	cfg    Config
	logger logger.Logger
}

// NewPublisher ensures the stream exists and returns a publisher.
func NewPublisher(ctx context.Context, js jetstream.JetStream, cfg Config, log logger.Logger) (*Publisher, error) {
	if js == nil {
		return nil, errNoJetStream
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	cfg = cfg.withDefaults()

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	}); err != nil {
		return nil, fmt.Errorf("failed to create or update stream %s: %w", cfg.Stream, err)
	}

	return &Publisher{js: js, cfg: cfg, logger: log}, nil
}

// Subject returns the subject an event for rec is published on.
func (p *Publisher) Subject(rec history.Record) string {
	suffix := suffixFailed
	if rec.Succeeded() {
		suffix = suffixCommitted
	}

	return fmt.Sprintf("%s.%s.%s", p.cfg.SubjectPrefix, subjectToken(rec.ProtocolType), suffix)
}

// Publish sends rec as a CloudEvent. The record ID doubles as the message
// ID so redelivered publishes are deduplicated by the server.
func (p *Publisher) Publish(ctx context.Context, rec history.Record) error {
	eventType := typeFailed
	if rec.Succeeded() {
		eventType = typeCommitted
	}

	ts := rec.Timestamp
	event := models.CloudEvent{
		SpecVersion:     cloudEventVersion,
		ID:              rec.ID.String(),
		Source:          eventSource,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         p.Subject(rec),
		Time:            &ts,
		Data:            rec,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal update event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, payload, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish update event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", event.Subject).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("Published update event")

	return nil
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}

	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		default:
			return r
		}
	}, s)
}
