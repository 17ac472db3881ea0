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

// Package natsutil opens NATS connections and JetStream contexts shared by
// the resolver, store, events and reconcile components.
package natsutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/adapterhub/pkg/logger"
)

var errURLRequired = errors.New("nats url is required")

// TLSConfig points at PEM files for mutual TLS.
type TLSConfig struct {
	CAFile   string `json:"ca_file" yaml:"ca_file"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
}

// Config describes how to reach a NATS server.
type Config struct {
	URL       string     `json:"url" yaml:"url"`
	Domain    string     `json:"domain,omitempty" yaml:"domain,omitempty"`
	CredsFile string     `json:"creds_file,omitempty" yaml:"creds_file,omitempty"`
	TLS       *TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// Enabled reports whether a URL is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.URL != ""
}

// Conn bundles a connection and its JetStream context.
type Conn struct {
	NC *nats.Conn
	JS jetstream.JetStream
}

// Close drains the connection.
func (c *Conn) Close() {
	if c == nil || c.NC == nil {
		return
	}

	if err := c.NC.Drain(); err != nil {
		c.NC.Close()
	}
}

// Connect dials NATS with logging handlers and opens JetStream, honoring
// an optional domain.
func Connect(_ context.Context, cfg *Config, name string, log logger.Logger, extraOpts ...nats.Option) (*Conn, error) {
	if !cfg.Enabled() {
		return nil, errURLRequired
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	if cfg.TLS != nil {
		if cfg.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
		}

		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
		}
	}

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	var js jetstream.JetStream
	if cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, cfg.Domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Str("name", name).Msg("Connected to NATS")

	return &Conn{NC: nc, JS: js}, nil
}
