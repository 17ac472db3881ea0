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
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/adapterhub/pkg/logger"
	"github.com/carverauto/adapterhub/pkg/models"
)

const (
	defaultPostgresPort = 5432

	postgresSchema = `
CREATE TABLE IF NOT EXISTS adapter_configs (
	protocol_type TEXT PRIMARY KEY,
	module_ref    TEXT NOT NULL,
	class_name    TEXT NOT NULL,
	version       TEXT NOT NULL,
	config        JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at    TIMESTAMPTZ NOT NULL
)`
)

var errPostgresHostRequired = errors.New("postgres host is required")

// PostgresConfig describes a Postgres connection.
type PostgresConfig struct {
	Host            string          `json:"host" yaml:"host"`
	Port            int             `json:"port" yaml:"port"`
	Database        string          `json:"database" yaml:"database"`
	Username        string          `json:"username" yaml:"username"`
	Password        string          `json:"password" yaml:"password"`
	SSLMode         string          `json:"ssl_mode" yaml:"ssl_mode"`
	ApplicationName string          `json:"application_name" yaml:"application_name"`
	MaxConns        int32           `json:"max_conns" yaml:"max_conns"`
	MaxConnLifetime models.Duration `json:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// ConnString renders cfg as a postgres:// URL.
func (c *PostgresConfig) ConnString() (string, error) {
	if c.Host == "" {
		return "", errPostgresHostRequired
	}

	port := c.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + strconv.Itoa(port),
		Path:   "/" + c.Database,
	}

	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}

	q := u.Query()

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	q.Set("sslmode", sslMode)

	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// pgxQuerier is the subset of *pgxpool.Pool the store uses.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps entries in a Postgres table.
type PostgresStore struct {
	pool pgxQuerier
}

var _ ConfigStore = (*PostgresStore)(nil)

// NewPostgresStore dials Postgres and migrates the schema.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig, log logger.Logger) (*PostgresStore, error) {
	connString, err := cfg.ConnString()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime.Std()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to initialize pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if log != nil {
		log.Info().Str("host", cfg.Host).Int32("max_conns", poolConfig.MaxConns).Msg("Connected to Postgres config store")
	}

	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: failed to migrate: %w", err)
	}

	return nil
}

func (s *PostgresStore) Save(ctx context.Context, e Entry) error {
	e, err := prepare(e)
	if err != nil {
		return err
	}

	cfg, err := encodeConfig(e.Config)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO adapter_configs (protocol_type, module_ref, class_name, version, config, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (protocol_type) DO UPDATE SET
			module_ref = EXCLUDED.module_ref,
			class_name = EXCLUDED.class_name,
			version = EXCLUDED.version,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at`,
		e.ProtocolType, e.ModuleRef, e.ClassName, e.Version, string(cfg), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to save entry for %s: %w", e.ProtocolType, err)
	}

	return nil
}

func scanPostgresEntry(row pgx.Row) (Entry, error) {
	var (
		e   Entry
		cfg []byte
		ts  time.Time
	)

	if err := row.Scan(&e.ProtocolType, &e.ModuleRef, &e.ClassName, &e.Version, &cfg, &ts); err != nil {
		return Entry{}, err
	}

	var err error
	if e.Config, err = decodeConfig(cfg); err != nil {
		return Entry{}, err
	}

	e.UpdatedAt = ts.UTC()

	return e, nil
}

func (s *PostgresStore) Load(ctx context.Context, protocolType string) (Entry, error) {
	e, err := scanPostgresEntry(s.pool.QueryRow(ctx, `
		SELECT protocol_type, module_ref, class_name, version, config, updated_at
		FROM adapter_configs WHERE protocol_type = $1`, protocolType))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, protocolType)
	}

	if err != nil {
		return Entry{}, fmt.Errorf("postgres: failed to load entry for %s: %w", protocolType, err)
	}

	return e, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT protocol_type, module_ref, class_name, version, config, updated_at
		FROM adapter_configs ORDER BY protocol_type`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entry: %w", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
