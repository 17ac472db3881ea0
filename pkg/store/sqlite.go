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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS adapter_configs (
	protocol_type TEXT PRIMARY KEY,
	module_ref    TEXT NOT NULL,
	class_name    TEXT NOT NULL,
	version       TEXT NOT NULL,
	config        TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);`

// SQLiteStore keeps entries in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ ConfigStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, e Entry) error {
	e, err := prepare(e)
	if err != nil {
		return err
	}

	cfg, err := encodeConfig(e.Config)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO adapter_configs (protocol_type, module_ref, class_name, version, config, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(protocol_type) DO UPDATE SET
			module_ref = excluded.module_ref,
			class_name = excluded.class_name,
			version = excluded.version,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		e.ProtocolType, e.ModuleRef, e.ClassName, e.Version, string(cfg), e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save entry for %s: %w", e.ProtocolType, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e         Entry
		cfg       string
		updatedAt string
	)

	if err := row.Scan(&e.ProtocolType, &e.ModuleRef, &e.ClassName, &e.Version, &cfg, &updatedAt); err != nil {
		return Entry{}, err
	}

	var err error
	if e.Config, err = decodeConfig([]byte(cfg)); err != nil {
		return Entry{}, err
	}

	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Entry{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return e, nil
}

func (s *SQLiteStore) Load(ctx context.Context, protocolType string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT protocol_type, module_ref, class_name, version, config, updated_at
		FROM adapter_configs WHERE protocol_type = ?`, protocolType)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, protocolType)
	}

	if err != nil {
		return Entry{}, fmt.Errorf("failed to load entry for %s: %w", protocolType, err)
	}

	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT protocol_type, module_ref, class_name, version, config, updated_at
		FROM adapter_configs ORDER BY protocol_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
