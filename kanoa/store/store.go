/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

// Package store persists instances, distros, cloud-init seeds and the audit
// log in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/mattn/go-sqlite3"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	sqliteDriver      = "sqlite3"
	sqliteBusyTimeout = 5000

	StoreDefaultMaxOpenConns = 16
)

const schema = `
CREATE TABLE IF NOT EXISTS distros (
    name         TEXT PRIMARY KEY,
    download_url TEXT NOT NULL,
    sha256sum    TEXT NOT NULL,
    min_size_gb  INTEGER NOT NULL,
    format       TEXT NOT NULL DEFAULT 'qcow2'
);

CREATE TABLE IF NOT EXISTS instances (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    host         TEXT NOT NULL,
    mac_address  TEXT NOT NULL,
    memory_mb    INTEGER NOT NULL,
    cpu_count    INTEGER NOT NULL,
    disk_size_gb INTEGER NOT NULL,
    volume_name  TEXT NOT NULL,
    distro       TEXT NOT NULL,
    status       TEXT NOT NULL,
    join_network BOOLEAN NOT NULL DEFAULT FALSE,
    sata         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_instances_distro ON instances (distro);

CREATE TABLE IF NOT EXISTS cloudconfig_seeds (
    instance_id TEXT PRIMARY KEY REFERENCES instances (id),
    user_data   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    op          TEXT NOT NULL,
    data        TEXT NOT NULL DEFAULT '',
    entity_id   TEXT NOT NULL DEFAULT '',
    entity_name TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs (kind, entity_id);
`

// Store is the relational state of the control plane.
type Store struct {
	sqldb *sql.DB
	db    *sqlair.DB
	clock clock.Clock
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		path, sqliteBusyTimeout)
}

// Open opens (and creates if needed) the database file at path and
// bootstraps its schema.
func Open(ctx context.Context, path string, maxOpenConns int, clk clock.Clock) (*Store, error) {
	if path == "" {
		return nil, errors.NotValidf("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Annotatef(err, "creating database directory")
	}

	sqldb, err := sql.Open(sqliteDriver, dsn(path))
	if err != nil {
		return nil, errors.Annotatef(err, "opening database %s", path)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = StoreDefaultMaxOpenConns
	}
	sqldb.SetMaxOpenConns(maxOpenConns)

	s, err := NewStore(ctx, sqldb, clk)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	klog.Infof("Using database %s", path)
	return s, nil
}

// NewStore wraps an already opened database handle.
func NewStore(ctx context.Context, sqldb *sql.DB, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	s := &Store{
		sqldb: sqldb,
		db:    sqlair.NewDB(sqldb),
		clock: clk,
	}
	if err := s.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Bootstrap creates missing tables; it is idempotent.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.sqldb.ExecContext(ctx, schema); err != nil {
		return errors.Annotatef(err, "bootstrapping database schema")
	}
	return nil
}

func (s *Store) Close() error {
	return s.sqldb.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqldb.PingContext(ctx)
}

func (s *Store) txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	tx, err := s.db.Begin(ctx, nil)
	if err != nil {
		return errors.Annotatef(err, "beginning transaction")
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			klog.Warningf("unable to rollback transaction: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Annotatef(err, "committing transaction")
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixNano()
}

var insertAuditQuery = `
INSERT INTO audit_logs (ts, kind, op, data, entity_id, entity_name)
VALUES ($dbAuditEvent.*)`

func (s *Store) audit(ctx context.Context, tx *sqlair.TX, kind, op, entityID, entityName string, data any) error {
	ev := dbAuditEvent{
		Timestamp:  s.now(),
		Kind:       kind,
		Op:         op,
		EntityID:   entityID,
		EntityName: entityName,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return errors.Annotatef(err, "encoding audit data")
		}
		ev.Data = string(raw)
	}

	stmt, err := sqlair.Prepare(insertAuditQuery, dbAuditEvent{})
	if err != nil {
		return errors.Annotatef(err, "preparing audit statement")
	}
	if err := tx.Query(ctx, stmt, ev).Run(); err != nil {
		return errors.Annotatef(err, "recording %s %s audit event", kind, op)
	}
	return nil
}
