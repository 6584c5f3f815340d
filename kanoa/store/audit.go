/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package store

import (
	"context"
	"database/sql"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
)

func (s *Store) listAuditEvents(ctx context.Context, query string, args ...any) ([]AuditEvent, error) {
	types := []any{dbAuditEvent{}}
	if len(args) > 0 {
		types = append(types, sqlair.M{})
	}
	stmt, err := sqlair.Prepare(query, types...)
	if err != nil {
		return nil, errors.Annotatef(err, "preparing audit log query")
	}

	var rows []dbAuditEvent
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, args...).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Annotatef(err, "reading audit log")
	})
	if err != nil {
		return nil, err
	}

	events := make([]AuditEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toAuditEvent())
	}
	return events, nil
}

// AuditEvents returns the whole audit log in insertion order.
func (s *Store) AuditEvents(ctx context.Context) ([]AuditEvent, error) {
	return s.listAuditEvents(ctx, `SELECT &dbAuditEvent.* FROM audit_logs ORDER BY id`)
}

// InstanceAuditEvents returns the audit trail of a single instance.
func (s *Store) InstanceAuditEvents(ctx context.Context, id string) ([]AuditEvent, error) {
	return s.listAuditEvents(ctx, `
SELECT &dbAuditEvent.*
FROM   audit_logs
WHERE  kind = $M.kind
AND    entity_id = $M.id
ORDER  BY id`, sqlair.M{"kind": AuditKindInstance, "id": id})
}
