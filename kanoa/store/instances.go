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

const instanceColumns = `(id, name, host, mac_address, memory_mb, cpu_count, disk_size_gb,
volume_name, distro, status, join_network, sata, created_at)`

func (s *Store) getInstance(ctx context.Context, tx *sqlair.TX, id string) (dbInstance, error) {
	stmt, err := sqlair.Prepare(`SELECT &dbInstance.* FROM instances WHERE id = $M.id`, dbInstance{}, sqlair.M{})
	if err != nil {
		return dbInstance{}, errors.Annotatef(err, "preparing instance lookup")
	}

	var row dbInstance
	err = tx.Query(ctx, stmt, sqlair.M{"id": id}).Get(&row)
	if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return dbInstance{}, errors.NotFoundf("instance %q", id)
	} else if err != nil {
		return dbInstance{}, errors.Annotatef(err, "looking up instance %q", id)
	}
	return row, nil
}

func (s *Store) nameExists(ctx context.Context, tx *sqlair.TX, name string) (bool, error) {
	stmt, err := sqlair.Prepare(`SELECT &dbInstance.id FROM instances WHERE name = $M.name`, dbInstance{}, sqlair.M{})
	if err != nil {
		return false, errors.Annotatef(err, "preparing instance name lookup")
	}

	var row dbInstance
	err = tx.Query(ctx, stmt, sqlair.M{"name": name}).Get(&row)
	if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, errors.Annotatef(err, "looking up instance name %q", name)
	}
	return true, nil
}

// CreateInstance records a new instance, its cloud-init seed and the
// matching audit event.
func (s *Store) CreateInstance(ctx context.Context, inst Instance, userData string) (Instance, error) {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = s.clock.Now().UTC()
	}
	row := newDbInstance(inst)
	seed := dbSeed{
		InstanceID: inst.ID,
		UserData:   userData,
	}

	insertInstance, err := sqlair.Prepare(`INSERT INTO instances `+instanceColumns+` VALUES ($dbInstance.*)`, dbInstance{})
	if err != nil {
		return Instance{}, errors.Annotatef(err, "preparing instance insert")
	}
	insertSeed, err := sqlair.Prepare(`INSERT INTO cloudconfig_seeds (instance_id, user_data) VALUES ($dbSeed.*)`, dbSeed{})
	if err != nil {
		return Instance{}, errors.Annotatef(err, "preparing seed insert")
	}

	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		exists, err := s.nameExists(ctx, tx, inst.Name)
		if err != nil {
			return err
		}
		if exists {
			return errors.AlreadyExistsf("instance %q", inst.Name)
		}

		if err := tx.Query(ctx, insertInstance, row).Run(); err != nil {
			if isUniqueConstraint(err) {
				return errors.AlreadyExistsf("instance %q", inst.Name)
			}
			return errors.Annotatef(err, "inserting instance %q", inst.Name)
		}
		if err := tx.Query(ctx, insertSeed, seed).Run(); err != nil {
			return errors.Annotatef(err, "inserting cloud-init seed of %q", inst.Name)
		}
		return s.audit(ctx, tx, AuditKindInstance, AuditOpCreate, inst.ID, inst.Name, inst)
	})
	if err != nil {
		return Instance{}, err
	}

	created, err := row.toInstance()
	if err != nil {
		return Instance{}, err
	}
	return created, nil
}

// GetInstance returns the instance with the given id.
func (s *Store) GetInstance(ctx context.Context, id string) (Instance, error) {
	var inst Instance
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		row, err := s.getInstance(ctx, tx, id)
		if err != nil {
			return err
		}
		inst, err = row.toInstance()
		return err
	})
	return inst, err
}

// GetInstanceByName returns the instance with the given name.
func (s *Store) GetInstanceByName(ctx context.Context, name string) (Instance, error) {
	stmt, err := sqlair.Prepare(`SELECT &dbInstance.* FROM instances WHERE name = $M.name`, dbInstance{}, sqlair.M{})
	if err != nil {
		return Instance{}, errors.Annotatef(err, "preparing instance lookup")
	}

	var row dbInstance
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, sqlair.M{"name": name}).Get(&row)
		if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return errors.NotFoundf("instance %q", name)
		}
		return errors.Annotatef(err, "looking up instance %q", name)
	})
	if err != nil {
		return Instance{}, err
	}
	return row.toInstance()
}

// InstanceNameExists reports whether name is already taken.
func (s *Store) InstanceNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var err error
		exists, err = s.nameExists(ctx, tx, name)
		return err
	})
	return exists, err
}

// ListInstances returns all instances, oldest first.
func (s *Store) ListInstances(ctx context.Context) ([]Instance, error) {
	stmt, err := sqlair.Prepare(`SELECT &dbInstance.* FROM instances ORDER BY created_at, name`, dbInstance{})
	if err != nil {
		return nil, errors.Annotatef(err, "preparing instance list")
	}

	var rows []dbInstance
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Annotatef(err, "listing instances")
	})
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(rows))
	for _, r := range rows {
		inst, err := r.toInstance()
		if err != nil {
			return nil, errors.Annotatef(err, "decoding instance %q", r.ID)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// CountInstancesByStatus returns the number of instances per status string.
func (s *Store) CountInstancesByStatus(ctx context.Context) (map[string]int, error) {
	stmt, err := sqlair.Prepare(`
SELECT status AS &dbCount.key, COUNT(*) AS &dbCount.num
FROM   instances
GROUP  BY status`, dbCount{})
	if err != nil {
		return nil, errors.Annotatef(err, "preparing instance count")
	}

	var rows []dbCount
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Annotatef(err, "counting instances")
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Key] = r.Count
	}
	return counts, nil
}

// TransitionInstance moves an instance to a new status and records op in
// the audit log. The move is validated against the current status within
// the same transaction.
func (s *Store) TransitionInstance(ctx context.Context, id string, next Status, op string) (Instance, error) {
	return s.transition(ctx, id, next, op, func(inst Instance) any {
		return inst
	})
}

// FailInstance records the terminal failure of a provisioning workflow at
// stage, keeping reason in the audit log.
func (s *Store) FailInstance(ctx context.Context, id string, stage State, reason string) (Instance, error) {
	return s.transition(ctx, id, Failed(stage), AuditOpFailed, func(inst Instance) any {
		return struct {
			Instance
			Error string `json:"error"`
		}{inst, reason}
	})
}

func (s *Store) transition(ctx context.Context, id string, next Status, op string, data func(Instance) any) (Instance, error) {
	update, err := sqlair.Prepare(`UPDATE instances SET status = $dbInstance.status WHERE id = $dbInstance.id`, dbInstance{})
	if err != nil {
		return Instance{}, errors.Annotatef(err, "preparing status update")
	}

	var inst Instance
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		row, err := s.getInstance(ctx, tx, id)
		if err != nil {
			return err
		}
		current, err := row.toInstance()
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(next) {
			return errors.Annotatef(ErrInvalidTransition, "instance %q: %s -> %s", current.Name, current.Status, next)
		}

		row.Status = next.String()
		if err := tx.Query(ctx, update, row).Run(); err != nil {
			return errors.Annotatef(err, "updating status of %q", current.Name)
		}

		inst = current
		inst.Status = next
		return s.audit(ctx, tx, AuditKindInstance, op, inst.ID, inst.Name, data(inst))
	})
	return inst, err
}

// DeleteInstance removes an instance and its seed, and records the
// deletion.
func (s *Store) DeleteInstance(ctx context.Context, id string) (Instance, error) {
	deleteSeed, err := sqlair.Prepare(`DELETE FROM cloudconfig_seeds WHERE instance_id = $M.id`, sqlair.M{})
	if err != nil {
		return Instance{}, errors.Annotatef(err, "preparing seed delete")
	}
	deleteInstance, err := sqlair.Prepare(`DELETE FROM instances WHERE id = $M.id`, sqlair.M{})
	if err != nil {
		return Instance{}, errors.Annotatef(err, "preparing instance delete")
	}

	var inst Instance
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		row, err := s.getInstance(ctx, tx, id)
		if err != nil {
			return err
		}
		inst, err = row.toInstance()
		if err != nil {
			return err
		}

		args := sqlair.M{"id": id}
		if err := tx.Query(ctx, deleteSeed, args).Run(); err != nil {
			return errors.Annotatef(err, "deleting cloud-init seed of %q", inst.Name)
		}
		if err := tx.Query(ctx, deleteInstance, args).Run(); err != nil {
			return errors.Annotatef(err, "deleting instance %q", inst.Name)
		}
		return s.audit(ctx, tx, AuditKindInstance, AuditOpDelete, inst.ID, inst.Name, inst)
	})
	return inst, err
}

// UserData returns the cloud-init user-data seeded for an instance.
func (s *Store) UserData(ctx context.Context, id string) (string, error) {
	stmt, err := sqlair.Prepare(`SELECT &dbSeed.* FROM cloudconfig_seeds WHERE instance_id = $M.id`, dbSeed{}, sqlair.M{})
	if err != nil {
		return "", errors.Annotatef(err, "preparing seed lookup")
	}

	var seed dbSeed
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, sqlair.M{"id": id}).Get(&seed)
		if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return errors.NotFoundf("cloud-init seed of instance %q", id)
		}
		return errors.Annotatef(err, "looking up cloud-init seed of %q", id)
	})
	return seed.UserData, err
}
