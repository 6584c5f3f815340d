/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
)

// Validate checks mandatory fields and applies defaults.
func (d *Distro) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return errors.NotValidf("distro without name")
	}
	if d.DownloadURL == "" {
		return errors.NotValidf("distro %q without download_url", d.Name)
	}
	if d.Sha256Sum == "" {
		return errors.NotValidf("distro %q without sha256sum", d.Name)
	}
	// the digest names the cached image file on hypervisors
	if strings.Trim(d.Sha256Sum, "0123456789abcdefABCDEF") != "" {
		return errors.NotValidf("distro %q sha256sum %q is not hexadecimal", d.Name, d.Sha256Sum)
	}
	if d.MinSizeGB <= 0 {
		return errors.NotValidf("distro %q min_size_gb %d", d.Name, d.MinSizeGB)
	}
	if d.Format == "" {
		d.Format = DistroDefaultFormat
	}
	return nil
}

func (s *Store) getDistro(ctx context.Context, tx *sqlair.TX, name string) (Distro, error) {
	stmt, err := sqlair.Prepare(`SELECT &Distro.* FROM distros WHERE name = $M.name`, Distro{}, sqlair.M{})
	if err != nil {
		return Distro{}, errors.Annotatef(err, "preparing distro lookup")
	}

	var d Distro
	err = tx.Query(ctx, stmt, sqlair.M{"name": name}).Get(&d)
	if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return Distro{}, errors.NotFoundf("distro %q", name)
	} else if err != nil {
		return Distro{}, errors.Annotatef(err, "looking up distro %q", name)
	}
	return d, nil
}

// ListDistros returns the catalog sorted by name.
func (s *Store) ListDistros(ctx context.Context) ([]Distro, error) {
	stmt, err := sqlair.Prepare(`SELECT &Distro.* FROM distros ORDER BY name`, Distro{})
	if err != nil {
		return nil, errors.Annotatef(err, "preparing distro list")
	}

	distros := []Distro{}
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&distros)
		if errors.Is(err, sqlair.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Annotatef(err, "listing distros")
	})
	return distros, err
}

// GetDistro returns a single catalog entry.
func (s *Store) GetDistro(ctx context.Context, name string) (Distro, error) {
	var d Distro
	err := s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var err error
		d, err = s.getDistro(ctx, tx, name)
		return err
	})
	return d, err
}

// CreateDistro adds a new catalog entry; the name must be free.
func (s *Store) CreateDistro(ctx context.Context, d Distro) (Distro, error) {
	if err := d.Validate(); err != nil {
		return Distro{}, err
	}

	insert, err := sqlair.Prepare(`
INSERT INTO distros (name, download_url, sha256sum, min_size_gb, format)
VALUES ($Distro.*)`, Distro{})
	if err != nil {
		return Distro{}, errors.Annotatef(err, "preparing distro insert")
	}

	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, insert, d).Run(); err != nil {
			if isUniqueConstraint(err) {
				return errors.AlreadyExistsf("distro %q", d.Name)
			}
			return errors.Annotatef(err, "inserting distro %q", d.Name)
		}
		return s.audit(ctx, tx, AuditKindDistro, AuditOpCreate, "", d.Name, d)
	})
	return d, err
}

// UpsertDistro creates or replaces the catalog entry named d.Name.
func (s *Store) UpsertDistro(ctx context.Context, d Distro) (Distro, error) {
	if err := d.Validate(); err != nil {
		return Distro{}, err
	}

	upsert, err := sqlair.Prepare(`
INSERT INTO distros (name, download_url, sha256sum, min_size_gb, format)
VALUES ($Distro.*)
ON CONFLICT (name) DO UPDATE SET
    download_url = excluded.download_url,
    sha256sum    = excluded.sha256sum,
    min_size_gb  = excluded.min_size_gb,
    format       = excluded.format`, Distro{})
	if err != nil {
		return Distro{}, errors.Annotatef(err, "preparing distro upsert")
	}

	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, upsert, d).Run(); err != nil {
			return errors.Annotatef(err, "updating distro %q", d.Name)
		}
		return s.audit(ctx, tx, AuditKindDistro, AuditOpUpdate, "", d.Name, d)
	})
	return d, err
}

// DeleteDistro removes a catalog entry that no instance references.
func (s *Store) DeleteDistro(ctx context.Context, name string) (Distro, error) {
	countRefs, err := sqlair.Prepare(`
SELECT distro AS &dbCount.key, COUNT(*) AS &dbCount.num
FROM   instances
WHERE  distro = $M.name
GROUP  BY distro`, dbCount{}, sqlair.M{})
	if err != nil {
		return Distro{}, errors.Annotatef(err, "preparing distro reference count")
	}
	del, err := sqlair.Prepare(`DELETE FROM distros WHERE name = $M.name`, sqlair.M{})
	if err != nil {
		return Distro{}, errors.Annotatef(err, "preparing distro delete")
	}

	var d Distro
	err = s.txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var err error
		d, err = s.getDistro(ctx, tx, name)
		if err != nil {
			return err
		}

		args := sqlair.M{"name": name}
		var refs dbCount
		err = tx.Query(ctx, countRefs, args).Get(&refs)
		if err != nil && !errors.Is(err, sqlair.ErrNoRows) && !errors.Is(err, sql.ErrNoRows) {
			return errors.Annotatef(err, "counting references to distro %q", name)
		}
		if refs.Count > 0 {
			return errors.Annotatef(ErrDistroInUse, "%d instance(s) using distro %q", refs.Count, name)
		}

		if err := tx.Query(ctx, del, args).Run(); err != nil {
			return errors.Annotatef(err, "deleting distro %q", name)
		}
		return s.audit(ctx, tx, AuditKindDistro, AuditOpDelete, "", d.Name, d)
	})
	return d, err
}
