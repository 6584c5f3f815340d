/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package store

import (
	"encoding/json"
	"time"
)

const (
	AuditKindInstance = "instance"
	AuditKindDistro   = "distro"

	AuditOpCreate = "create"
	AuditOpUpdate = "update"
	AuditOpDelete = "delete"
	AuditOpFailed = "failed"

	DistroDefaultFormat = "qcow2"
)

// Instance is a virtual machine managed by the fleet.
type Instance struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Host        string    `json:"host"`
	MACAddress  string    `json:"mac_address"`
	MemoryMB    int       `json:"memory_mb"`
	CPUs        int       `json:"cpu_count"`
	DiskSizeGB  int       `json:"disk_size_gb"`
	VolumeName  string    `json:"volume_name"`
	Distro      string    `json:"distro"`
	Status      Status    `json:"status"`
	JoinNetwork bool      `json:"join_network"`
	SATA        bool      `json:"sata"`
	CreatedAt   time.Time `json:"created_at"`
}

// Distro is a cloud image instances get hydrated from.
type Distro struct {
	Name        string `json:"name" db:"name"`
	DownloadURL string `json:"download_url" db:"download_url"`
	Sha256Sum   string `json:"sha256sum" db:"sha256sum"`
	MinSizeGB   int    `json:"min_size_gb" db:"min_size_gb"`
	Format      string `json:"format" db:"format"`
}

// AuditEvent is an append-only record of a mutation.
type AuditEvent struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"ts"`
	Kind       string          `json:"kind"`
	Op         string          `json:"op"`
	Data       json.RawMessage `json:"data,omitempty"`
	EntityID   string          `json:"uuid,omitempty"`
	EntityName string          `json:"name,omitempty"`
}

type dbInstance struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Host        string `db:"host"`
	MACAddress  string `db:"mac_address"`
	MemoryMB    int    `db:"memory_mb"`
	CPUs        int    `db:"cpu_count"`
	DiskSizeGB  int    `db:"disk_size_gb"`
	VolumeName  string `db:"volume_name"`
	Distro      string `db:"distro"`
	Status      string `db:"status"`
	JoinNetwork bool   `db:"join_network"`
	SATA        bool   `db:"sata"`
	CreatedAt   int64  `db:"created_at"`
}

type dbAuditEvent struct {
	ID         int64  `db:"id"`
	Timestamp  int64  `db:"ts"`
	Kind       string `db:"kind"`
	Op         string `db:"op"`
	Data       string `db:"data"`
	EntityID   string `db:"entity_id"`
	EntityName string `db:"entity_name"`
}

type dbSeed struct {
	InstanceID string `db:"instance_id"`
	UserData   string `db:"user_data"`
}

type dbCount struct {
	Key   string `db:"key"`
	Count int    `db:"num"`
}

func newDbInstance(i Instance) dbInstance {
	return dbInstance{
		ID:          i.ID,
		Name:        i.Name,
		Host:        i.Host,
		MACAddress:  i.MACAddress,
		MemoryMB:    i.MemoryMB,
		CPUs:        i.CPUs,
		DiskSizeGB:  i.DiskSizeGB,
		VolumeName:  i.VolumeName,
		Distro:      i.Distro,
		Status:      i.Status.String(),
		JoinNetwork: i.JoinNetwork,
		SATA:        i.SATA,
		CreatedAt:   i.CreatedAt.UnixNano(),
	}
}

func (r dbInstance) toInstance() (Instance, error) {
	status, err := ParseStatus(r.Status)
	if err != nil {
		return Instance{}, err
	}
	return Instance{
		ID:          r.ID,
		Name:        r.Name,
		Host:        r.Host,
		MACAddress:  r.MACAddress,
		MemoryMB:    r.MemoryMB,
		CPUs:        r.CPUs,
		DiskSizeGB:  r.DiskSizeGB,
		VolumeName:  r.VolumeName,
		Distro:      r.Distro,
		Status:      status,
		JoinNetwork: r.JoinNetwork,
		SATA:        r.SATA,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

func (r dbAuditEvent) toAuditEvent() AuditEvent {
	ev := AuditEvent{
		ID:         r.ID,
		Timestamp:  time.Unix(0, r.Timestamp).UTC(),
		Kind:       r.Kind,
		Op:         r.Op,
		EntityID:   r.EntityID,
		EntityName: r.EntityName,
	}
	if r.Data != "" {
		ev.Data = json.RawMessage(r.Data)
	}
	return ev
}
