/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package sdk

import (
	"encoding/json"
	"strings"
)

// ApiError is the body of every non-2xx answer.
type ApiError struct {
	Message string `json:"message"`
}

// Instance - A virtual machine.
type Instance struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	MacAddress  string `json:"mac_address"`
	MemoryMb    int32  `json:"memory_mb"`
	CpuCount    int32  `json:"cpu_count"`
	DiskSizeGb  int32  `json:"disk_size_gb"`
	VolumeName  string `json:"volume_name"`
	Distro      string `json:"distro"`
	Status      string `json:"status"`
	JoinNetwork bool   `json:"join_network"`
	Sata        bool   `json:"sata"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// InstanceCreate - A virtual machine creation request. Only host and
// distro are mandatory.
type InstanceCreate struct {
	Name         string `json:"name,omitempty"`
	MemoryMb     int32  `json:"memory_mb,omitempty"`
	Cpus         int32  `json:"cpus,omitempty"`
	Host         string `json:"host"`
	DiskSizeGb   int32  `json:"disk_size_gb,omitempty"`
	VolumePrefix string `json:"volume_prefix,omitempty"`
	Distro       string `json:"distro"`
	Sata         bool   `json:"sata,omitempty"`
	UserData     string `json:"user_data,omitempty"`
	JoinNetwork  bool   `json:"join_network,omitempty"`
}

// AssertInstanceCreateRequired checks if the required fields are not zero-ed
func AssertInstanceCreateRequired(obj InstanceCreate) error {
	elements := map[string]interface{}{
		"host":   strings.TrimSpace(obj.Host),
		"distro": strings.TrimSpace(obj.Distro),
	}
	for name, el := range elements {
		if isZeroValue(el) {
			return &RequiredError{Field: name}
		}
	}
	return nil
}

// Distro - A cloud image instances get hydrated from.
type Distro struct {
	Name        string `json:"name"`
	DownloadUrl string `json:"download_url"`
	Sha256sum   string `json:"sha256sum"`
	MinSizeGb   int32  `json:"min_size_gb"`
	Format      string `json:"format,omitempty"`
}

// AuditEvent - An append-only record of a mutation.
type AuditEvent struct {
	Id         int64           `json:"id"`
	Ts         string          `json:"ts"`
	Kind       string          `json:"kind"`
	Op         string          `json:"op"`
	Data       json.RawMessage `json:"data,omitempty"`
	EntityId   string          `json:"uuid,omitempty"`
	EntityName string          `json:"name,omitempty"`
}

// Machine - The hypervisor's live view of a domain.
type Machine struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Uuid       string `json:"uuid"`
	Active     bool   `json:"active"`
	State      string `json:"state"`
	Addr       string `json:"addr,omitempty"`
	Cpus       int32  `json:"cpus"`
	MemoryMegs int64  `json:"memory_megs"`
	Memory     string `json:"memory"`
}

func isZeroValue(val interface{}) bool {
	switch v := val.(type) {
	case string:
		return v == ""
	case int32:
		return v == 0
	case nil:
		return true
	}
	return false
}
