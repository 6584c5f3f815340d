/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package virt

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	virtxml "libvirt.org/go/libvirtxml"
)

func testSpec() DomainSpec {
	return DomainSpec{
		Name:         "cheerful-otter",
		UUID:         "5c3a7c38-0f5e-4f3a-9a1b-2f0c1d9e8a11",
		MAC:          "52:54:00:12:34:56",
		Device:       "/dev/zvol/rpool/safe/vms/cheerful-otter",
		MemoryMB:     512,
		CPUs:         2,
		CloudInitURL: "http://kumu:23818/api/cloudinit/5c3a7c38-0f5e-4f3a-9a1b-2f0c1d9e8a11/",
	}
}

func TestRenderDomain(t *testing.T) {
	xml, err := RenderDomain(testSpec())
	require.NoError(t, err)

	d := virtxml.Domain{}
	require.NoError(t, d.Unmarshal(xml))

	assert.Equal(t, "cheerful-otter", d.Name)
	assert.Equal(t, "5c3a7c38-0f5e-4f3a-9a1b-2f0c1d9e8a11", d.UUID)
	assert.Equal(t, uint(512*1024), d.Memory.Value)
	assert.Equal(t, "KiB", d.Memory.Unit)
	assert.Equal(t, uint(2), d.VCPU.Value)

	require.Len(t, d.Devices.Disks, 1)
	disk := d.Devices.Disks[0]
	assert.Equal(t, "/dev/zvol/rpool/safe/vms/cheerful-otter", disk.Source.Block.Dev)
	assert.Equal(t, "virtio", disk.Target.Bus)
	assert.Equal(t, "raw", disk.Driver.Type)

	require.Len(t, d.Devices.Interfaces, 1)
	assert.Equal(t, "52:54:00:12:34:56", d.Devices.Interfaces[0].MAC.Address)
	assert.Equal(t, DomainDefaultNetwork, d.Devices.Interfaces[0].Source.Network.Network)

	require.Len(t, d.SysInfo, 1)
	require.NotNil(t, d.SysInfo[0].SMBIOS)
	entries := d.SysInfo[0].SMBIOS.System.Entry
	require.Len(t, entries, 1)
	assert.Equal(t, "serial", entries[0].Name)
	assert.Equal(t, "ds=nocloud-net;s=http://kumu:23818/api/cloudinit/5c3a7c38-0f5e-4f3a-9a1b-2f0c1d9e8a11/", entries[0].Value)
	assert.Equal(t, "sysinfo", d.OS.SMBios.Mode)
}

func TestRenderDomainSata(t *testing.T) {
	spec := testSpec()
	spec.SATA = true
	spec.Network = "br0"

	d, err := NewDomain(spec)
	require.NoError(t, err)
	assert.Equal(t, "sata", d.Devices.Disks[0].Target.Bus)
	assert.Equal(t, "sda", d.Devices.Disks[0].Target.Dev)
	assert.Equal(t, "br0", d.Devices.Interfaces[0].Source.Network.Network)
}

func TestRenderDomainInvalid(t *testing.T) {
	spec := testSpec()
	spec.CPUs = 0
	_, err := RenderDomain(spec)
	assert.True(t, errors.Is(err, errors.NotValid))

	spec = testSpec()
	spec.Device = ""
	_, err = RenderDomain(spec)
	assert.True(t, errors.Is(err, errors.NotValid))
}
