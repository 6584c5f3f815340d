/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package virt

import (
	"fmt"

	"github.com/juju/errors"
	virtxml "libvirt.org/go/libvirtxml"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
)

const (
	DomainDefaultNetwork = "default"

	diskBusVirtIO = "virtio"
	diskBusSATA   = "sata"
)

// DomainSpec carries everything needed to render a guest definition.
type DomainSpec struct {
	Name         string
	UUID         string
	MAC          string
	Device       string
	SATA         bool
	MemoryMB     int
	CPUs         int
	CloudInitURL string
	Network      string
	Emulator     string
}

var ptySerialPort uint = 0

func virtOs() *virtxml.DomainOS {
	return &virtxml.DomainOS{
		Type: &virtxml.DomainOSType{
			Arch: "x86_64",
			Type: "hvm",
		},
		BootDevices: []virtxml.DomainBootDevice{
			{
				Dev: "hd",
			},
		},
		SMBios: &virtxml.DomainSMBios{
			Mode: "sysinfo",
		},
	}
}

// virtSysInfo points cloud-init's NoCloud datasource at our metadata
// endpoints through the SMBIOS serial number.
func virtSysInfo(url string) []virtxml.DomainSysInfo {
	return []virtxml.DomainSysInfo{
		{
			SMBIOS: &virtxml.DomainSysInfoSMBIOS{
				System: &virtxml.DomainSysInfoSystem{
					Entry: []virtxml.DomainSysInfoEntry{
						{
							Name:  "serial",
							Value: fmt.Sprintf("ds=nocloud-net;s=%s", url),
						},
					},
				},
			},
		},
	}
}

func virtCPU() *virtxml.DomainCPU {
	return &virtxml.DomainCPU{
		Mode:       "host-passthrough",
		Check:      "none",
		Migratable: "on",
	}
}

func virtFeatures() *virtxml.DomainFeatureList {
	return &virtxml.DomainFeatureList{
		ACPI: &virtxml.DomainFeature{},
		APIC: &virtxml.DomainFeatureAPIC{},
	}
}

func virtDisk(device string, sata bool) virtxml.DomainDisk {
	target := &virtxml.DomainDiskTarget{
		Dev: "vda",
		Bus: diskBusVirtIO,
	}
	if sata {
		target.Dev = "sda"
		target.Bus = diskBusSATA
	}

	return virtxml.DomainDisk{
		Device: "disk",
		Driver: &virtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  "raw",
			Cache: "none",
			IO:    "native",
		},
		Source: &virtxml.DomainDiskSource{
			Block: &virtxml.DomainDiskSourceBlock{
				Dev: device,
			},
		},
		Target: target,
	}
}

func virtInterface(mac, network string) virtxml.DomainInterface {
	return virtxml.DomainInterface{
		MAC: &virtxml.DomainInterfaceMAC{
			Address: mac,
		},
		Source: &virtxml.DomainInterfaceSource{
			Network: &virtxml.DomainInterfaceSourceNetwork{
				Network: network,
			},
		},
		Model: &virtxml.DomainInterfaceModel{
			Type: "virtio",
		},
	}
}

func virtSerialDevices() []virtxml.DomainSerial {
	return []virtxml.DomainSerial{
		{
			Target: &virtxml.DomainSerialTarget{
				Type: "isa-serial",
				Port: &ptySerialPort,
			},
		},
	}
}

func virtConsoleDevices() []virtxml.DomainConsole {
	return []virtxml.DomainConsole{
		{
			Source: &virtxml.DomainChardevSource{
				Pty: &virtxml.DomainChardevSourcePty{},
			},
			Target: &virtxml.DomainConsoleTarget{
				Type: "serial",
				Port: &ptySerialPort,
			},
		},
	}
}

func virtRngDevices() []virtxml.DomainRNG {
	return []virtxml.DomainRNG{
		{
			Model: "virtio",
			Backend: &virtxml.DomainRNGBackend{
				Random: &virtxml.DomainRNGBackendRandom{
					Device: "/dev/urandom",
				},
			},
		},
	}
}

func virtGuestAgentChannel() []virtxml.DomainChannel {
	return []virtxml.DomainChannel{
		{
			Source: &virtxml.DomainChardevSource{
				UNIX: &virtxml.DomainChardevSourceUNIX{},
			},
			Target: &virtxml.DomainChannelTarget{
				VirtIO: &virtxml.DomainChannelTargetVirtIO{
					Name: "org.qemu.guest_agent.0",
				},
			},
		},
	}
}

// NewDomain builds the libvirt definition of a guest booting from a single
// raw block device.
func NewDomain(spec DomainSpec) (*virtxml.Domain, error) {
	if spec.Name == "" || spec.UUID == "" || spec.Device == "" {
		return nil, errors.NotValidf("domain spec without name, uuid or disk")
	}
	if spec.MemoryMB <= 0 || spec.CPUs <= 0 {
		return nil, errors.NotValidf("domain shape %d MB / %d vCPUs", spec.MemoryMB, spec.CPUs)
	}
	network := spec.Network
	if network == "" {
		network = DomainDefaultNetwork
	}

	return &virtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		UUID: spec.UUID,
		Memory: &virtxml.DomainMemory{
			Unit:  "KiB",
			Value: uint(spec.MemoryMB * 1024),
		},
		CurrentMemory: &virtxml.DomainCurrentMemory{
			Unit:  "KiB",
			Value: uint(spec.MemoryMB * 1024),
		},
		VCPU: &virtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(spec.CPUs),
		},
		OS:       virtOs(),
		SysInfo:  virtSysInfo(spec.CloudInitURL),
		Features: virtFeatures(),
		CPU:      virtCPU(),
		Clock: &virtxml.DomainClock{
			Offset: "utc",
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
		Devices: &virtxml.DomainDeviceList{
			Emulator:   spec.Emulator,
			Disks:      []virtxml.DomainDisk{virtDisk(spec.Device, spec.SATA)},
			Interfaces: []virtxml.DomainInterface{virtInterface(spec.MAC, network)},
			Serials:    virtSerialDevices(),
			Consoles:   virtConsoleDevices(),
			Channels:   virtGuestAgentChannel(),
			RNGs:       virtRngDevices(),
			MemBalloon: &virtxml.DomainMemBalloon{
				Model: "virtio",
			},
		},
	}, nil
}

// RenderDomain returns the XML definition of spec.
func RenderDomain(spec DomainSpec) (string, error) {
	d, err := NewDomain(spec)
	if err != nil {
		return "", err
	}
	return common.XmlMarshal(d)
}
