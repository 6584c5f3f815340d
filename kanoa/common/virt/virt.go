/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

// Package virt talks to the libvirt daemon of each hypervisor host.
package virt

import (
	"context"

	"github.com/juju/errors"
)

const (
	ErrDomainNotFound   = errors.ConstError("domain not found")
	ErrDomainRunning    = errors.ConstError("domain is already running")
	ErrDomainNotRunning = errors.ConstError("domain is not running")
)

// Machine is the hypervisor's live view of a domain.
type Machine struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	UUID       string `json:"uuid"`
	Active     bool   `json:"active"`
	State      string `json:"state"`
	Addr       string `json:"addr,omitempty"`
	CPUs       int    `json:"cpus"`
	MemoryMegs uint64 `json:"memory_megs"`
	Memory     string `json:"memory"`
}

// Hypervisor manages the domains of a single host. Domains are addressed
// by their UUID, which is the instance id.
type Hypervisor interface {
	Define(ctx context.Context, xml string) error
	Start(ctx context.Context, id string) error
	Shutdown(ctx context.Context, id string) error
	Reboot(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
	Undefine(ctx context.Context, id string) error
	Machine(ctx context.Context, id string) (*Machine, error)
	Machines(ctx context.Context) ([]Machine, error)
}

// Connector hands out hypervisor handles per host.
type Connector interface {
	Hypervisor(ctx context.Context, host string) (Hypervisor, error)
	Close()
}
