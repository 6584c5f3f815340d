/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package sdk

import (
	"context"
)

// InstanceAPIServicer defines the api actions for the InstanceAPI service
type InstanceAPIServicer interface {
	CreateInstance(context.Context, InstanceCreate) (ImplResponse, error)
	ListInstances(context.Context) (ImplResponse, error)
	ReadInstance(context.Context, string) (ImplResponse, error)
	ReadInstanceByName(context.Context, string) (ImplResponse, error)
	DeleteInstance(context.Context, string) (ImplResponse, error)
	StartInstance(context.Context, string) (ImplResponse, error)
	ShutdownInstance(context.Context, string) (ImplResponse, error)
	RebootInstance(context.Context, string) (ImplResponse, error)
	HardRebootInstance(context.Context, string) (ImplResponse, error)
	ReinitInstance(context.Context, string) (ImplResponse, error)
	ReadInstanceMachine(context.Context, string) (ImplResponse, error)
}

// DistroAPIServicer defines the api actions for the DistroAPI service
type DistroAPIServicer interface {
	ListDistros(context.Context) (ImplResponse, error)
	CreateDistro(context.Context, Distro) (ImplResponse, error)
	ReadDistro(context.Context, string) (ImplResponse, error)
	UpdateDistro(context.Context, string, Distro) (ImplResponse, error)
	DeleteDistro(context.Context, string) (ImplResponse, error)
}

// AuditAPIServicer defines the api actions for the AuditAPI service
type AuditAPIServicer interface {
	ListAuditEvents(context.Context) (ImplResponse, error)
	ListInstanceAuditEvents(context.Context, string) (ImplResponse, error)
}

// LibvirtAPIServicer defines the api actions for the LibvirtAPI service
type LibvirtAPIServicer interface {
	ListMachines(context.Context) (ImplResponse, error)
}

// CloudInitAPIServicer defines the guest-facing NoCloud datasource
type CloudInitAPIServicer interface {
	ReadMetaData(context.Context, string) (ImplResponse, error)
	ReadUserData(context.Context, string) (ImplResponse, error)
	ReadVendorData(context.Context, string) (ImplResponse, error)
}
