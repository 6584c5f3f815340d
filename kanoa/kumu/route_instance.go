/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"time"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/virt"
	"github.com/kowabunga-cloud/kanoa/kanoa/sdk"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

func NewInstanceRouter(f *Fleet) sdk.Router {
	return sdk.NewInstanceAPIController(&InstanceService{fleet: f})
}

type InstanceService struct {
	fleet *Fleet
}

func instanceModel(i store.Instance) sdk.Instance {
	m := sdk.Instance{
		Id:          i.ID,
		Name:        i.Name,
		Host:        i.Host,
		MacAddress:  i.MACAddress,
		MemoryMb:    int32(i.MemoryMB),
		CpuCount:    int32(i.CPUs),
		DiskSizeGb:  int32(i.DiskSizeGB),
		VolumeName:  i.VolumeName,
		Distro:      i.Distro,
		Status:      i.Status.String(),
		JoinNetwork: i.JoinNetwork,
		Sata:        i.SATA,
	}
	if !i.CreatedAt.IsZero() {
		m.CreatedAt = i.CreatedAt.UTC().Format(time.RFC3339)
	}
	return m
}

func machineModel(m virt.Machine) sdk.Machine {
	return sdk.Machine{
		Name:       m.Name,
		Host:       m.Host,
		Uuid:       m.UUID,
		Active:     m.Active,
		State:      m.State,
		Addr:       m.Addr,
		Cpus:       int32(m.CPUs),
		MemoryMegs: int64(m.MemoryMegs),
		Memory:     m.Memory,
	}
}

func (s *InstanceService) CreateInstance(ctx context.Context, instance sdk.InstanceCreate) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instance", instance))

	i, err := s.fleet.CreateInstance(ctx, InstanceRequest{
		Name:         instance.Name,
		MemoryMB:     int(instance.MemoryMb),
		CPUs:         int(instance.Cpus),
		Host:         instance.Host,
		DiskSizeGB:   int(instance.DiskSizeGb),
		VolumePrefix: instance.VolumePrefix,
		Distro:       instance.Distro,
		SATA:         instance.Sata,
		UserData:     instance.UserData,
		JoinNetwork:  instance.JoinNetwork,
	})
	if err != nil {
		return HttpError(err)
	}

	payload := instanceModel(i)
	LogHttpResponse(payload)
	return HttpCreated(payload)
}

func (s *InstanceService) ListInstances(ctx context.Context) (sdk.ImplResponse, error) {
	instances, err := s.fleet.Store().ListInstances(ctx)
	if err != nil {
		return HttpError(err)
	}

	payload := []sdk.Instance{}
	for _, i := range instances {
		payload = append(payload, instanceModel(i))
	}

	LogHttpResponse(payload)
	return HttpOK(payload)
}

func (s *InstanceService) ReadInstance(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))

	i, err := s.fleet.Store().GetInstance(ctx, instanceId)
	if err != nil {
		return HttpError(err)
	}

	payload := instanceModel(i)
	LogHttpResponse(payload)
	return HttpOK(payload)
}

func (s *InstanceService) ReadInstanceByName(ctx context.Context, instanceName string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceName", instanceName))

	i, err := s.fleet.Store().GetInstanceByName(ctx, instanceName)
	if err != nil {
		return HttpError(err)
	}

	payload := instanceModel(i)
	LogHttpResponse(payload)
	return HttpOK(payload)
}

func (s *InstanceService) DeleteInstance(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))

	_, err := s.fleet.DeleteInstance(ctx, instanceId)
	if err != nil {
		return HttpError(err)
	}

	return HttpNoContent()
}

func (s *InstanceService) lifecycle(ctx context.Context, instanceId string, op func(context.Context, string) (store.Instance, error)) (sdk.ImplResponse, error) {
	i, err := op(ctx, instanceId)
	if err != nil {
		return HttpError(err)
	}

	payload := instanceModel(i)
	LogHttpResponse(payload)
	return HttpOK(payload)
}

func (s *InstanceService) StartInstance(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))
	return s.lifecycle(ctx, instanceId, s.fleet.StartInstance)
}

func (s *InstanceService) ShutdownInstance(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))
	return s.lifecycle(ctx, instanceId, s.fleet.ShutdownInstance)
}

func (s *InstanceService) RebootInstance(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))
	return s.lifecycle(ctx, instanceId, s.fleet.RebootInstance)
}

func (s *InstanceService) HardRebootInstance(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))
	return s.lifecycle(ctx, instanceId, s.fleet.HardRebootInstance)
}

func (s *InstanceService) ReinitInstance(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))
	return s.lifecycle(ctx, instanceId, s.fleet.ReinitInstance)
}

func (s *InstanceService) ReadInstanceMachine(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))

	m, err := s.fleet.Machine(ctx, instanceId)
	if err != nil {
		return HttpError(err)
	}

	payload := machineModel(*m)
	LogHttpResponse(payload)
	return HttpOK(payload)
}
