/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/virt"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/zfs"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

const (
	InstanceDefaultMemoryMB = 512
	InstanceDefaultCPUs     = 2

	InitSnapshot = "init"

	provisionFailureTimeout = 30 * time.Second
)

// InstanceRequest describes an instance to provision. Zero values get
// defaults.
type InstanceRequest struct {
	Name         string
	MemoryMB     int
	CPUs         int
	Host         string
	DiskSizeGB   int
	VolumePrefix string
	Distro       string
	SATA         bool
	UserData     string
	JoinNetwork  bool
}

func (f *Fleet) resolveHost(ctx context.Context, host string) error {
	addrs, err := f.resolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return errors.Annotatef(ErrHostUnreachable, "%s", host)
	}
	return nil
}

// lookupDistro finds a distro, suggesting the closest known name when it
// does not exist.
func (f *Fleet) lookupDistro(ctx context.Context, name string) (store.Distro, error) {
	d, err := f.store.GetDistro(ctx, name)
	if !errors.Is(err, errors.NotFound) {
		return d, err
	}

	distros, lerr := f.store.ListDistros(ctx)
	if lerr != nil || len(distros) == 0 {
		return d, err
	}

	best, bestDistance := "", -1
	for _, c := range distros {
		dist := levenshtein.ComputeDistance(name, c.Name)
		if bestDistance < 0 || dist < bestDistance {
			best, bestDistance = c.Name, dist
		}
	}
	return d, errors.NewNotFound(err, fmt.Sprintf("distro %q not found, did you mean %q?", name, best))
}

// instanceFromRequest applies defaults to req and validates the outcome.
func (f *Fleet) instanceFromRequest(ctx context.Context, req InstanceRequest, d store.Distro) (store.Instance, error) {
	inst := store.Instance{
		Name:        strings.TrimSpace(req.Name),
		Host:        strings.TrimSpace(req.Host),
		MemoryMB:    req.MemoryMB,
		CPUs:        req.CPUs,
		DiskSizeGB:  req.DiskSizeGB,
		Distro:      d.Name,
		Status:      store.NewStatus(store.StateInit),
		JoinNetwork: req.JoinNetwork,
		SATA:        req.SATA,
	}

	if inst.MemoryMB < 0 || inst.CPUs < 0 || inst.DiskSizeGB < 0 {
		return inst, errors.NotValidf("negative instance shape")
	}
	if inst.MemoryMB == 0 {
		inst.MemoryMB = InstanceDefaultMemoryMB
	}
	if inst.CPUs == 0 {
		inst.CPUs = InstanceDefaultCPUs
	}
	if inst.DiskSizeGB < d.MinSizeGB {
		inst.DiskSizeGB = d.MinSizeGB
	}

	if inst.Name == "" {
		name, err := uniqueName(ctx, f.store.InstanceNameExists)
		if err != nil {
			return inst, err
		}
		inst.Name = name
	}
	if err := ValidInstanceName(inst.Name); err != nil {
		return inst, err
	}

	prefix := strings.Trim(strings.TrimSpace(req.VolumePrefix), "/")
	if prefix == "" {
		prefix = f.settings.VolumePrefix
	}
	inst.VolumeName = prefix + "/" + inst.Name

	inst.ID = uuid.NewString()
	mac, err := RandomMAC()
	if err != nil {
		return inst, errors.Annotatef(err, "generating MAC address")
	}
	inst.MACAddress = mac

	return inst, nil
}

// CreateInstance validates and records a new instance, then provisions it
// in the background. The returned instance is in its initial state.
func (f *Fleet) CreateInstance(ctx context.Context, req InstanceRequest) (store.Instance, error) {
	host := strings.TrimSpace(req.Host)
	if host == "" {
		return store.Instance{}, errors.NotValidf("empty host")
	}
	if err := f.resolveHost(ctx, host); err != nil {
		return store.Instance{}, err
	}

	d, err := f.lookupDistro(ctx, strings.TrimSpace(req.Distro))
	if err != nil {
		return store.Instance{}, err
	}

	inst, err := f.instanceFromRequest(ctx, req, d)
	if err != nil {
		return store.Instance{}, err
	}

	userData := req.UserData
	if userData == "" {
		userData, err = f.tpl.UserData(CloudInitSettings{
			ID:          inst.ID,
			Name:        inst.Name,
			Host:        inst.Host,
			Distro:      inst.Distro,
			JoinNetwork: inst.JoinNetwork,
		})
		if err != nil {
			return store.Instance{}, err
		}
	}

	// a delete must not slip between the insert and the task registration
	unlock := f.locks.Lock(inst.ID)
	defer unlock()

	inst, err = f.store.CreateInstance(ctx, inst, userData)
	if err != nil {
		return store.Instance{}, err
	}
	klog.Infof("Created instance %s (%s) on %s from %s", inst.Name, inst.ID, inst.Host, inst.Distro)
	f.publish(inst, nil)

	p := &provisioner{
		fleet:  f,
		inst:   inst,
		distro: d,
		state:  store.StateInit,
	}
	if err := f.tasks.Spawn(inst.ID, p.run); err != nil {
		p.fail(stageError(StageImageDownloadFailed, inst.Host, err))
		return inst, errors.Annotatef(err, "scheduling provisioning of %s", inst.Name)
	}

	return inst, nil
}

// provisioner carries one instance through the asynchronous provisioning
// steps, recording the last reached state.
type provisioner struct {
	fleet  *Fleet
	inst   store.Instance
	distro store.Distro
	state  store.State
}

func (p *provisioner) run(ctx context.Context) {
	err := p.provision(ctx)
	switch {
	case err == nil:
		klog.Infof("Instance %s is provisioned, waiting for cloud-init", p.inst.Name)
	case ctx.Err() != nil:
		klog.Infof("Provisioning of instance %s cancelled while %s", p.inst.Name, p.state)
	default:
		p.fail(err)
	}
}

// advance records the next workflow state, unless the workflow got
// cancelled.
func (p *provisioner) advance(ctx context.Context, next store.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inst, err := p.fleet.store.TransitionInstance(ctx, p.inst.ID, store.NewStatus(next), next.String())
	if err != nil {
		return err
	}
	p.inst = inst
	p.state = next
	p.fleet.publish(inst, nil)
	return nil
}

// fail records the terminal failure of the workflow at its last reached
// state.
func (p *provisioner) fail(cause error) {
	stage := StageImageDownloadFailed
	var se *StageError
	if errors.As(cause, &se) {
		stage = se.Stage
	}
	klog.Errorf("Provisioning of instance %s failed: %v", p.inst.Name, cause)
	p.fleet.exporter.ProvisioningFailed(stage)

	ctx, cancel := context.WithTimeout(context.Background(), provisionFailureTimeout)
	defer cancel()

	inst, err := p.fleet.store.FailInstance(ctx, p.inst.ID, p.state, cause.Error())
	if err != nil {
		klog.Errorf("Unable to record failure of instance %s: %v", p.inst.Name, err)
		return
	}
	p.inst = inst
	p.fleet.publish(inst, cause)
}

func (p *provisioner) provision(ctx context.Context) error {
	f := p.fleet
	host := p.inst.Host
	volume := p.inst.VolumeName

	image := f.imagePath(p.distro)
	cached, err := f.imageCached(ctx, host, image)
	if err != nil {
		return stageError(StageImageDownloadFailed, host, err)
	}
	if !cached {
		if err := p.advance(ctx, store.StateDownloading); err != nil {
			return err
		}
		di, err := f.fetchImage(ctx, host, p.distro, image)
		if err != nil {
			return stageError(StageImageDownloadFailed, host, err)
		}
		if err := fitsDisk(di, p.inst.DiskSizeGB); err != nil {
			return stageError(StageVolumeCreateFailed, host, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.volumes.Create(ctx, host, volume, p.inst.DiskSizeGB); err != nil {
		return stageError(StageVolumeCreateFailed, host, err)
	}

	if err := p.advance(ctx, store.StateHydrating); err != nil {
		return err
	}
	if err := f.volumes.Hydrate(ctx, host, image, p.distro.Format, volume); err != nil {
		return stageError(StageVolumeHydrateFailed, host, err)
	}

	if err := p.advance(ctx, store.StateSnapshotting); err != nil {
		return err
	}
	if err := f.volumes.Snapshot(ctx, host, volume, InitSnapshot); err != nil {
		return stageError(StageSnapshotFailed, host, err)
	}

	if err := p.advance(ctx, store.StateDefining); err != nil {
		return err
	}
	xml, err := virt.RenderDomain(virt.DomainSpec{
		Name:         p.inst.Name,
		UUID:         p.inst.ID,
		MAC:          p.inst.MACAddress,
		Device:       zfs.DevicePath(volume),
		SATA:         p.inst.SATA,
		MemoryMB:     p.inst.MemoryMB,
		CPUs:         p.inst.CPUs,
		CloudInitURL: f.cloudInitURL(p.inst.ID),
		Network:      f.settings.Network,
	})
	if err != nil {
		return stageError(StageDomainDefineFailed, host, err)
	}
	klog.Debugf("Domain definition of %s:\n%s", p.inst.Name, xml)

	hv, err := f.virt.Hypervisor(ctx, host)
	if err != nil {
		return stageError(StageDomainDefineFailed, host, err)
	}
	if err := hv.Define(ctx, xml); err != nil {
		return stageError(StageDomainDefineFailed, host, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := hv.Start(ctx, p.inst.ID); err != nil {
		return stageError(StageDomainStartFailed, host, err)
	}
	f.invalidateInventory(host)

	return p.advance(ctx, store.StateWaitingForGuest)
}

// cloudInitURL is the NoCloud seed URL guests are pointed to.
func (f *Fleet) cloudInitURL(id string) string {
	return fmt.Sprintf("%s/api/cloudinit/%s/", strings.TrimSuffix(f.settings.BaseURL, "/"), id)
}
