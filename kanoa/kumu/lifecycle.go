/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"

	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/virt"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/zfs"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

const (
	LifecycleOpStart      = "start"
	LifecycleOpShutdown   = "shutdown"
	LifecycleOpReboot     = "reboot"
	LifecycleOpHardReboot = "hardreboot"
	LifecycleOpReinit     = "reinit"
	LifecycleOpDelete     = "delete"
)

type lifecycleAction func(ctx context.Context, hv virt.Hypervisor, inst store.Instance) error

// accept turns the listed sentinel errors into successes.
func accept(err error, sentinels ...error) error {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			klog.Debugf("Accepting %v", err)
			return nil
		}
	}
	return err
}

// lifecycle runs action against the hypervisor of an instance and records
// next as its status. Nothing gets recorded when action fails.
func (f *Fleet) lifecycle(ctx context.Context, id, op string, next store.State, action lifecycleAction) (store.Instance, error) {
	unlock := f.locks.Lock(id)
	defer unlock()

	inst, err := f.store.GetInstance(ctx, id)
	if err != nil {
		return store.Instance{}, err
	}

	status := store.NewStatus(next)
	if !inst.Status.CanTransition(status) {
		return inst, errors.Annotatef(store.ErrInvalidTransition, "cannot %s instance %q while %s", op, inst.Name, inst.Status)
	}

	hv, err := f.virt.Hypervisor(ctx, inst.Host)
	if err != nil {
		return inst, errors.Annotatef(err, "connecting to %s", inst.Host)
	}

	klog.Infof("Running %s on instance %s (%s)", op, inst.Name, inst.Host)
	if err := action(ctx, hv, inst); err != nil {
		return inst, errors.Annotatef(err, "%s instance %q", op, inst.Name)
	}
	f.invalidateInventory(inst.Host)

	inst, err = f.store.TransitionInstance(ctx, id, status, op)
	if err != nil {
		return inst, err
	}
	f.exporter.LifecycleOp(op)
	f.publish(inst, nil)

	return inst, nil
}

// StartInstance boots the domain. Starting a running domain is accepted.
func (f *Fleet) StartInstance(ctx context.Context, id string) (store.Instance, error) {
	return f.lifecycle(ctx, id, LifecycleOpStart, store.StateStarting,
		func(ctx context.Context, hv virt.Hypervisor, inst store.Instance) error {
			return accept(hv.Start(ctx, inst.ID), virt.ErrDomainRunning)
		})
}

// ShutdownInstance asks the guest to power off. Stopped domains are
// accepted.
func (f *Fleet) ShutdownInstance(ctx context.Context, id string) (store.Instance, error) {
	return f.lifecycle(ctx, id, LifecycleOpShutdown, store.StateOff,
		func(ctx context.Context, hv virt.Hypervisor, inst store.Instance) error {
			return accept(hv.Shutdown(ctx, inst.ID), virt.ErrDomainNotRunning)
		})
}

// RebootInstance asks the guest to reboot, which requires it to run.
func (f *Fleet) RebootInstance(ctx context.Context, id string) (store.Instance, error) {
	return f.lifecycle(ctx, id, LifecycleOpReboot, store.StateRebooting,
		func(ctx context.Context, hv virt.Hypervisor, inst store.Instance) error {
			return hv.Reboot(ctx, inst.ID)
		})
}

// HardRebootInstance pulls the plug and boots the domain again.
func (f *Fleet) HardRebootInstance(ctx context.Context, id string) (store.Instance, error) {
	return f.lifecycle(ctx, id, LifecycleOpHardReboot, store.StateRebooting,
		func(ctx context.Context, hv virt.Hypervisor, inst store.Instance) error {
			if err := accept(hv.Destroy(ctx, inst.ID), virt.ErrDomainNotRunning); err != nil {
				return err
			}
			return hv.Start(ctx, inst.ID)
		})
}

// ReinitInstance resets the disk to its pristine snapshot and boots it, so
// cloud-init runs again.
func (f *Fleet) ReinitInstance(ctx context.Context, id string) (store.Instance, error) {
	return f.lifecycle(ctx, id, LifecycleOpReinit, store.StateReinitializing,
		func(ctx context.Context, hv virt.Hypervisor, inst store.Instance) error {
			if err := accept(hv.Destroy(ctx, inst.ID), virt.ErrDomainNotRunning); err != nil {
				return err
			}
			if err := f.volumes.WaitReleased(ctx, inst.Host, inst.VolumeName, f.settings.ReleaseTimeout); err != nil {
				return err
			}
			if err := f.volumes.Rollback(ctx, inst.Host, inst.VolumeName, InitSnapshot); err != nil {
				return err
			}
			return hv.Start(ctx, inst.ID)
		})
}

// DeleteInstance stops any running workflow for the instance, tears its
// domain and volume down, then forgets it. Pieces already gone are
// accepted, and rows stay untouched when teardown fails.
func (f *Fleet) DeleteInstance(ctx context.Context, id string) (store.Instance, error) {
	unlock := f.locks.Lock(id)
	defer unlock()

	inst, err := f.store.GetInstance(ctx, id)
	if err != nil {
		return store.Instance{}, err
	}

	if err := f.tasks.CancelAndWait(ctx, id); err != nil {
		return inst, errors.Annotatef(err, "waiting for provisioning of %q to stop", inst.Name)
	}

	if err := f.teardown(ctx, inst); err != nil {
		return inst, errors.Annotatef(err, "deleting instance %q", inst.Name)
	}
	f.invalidateInventory(inst.Host)

	inst, err = f.store.DeleteInstance(ctx, id)
	if err != nil {
		return inst, err
	}
	klog.Infof("Deleted instance %s (%s) from %s", inst.Name, inst.ID, inst.Host)
	f.exporter.LifecycleOp(LifecycleOpDelete)
	f.tasks.Publish(StatusEvent{
		InstanceID: inst.ID,
		Status:     inst.Status,
		Deleted:    true,
	})

	return inst, nil
}

func (f *Fleet) teardown(ctx context.Context, inst store.Instance) error {
	hv, err := f.virt.Hypervisor(ctx, inst.Host)
	if err != nil {
		return errors.Annotatef(err, "connecting to %s", inst.Host)
	}

	err = hv.Destroy(ctx, inst.ID)
	if err := accept(err, virt.ErrDomainNotRunning, virt.ErrDomainNotFound); err != nil {
		return err
	}
	err = hv.Undefine(ctx, inst.ID)
	if err := accept(err, virt.ErrDomainNotFound); err != nil {
		return err
	}

	if err := f.volumes.WaitReleased(ctx, inst.Host, inst.VolumeName, f.settings.ReleaseTimeout); err != nil {
		return err
	}
	err = f.volumes.Destroy(ctx, inst.Host, inst.VolumeName)
	return accept(err, zfs.ErrVolumeNotFound)
}
