/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

// Package zfs manages ZFS block volumes (zvols) on hypervisor hosts.
package zfs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/remote"
)

const (
	ZvolDevicePrefix = "/dev/zvol/"

	ReleasePollInterval = 250 * time.Millisecond

	ErrVolumeNotFound = errors.ConstError("volume does not exist")
	ErrVolumeBusy     = errors.ConstError("volume is still in use")
)

// VolumeManager drives `zfs` and `qemu-img` on a host through an executor.
type VolumeManager struct {
	exec  remote.Executor
	clock clock.Clock
}

func NewVolumeManager(exec remote.Executor, clk clock.Clock) *VolumeManager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &VolumeManager{
		exec:  exec,
		clock: clk,
	}
}

// DevicePath is the block device node backing volume.
func DevicePath(volume string) string {
	return ZvolDevicePrefix + volume
}

func SnapshotName(volume, tag string) string {
	return fmt.Sprintf("%s@%s", volume, tag)
}

func notFound(err error) bool {
	ce, ok := remote.AsCommandError(err)
	return ok && strings.Contains(ce.Stderr, "does not exist")
}

func (vm *VolumeManager) zfs(ctx context.Context, host string, args ...string) error {
	_, err := vm.exec.Run(ctx, host, append([]string{"sudo", "zfs"}, args...)...)
	return err
}

// Create allocates a sparse-less zvol of sizeGB gigabytes.
func (vm *VolumeManager) Create(ctx context.Context, host, volume string, sizeGB int) error {
	if sizeGB <= 0 {
		return errors.NotValidf("volume size %dG", sizeGB)
	}
	klog.Infof("Creating %dG volume %s on %s ...", sizeGB, volume, host)
	return errors.Annotatef(vm.zfs(ctx, host, "create", "-V", fmt.Sprintf("%dG", sizeGB), volume), "creating volume %s", volume)
}

// Destroy removes volume and all of its snapshots. A volume which is
// already gone reports ErrVolumeNotFound.
func (vm *VolumeManager) Destroy(ctx context.Context, host, volume string) error {
	klog.Infof("Destroying volume %s on %s ...", volume, host)
	err := vm.zfs(ctx, host, "destroy", "-rf", volume)
	if notFound(err) {
		return errors.Annotate(ErrVolumeNotFound, volume)
	}
	return errors.Annotatef(err, "destroying volume %s", volume)
}

func (vm *VolumeManager) Snapshot(ctx context.Context, host, volume, tag string) error {
	snap := SnapshotName(volume, tag)
	klog.Infof("Snapshotting volume %s on %s ...", snap, host)
	return errors.Annotatef(vm.zfs(ctx, host, "snapshot", snap), "snapshotting %s", snap)
}

// Rollback resets volume to the given snapshot, discarding any later
// snapshot.
func (vm *VolumeManager) Rollback(ctx context.Context, host, volume, tag string) error {
	snap := SnapshotName(volume, tag)
	klog.Infof("Rolling back volume %s on %s ...", snap, host)
	err := vm.zfs(ctx, host, "rollback", "-r", snap)
	if notFound(err) {
		return errors.Annotate(ErrVolumeNotFound, snap)
	}
	return errors.Annotatef(err, "rolling back to %s", snap)
}

// Hydrate writes image, converted to raw, onto the volume block device.
func (vm *VolumeManager) Hydrate(ctx context.Context, host, image, format, volume string) error {
	args := []string{"sudo", "qemu-img", "convert"}
	if format != "" {
		args = append(args, "-f", format)
	}
	args = append(args, "-O", "raw", image, DevicePath(volume))

	klog.Infof("Hydrating volume %s on %s from %s ...", volume, host, image)
	_, err := vm.exec.Run(ctx, host, args...)
	return errors.Annotatef(err, "hydrating volume %s", volume)
}

// InUse reports whether any process still holds the volume device open.
// fuser exits 0 when it found users and 1 when it found none.
func (vm *VolumeManager) InUse(ctx context.Context, host, volume string) (bool, error) {
	_, err := vm.exec.Run(ctx, host, "sudo", "fuser", "-s", DevicePath(volume))
	switch {
	case err == nil:
		return true, nil
	case remote.IsExitCode(err, 1):
		return false, nil
	}
	return false, errors.Annotatef(err, "probing users of %s", volume)
}

// WaitReleased polls until no process holds the volume device, giving up
// with ErrVolumeBusy after timeout.
func (vm *VolumeManager) WaitReleased(ctx context.Context, host, volume string, timeout time.Duration) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			busy, err := vm.InUse(ctx, host, volume)
			if err != nil {
				return err
			}
			if busy {
				return ErrVolumeBusy
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, ErrVolumeBusy)
		},
		NotifyFunc: func(lastError error, attempt int) {
			klog.Debugf("Volume %s on %s still in use (attempt %d)", volume, host, attempt)
		},
		Attempts:    -1,
		Delay:       ReleasePollInterval,
		MaxDuration: timeout,
		Clock:       vm.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
		return errors.Annotatef(ErrVolumeBusy, "%s after %s", volume, timeout)
	}
	return errors.Trace(retry.LastError(err))
}
