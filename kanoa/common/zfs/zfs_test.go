/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package zfs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/remote"
)

type scriptedExecutor struct {
	mu       sync.Mutex
	commands []string
	reply    func(cmd string) (int, string)
}

func (e *scriptedExecutor) Run(ctx context.Context, host string, argv ...string) (*remote.Result, error) {
	cmd := strings.Join(argv, " ")
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	e.mu.Unlock()

	code, stderr := 0, ""
	if e.reply != nil {
		code, stderr = e.reply(cmd)
	}
	res := &remote.Result{ExitCode: code, Stderr: stderr}
	if code != 0 {
		return res, &remote.CommandError{Host: host, Command: cmd, ExitCode: code, Stderr: stderr}
	}
	return res, nil
}

func TestVolumeCommands(t *testing.T) {
	exec := &scriptedExecutor{}
	vm := NewVolumeManager(exec, clock.WallClock)
	ctx := context.Background()

	require.NoError(t, vm.Create(ctx, "logos", "rpool/vms/foo", 5))
	require.NoError(t, vm.Hydrate(ctx, "logos", ".cache/img", "qcow2", "rpool/vms/foo"))
	require.NoError(t, vm.Snapshot(ctx, "logos", "rpool/vms/foo", "init"))
	require.NoError(t, vm.Rollback(ctx, "logos", "rpool/vms/foo", "init"))
	require.NoError(t, vm.Destroy(ctx, "logos", "rpool/vms/foo"))

	assert.Equal(t, []string{
		"sudo zfs create -V 5G rpool/vms/foo",
		"sudo qemu-img convert -f qcow2 -O raw .cache/img /dev/zvol/rpool/vms/foo",
		"sudo zfs snapshot rpool/vms/foo@init",
		"sudo zfs rollback -r rpool/vms/foo@init",
		"sudo zfs destroy -rf rpool/vms/foo",
	}, exec.commands)
}

func TestCreateRejectsEmptySize(t *testing.T) {
	vm := NewVolumeManager(&scriptedExecutor{}, nil)
	err := vm.Create(context.Background(), "logos", "rpool/vms/foo", 0)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestDestroyMissingVolume(t *testing.T) {
	exec := &scriptedExecutor{
		reply: func(cmd string) (int, string) {
			return 1, "cannot open 'rpool/vms/foo': dataset does not exist\n"
		},
	}
	vm := NewVolumeManager(exec, nil)

	err := vm.Destroy(context.Background(), "logos", "rpool/vms/foo")
	assert.True(t, errors.Is(err, ErrVolumeNotFound))
}

func TestDestroyFailureKeepsStderr(t *testing.T) {
	exec := &scriptedExecutor{
		reply: func(cmd string) (int, string) {
			return 1, "cannot destroy: dataset is busy\n"
		},
	}
	vm := NewVolumeManager(exec, nil)

	err := vm.Destroy(context.Background(), "logos", "rpool/vms/foo")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrVolumeNotFound))
	assert.Contains(t, err.Error(), "dataset is busy")
}

func TestWaitReleasedPollsUntilFree(t *testing.T) {
	probes := 0
	exec := &scriptedExecutor{
		reply: func(cmd string) (int, string) {
			probes++
			if probes < 3 {
				return 0, ""
			}
			return 1, ""
		},
	}
	vm := NewVolumeManager(exec, clock.WallClock)

	err := vm.WaitReleased(context.Background(), "logos", "rpool/vms/foo", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, probes)
	assert.Equal(t, "sudo fuser -s /dev/zvol/rpool/vms/foo", exec.commands[0])
}

func TestWaitReleasedFreeVolume(t *testing.T) {
	exec := &scriptedExecutor{
		reply: func(cmd string) (int, string) {
			return 1, ""
		},
	}
	vm := NewVolumeManager(exec, clock.WallClock)

	err := vm.WaitReleased(context.Background(), "logos", "rpool/vms/foo", time.Second)
	assert.NoError(t, err)
	assert.Len(t, exec.commands, 1)
}

func TestWaitReleasedTimesOut(t *testing.T) {
	exec := &scriptedExecutor{}
	vm := NewVolumeManager(exec, clock.WallClock)

	err := vm.WaitReleased(context.Background(), "logos", "rpool/vms/foo", 600*time.Millisecond)
	assert.True(t, errors.Is(err, ErrVolumeBusy))
}

func TestWaitReleasedProbeFailure(t *testing.T) {
	exec := &scriptedExecutor{
		reply: func(cmd string) (int, string) {
			return 127, "sudo: fuser: command not found"
		},
	}
	vm := NewVolumeManager(exec, clock.WallClock)

	err := vm.WaitReleased(context.Background(), "logos", "rpool/vms/foo", time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrVolumeBusy))
	assert.Contains(t, err.Error(), "command not found")
}
