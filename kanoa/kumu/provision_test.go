/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

func TestProvisionDownloadsMissingImage(t *testing.T) {
	tf := newTestFleet(t)

	inst := tf.provision(t, InstanceRequest{Name: "web-1"})

	assert.Equal(t, store.NewStatus(store.StateWaitingForGuest), inst.Status)
	assert.Equal(t, []string{
		store.AuditOpCreate,
		"downloading image",
		"hydrating volume",
		"snapshotting",
		"defining",
		"waiting for cloud-init",
	}, auditOps(t, tf.Store(), inst.ID))

	image := KumuDefaultImageCacheDir + "/" + testImageSha
	volume := KumuDefaultVolumePrefix + "/web-1"
	assert.Equal(t, []string{
		"stat " + image,
		"mkdir -p " + KumuDefaultImageCacheDir,
		"wget -q -O " + image + " " + testDistro.DownloadURL,
		"sha256sum " + image,
		"sudo zfs create -V 5G " + volume,
		"sudo qemu-img convert -f qcow2 -O raw " + image + " /dev/zvol/" + volume,
		"sudo zfs snapshot " + volume + "@init",
	}, tf.exec.Commands())

	assert.True(t, tf.hv.Running(inst.ID))
	xml := tf.hv.XML(inst.ID)
	assert.Contains(t, xml, "ds=nocloud-net;s="+testBaseURL+"/api/cloudinit/"+inst.ID+"/")
	assert.Contains(t, xml, inst.MACAddress)
	assert.Contains(t, xml, "/dev/zvol/"+volume)
}

func TestProvisionSkipsCachedImage(t *testing.T) {
	tf := newTestFleet(t)
	tf.exec.reply = func(ctx context.Context, cmd string) (int, string, string) {
		if strings.HasPrefix(cmd, "stat ") {
			return 0, "", ""
		}
		return hostReply(ctx, cmd)
	}

	inst := tf.provision(t, InstanceRequest{Name: "web-2"})

	assert.Equal(t, store.NewStatus(store.StateWaitingForGuest), inst.Status)
	assert.NotContains(t, auditOps(t, tf.Store(), inst.ID), "downloading image")
	assert.False(t, tf.exec.Ran("wget"))
}

func TestProvisionDownloadFailure(t *testing.T) {
	tf := newTestFleet(t)
	tf.exec.reply = func(ctx context.Context, cmd string) (int, string, string) {
		if strings.HasPrefix(cmd, "wget ") {
			return 8, "", "ERROR 404: Not Found."
		}
		return hostReply(ctx, cmd)
	}

	events, unsubscribe := tf.Tasks().Subscribe("")
	defer unsubscribe()

	inst := tf.provision(t, InstanceRequest{Name: "web-3"})

	assert.Equal(t, store.Failed(store.StateDownloading), inst.Status)
	assert.Equal(t, "failed: downloading image", inst.Status.String())

	image := KumuDefaultImageCacheDir + "/" + testImageSha
	assert.True(t, tf.exec.Ran("rm -f "+image))
	assert.False(t, tf.exec.Ran("sudo zfs create"))
	assert.False(t, tf.hv.Defined(inst.ID))

	audit, err := tf.Store().InstanceAuditEvents(context.Background(), inst.ID)
	require.NoError(t, err)
	last := audit[len(audit)-1]
	assert.Equal(t, store.AuditOpFailed, last.Op)
	assert.Contains(t, string(last.Data), "404")

	var failure StatusEvent
	for ev := range events {
		if ev.Status.IsFailed() {
			failure = ev
			break
		}
	}
	assert.Equal(t, inst.ID, failure.InstanceID)
	assert.Contains(t, failure.Error, StageImageDownloadFailed)
}

func TestProvisionChecksumMismatch(t *testing.T) {
	tf := newTestFleet(t)
	tf.exec.reply = func(ctx context.Context, cmd string) (int, string, string) {
		if strings.HasPrefix(cmd, "sha256sum ") {
			return 0, "deadbeef  image", ""
		}
		return hostReply(ctx, cmd)
	}

	inst := tf.provision(t, InstanceRequest{Name: "web-4"})

	assert.Equal(t, store.Failed(store.StateDownloading), inst.Status)
	assert.True(t, tf.exec.Ran("rm -f "))
}

func TestProvisionFailureStages(t *testing.T) {
	for _, tc := range []struct {
		name   string
		failOn string
		stage  store.State
	}{
		{"volume", "sudo zfs create", store.StateDownloading},
		{"hydrate", "sudo qemu-img", store.StateHydrating},
		{"snapshot", "sudo zfs snapshot", store.StateSnapshotting},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tf := newTestFleet(t)
			tf.exec.reply = func(ctx context.Context, cmd string) (int, string, string) {
				if strings.HasPrefix(cmd, tc.failOn) {
					return 1, "", "out of space"
				}
				return hostReply(ctx, cmd)
			}

			inst := tf.provision(t, InstanceRequest{Name: "db-" + tc.name})
			assert.Equal(t, store.Failed(tc.stage), inst.Status)
		})
	}
}

func TestProvisionDomainStartFailure(t *testing.T) {
	tf := newTestFleet(t)
	tf.hv.startErr = errors.New("not enough memory")

	inst := tf.provision(t, InstanceRequest{Name: "web-5"})

	assert.Equal(t, store.Failed(store.StateDefining), inst.Status)
	assert.True(t, tf.hv.Defined(inst.ID))
}

func TestCreateInstanceDefaults(t *testing.T) {
	tf := newTestFleet(t)

	inst, err := tf.CreateInstance(context.Background(), InstanceRequest{
		Host:       testHost,
		Distro:     testDistro.Name,
		DiskSizeGB: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, store.NewStatus(store.StateInit), inst.Status)
	assert.Equal(t, InstanceDefaultMemoryMB, inst.MemoryMB)
	assert.Equal(t, InstanceDefaultCPUs, inst.CPUs)
	assert.Equal(t, testDistro.MinSizeGB, inst.DiskSizeGB)
	assert.NoError(t, ValidInstanceName(inst.Name))
	assert.Equal(t, KumuDefaultVolumePrefix+"/"+inst.Name, inst.VolumeName)
	assert.Len(t, inst.ID, 36)
	assert.Len(t, inst.MACAddress, 17)

	userData, err := tf.Store().UserData(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(userData, "#cloud-config"))
	assert.Contains(t, userData, "hostname: "+inst.Name)
}

func TestCreateInstanceCustomShape(t *testing.T) {
	tf := newTestFleet(t)

	inst := tf.provision(t, InstanceRequest{
		Name:         "big-one",
		MemoryMB:     4096,
		CPUs:         8,
		DiskSizeGB:   40,
		VolumePrefix: "/tank/vms/",
		SATA:         true,
		UserData:     "#cloud-config\nruncmd: [true]\n",
	})

	assert.Equal(t, 4096, inst.MemoryMB)
	assert.Equal(t, 8, inst.CPUs)
	assert.Equal(t, 40, inst.DiskSizeGB)
	assert.Equal(t, "tank/vms/big-one", inst.VolumeName)
	assert.True(t, tf.exec.Ran("sudo zfs create -V 40G tank/vms/big-one"))
	assert.Contains(t, tf.hv.XML(inst.ID), `bus="sata"`)

	userData, err := tf.Store().UserData(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "#cloud-config\nruncmd: [true]\n", userData)
}

func TestCreateInstanceRejections(t *testing.T) {
	tf := newTestFleet(t, func(s *FleetSettings, d *FleetDeps) {
		d.Resolver = fakeResolver{unknown: []string{"nowhere"}}
	})
	ctx := context.Background()

	_, err := tf.CreateInstance(ctx, InstanceRequest{Host: "nowhere", Distro: testDistro.Name})
	assert.True(t, errors.Is(err, ErrHostUnreachable))

	_, err = tf.CreateInstance(ctx, InstanceRequest{Host: "  ", Distro: testDistro.Name})
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = tf.CreateInstance(ctx, InstanceRequest{Host: testHost, Distro: "ubuntu-2404"})
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Contains(t, err.Error(), `did you mean "ubuntu-24.04"`)

	_, err = tf.CreateInstance(ctx, InstanceRequest{Host: testHost, Distro: testDistro.Name, MemoryMB: -1})
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = tf.CreateInstance(ctx, InstanceRequest{Name: "Not_A_Hostname", Host: testHost, Distro: testDistro.Name})
	assert.True(t, errors.Is(err, errors.NotValid))

	instances, err := tf.Store().ListInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestCreateInstanceDuplicateName(t *testing.T) {
	tf := newTestFleet(t)
	tf.provision(t, InstanceRequest{Name: "twin"})

	_, err := tf.CreateInstance(context.Background(), InstanceRequest{Name: "twin", Host: testHost, Distro: testDistro.Name})
	assert.True(t, errors.Is(err, errors.AlreadyExists))
}

func TestProvisionPublishesEveryStep(t *testing.T) {
	tf := newTestFleet(t)

	events, unsubscribe := tf.Tasks().Subscribe("")
	defer unsubscribe()

	inst := tf.provision(t, InstanceRequest{Name: "chatty"})

	statuses := []string{}
	timeout := time.After(testWaitLimit)
	for len(statuses) < 6 {
		select {
		case ev := <-events:
			require.Equal(t, inst.ID, ev.InstanceID)
			statuses = append(statuses, ev.Status.String())
		case <-timeout:
			t.Fatalf("missing status events, got %v", statuses)
		}
	}
	assert.Equal(t, []string{
		"init",
		"downloading image",
		"hydrating volume",
		"snapshotting",
		"defining",
		"waiting for cloud-init",
	}, statuses)

	raw, err := json.Marshal(StatusEvent{InstanceID: inst.ID, Status: inst.Status})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+inst.ID+`","status":"waiting for cloud-init"}`, string(raw))
}
