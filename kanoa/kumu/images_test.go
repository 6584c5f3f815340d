/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

var rawDistro = store.Distro{
	Name:        "alpine-3.22",
	DownloadURL: "https://dl-cdn.alpinelinux.org/alpine/v3.22/releases/cloud/alpine.raw",
	Sha256Sum:   testImageSha,
	MinSizeGB:   1,
	Format:      "raw",
}

// newLocalFleet runs the fleet on the local host, where images go through
// download instead of wget.
func newLocalFleet(t *testing.T, download DownloadFunc) (*testFleet, *fakeHypervisor, string) {
	t.Helper()
	dir := t.TempDir()
	hv := newFakeHypervisor(common.LocalHost)
	tf := newTestFleet(t, func(s *FleetSettings, d *FleetDeps) {
		s.Hosts = []string{common.LocalHost}
		s.LocalDir = dir
		d.Download = download
		d.Virt.(*fakeConnector).hosts[common.LocalHost] = hv
	})
	_, err := tf.Store().CreateDistro(context.Background(), rawDistro)
	require.NoError(t, err)
	return tf, hv, dir
}

func writeImage(size int64) DownloadFunc {
	return func(ctx context.Context, url, dst, csum string) error {
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return err
		}
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		if _, err := f.Write(bytes.Repeat([]byte{0x5a}, 512)); err != nil {
			return err
		}
		return f.Truncate(size)
	}
}

func TestLocalImageInspected(t *testing.T) {
	tf, hv, dir := newLocalFleet(t, writeImage(common.MiB))

	inst := tf.provision(t, InstanceRequest{Name: "local-1", Host: common.LocalHost, Distro: rawDistro.Name})

	assert.Equal(t, store.NewStatus(store.StateWaitingForGuest), inst.Status)
	assert.False(t, tf.exec.Ran("wget"))
	assert.True(t, tf.exec.Ran("sudo qemu-img convert -f raw"))
	assert.True(t, hv.Running(inst.ID))

	_, err := os.Stat(filepath.Join(dir, KumuDefaultImageCacheDir, testImageSha))
	assert.NoError(t, err)
}

func TestLocalImageFormatMismatch(t *testing.T) {
	tf, hv, _ := newLocalFleet(t, writeImage(common.MiB))

	inst := tf.provision(t, InstanceRequest{Name: "local-2", Host: common.LocalHost})

	assert.Equal(t, store.Failed(store.StateDownloading), inst.Status)
	assert.True(t, tf.exec.Ran("rm -f "+KumuDefaultImageCacheDir+"/"+testImageSha))
	assert.False(t, tf.exec.Ran("sudo zfs create"))
	assert.False(t, hv.Defined(inst.ID))

	audit, err := tf.Store().InstanceAuditEvents(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Contains(t, string(audit[len(audit)-1].Data), ErrImageFormat.Error())
}

func TestLocalImageLargerThanDisk(t *testing.T) {
	tf, _, _ := newLocalFleet(t, writeImage(2*common.GiB))

	inst := tf.provision(t, InstanceRequest{Name: "local-3", Host: common.LocalHost, Distro: rawDistro.Name})

	assert.Equal(t, store.Failed(store.StateDownloading), inst.Status)
	assert.False(t, tf.exec.Ran("sudo zfs create"))

	audit, err := tf.Store().InstanceAuditEvents(context.Background(), inst.ID)
	require.NoError(t, err)
	last := audit[len(audit)-1]
	assert.Equal(t, store.AuditOpFailed, last.Op)
	assert.Contains(t, string(last.Data), ErrImageTooLarge.Error())
}
