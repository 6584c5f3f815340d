/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

func TestMetaData(t *testing.T) {
	tf := newTestFleet(t)
	inst := tf.provision(t, InstanceRequest{Name: "meta"})

	md, err := tf.MetaData(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "instance-id: "+inst.ID+"\nlocal-hostname: meta", md)

	_, err = tf.MetaData(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestUserDataMarksGuestRunning(t *testing.T) {
	tf := newTestFleet(t)
	ctx := context.Background()
	inst := tf.provision(t, InstanceRequest{Name: "booter"})
	require.Equal(t, store.NewStatus(store.StateWaitingForGuest), inst.Status)

	ud, err := tf.UserData(ctx, inst.ID)
	require.NoError(t, err)
	assert.Contains(t, ud, "hostname: booter")

	current, err := tf.Store().GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NewStatus(store.StateRunning), current.Status)

	// later fetches change nothing
	_, err = tf.UserData(ctx, inst.ID)
	require.NoError(t, err)
	ops := auditOps(t, tf.Store(), inst.ID)
	assert.Equal(t, CloudInitOpRunning, ops[len(ops)-1])
	assert.Equal(t, 1, strings.Count(strings.Join(ops, ","), CloudInitOpRunning))
}

func TestUserDataKeepsOperationalStatus(t *testing.T) {
	tf := newTestFleet(t)
	ctx := context.Background()
	inst := tf.provision(t, InstanceRequest{Name: "offline"})

	_, err := tf.ShutdownInstance(ctx, inst.ID)
	require.NoError(t, err)

	_, err = tf.UserData(ctx, inst.ID)
	require.NoError(t, err)

	current, err := tf.Store().GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NewStatus(store.StateOff), current.Status)
}

func TestVendorData(t *testing.T) {
	tf := newTestFleet(t, func(s *FleetSettings, d *FleetDeps) {
		d.Keys = fakeKeys{key: "tskey-auth-k123"}
	})
	ctx := context.Background()

	plain := tf.provision(t, InstanceRequest{Name: "island"})
	vd, err := tf.VendorData(ctx, plain.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(vd, "#cloud-config"))
	assert.Contains(t, vd, "{}")
	assert.NotContains(t, vd, "tailscale")

	joined := tf.provision(t, InstanceRequest{Name: "joiner", JoinNetwork: true})
	vd, err = tf.VendorData(ctx, joined.ID)
	require.NoError(t, err)
	assert.Contains(t, vd, "--authkey=tskey-auth-k123")
	assert.Contains(t, vd, "--hostname=joiner")
}

func TestVendorDataWithoutKeyMinter(t *testing.T) {
	tf := newTestFleet(t)
	joined := tf.provision(t, InstanceRequest{Name: "lonely", JoinNetwork: true})

	_, err := tf.VendorData(context.Background(), joined.ID)
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestVendorDataKeyFailure(t *testing.T) {
	tf := newTestFleet(t, func(s *FleetSettings, d *FleetDeps) {
		d.Keys = fakeKeys{err: errors.New("tailnet quota exceeded")}
	})
	joined := tf.provision(t, InstanceRequest{Name: "unlucky", JoinNetwork: true})

	_, err := tf.VendorData(context.Background(), joined.ID)
	assert.ErrorContains(t, err, "tailnet quota exceeded")
}

func TestCustomCloudInitTemplates(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user-data.tpl")
	vendorPath := filepath.Join(dir, "vendor-data.tpl")
	require.NoError(t, os.WriteFile(userPath, []byte("#cloud-config\nhostname: {{ .Name | upper }}\n"), 0o600))
	require.NoError(t, os.WriteFile(vendorPath, []byte("#cloud-config\n# {{ .Distro }} on {{ .Host }}\n"), 0o600))

	tpl, err := NewCloudInitTemplates(userPath, vendorPath)
	require.NoError(t, err)

	data := CloudInitSettings{Name: "shouty", Host: testHost, Distro: testDistro.Name}
	ud, err := tpl.UserData(data)
	require.NoError(t, err)
	assert.Equal(t, "#cloud-config\nhostname: SHOUTY\n", ud)

	vd, err := tpl.VendorData(data)
	require.NoError(t, err)
	assert.Equal(t, "#cloud-config\n# ubuntu-24.04 on logos\n", vd)

	_, err = NewCloudInitTemplates(filepath.Join(dir, "missing"), "")
	assert.Error(t, err)
}

func TestDefaultUserDataHashesPassword(t *testing.T) {
	tpl, err := NewCloudInitTemplates("", "")
	require.NoError(t, err)

	ud, err := tpl.UserData(CloudInitSettings{Name: "hashed"})
	require.NoError(t, err)
	assert.Contains(t, ud, "password: $6$")
	assert.Contains(t, ud, "qemu-guest-agent")
}
