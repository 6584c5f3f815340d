/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	clk := testclock.NewClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "kumu.db"), 4, clk)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

var testDistro = Distro{
	Name:        "ubuntu-24.04",
	DownloadURL: "https://cloud-images.ubuntu.com/noble/current/noble-server-cloudimg-amd64.img",
	Sha256Sum:   "4f8b5b4b6f3a3c1e0c1c9c6d7d0f9d2e4a7e7f2b6c5c8a1b2d3e4f5a6b7c8d9e",
	MinSizeGB:   5,
}

func testInstance(id, name string) Instance {
	return Instance{
		ID:         id,
		Name:       name,
		Host:       "logos",
		MACAddress: "52:54:00:aa:bb:cc",
		MemoryMB:   512,
		CPUs:       2,
		DiskSizeGB: 5,
		VolumeName: "rpool/safe/vms/" + name,
		Distro:     testDistro.Name,
		Status:     NewStatus(StateInit),
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Bootstrap(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestCreateInstanceRecordsSeedAndAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inst, err := s.CreateInstance(ctx, testInstance("id-1", "cheerful-otter"), "#cloud-config\n")
	require.NoError(t, err)
	assert.Equal(t, NewStatus(StateInit), inst.Status)
	assert.False(t, inst.CreatedAt.IsZero())

	got, err := s.GetInstance(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, inst, got)

	byName, err := s.GetInstanceByName(ctx, "cheerful-otter")
	require.NoError(t, err)
	assert.Equal(t, "id-1", byName.ID)

	userData, err := s.UserData(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "#cloud-config\n", userData)

	events, err := s.InstanceAuditEvents(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, AuditOpCreate, events[0].Op)
	assert.Equal(t, AuditKindInstance, events[0].Kind)
	assert.Equal(t, "cheerful-otter", events[0].EntityName)
	assert.Contains(t, string(events[0].Data), `"status":"init"`)
}

func TestCreateInstanceDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateInstance(ctx, testInstance("id-1", "cheerful-otter"), "")
	require.NoError(t, err)
	_, err = s.CreateInstance(ctx, testInstance("id-2", "cheerful-otter"), "")
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	exists, err := s.InstanceNameExists(ctx, "cheerful-otter")
	require.NoError(t, err)
	assert.True(t, exists)

	instances, err := s.ListInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, instances, 1)

	events, err := s.AuditEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestGetMissingInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetInstance(ctx, "nope")
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = s.GetInstanceByName(ctx, "nope")
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = s.UserData(ctx, "nope")
	assert.True(t, errors.Is(err, errors.NotFound))

	instances, err := s.ListInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestTransitionInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateInstance(ctx, testInstance("id-1", "cheerful-otter"), "")
	require.NoError(t, err)

	inst, err := s.TransitionInstance(ctx, "id-1", NewStatus(StateDownloading), StateDownloading.String())
	require.NoError(t, err)
	assert.Equal(t, NewStatus(StateDownloading), inst.Status)

	_, err = s.TransitionInstance(ctx, "id-1", NewStatus(StateRunning), "running")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	inst, err = s.FailInstance(ctx, "id-1", StateDownloading, "wget: 404 Not Found")
	require.NoError(t, err)
	assert.Equal(t, "failed: downloading image", inst.Status.String())

	got, err := s.GetInstance(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, Failed(StateDownloading), got.Status)

	events, err := s.InstanceAuditEvents(ctx, "id-1")
	require.NoError(t, err)
	ops := []string{}
	for _, ev := range events {
		ops = append(ops, ev.Op)
	}
	assert.Equal(t, []string{"create", "downloading image", "failed"}, ops)
	assert.Contains(t, string(events[2].Data), "wget: 404 Not Found")

	counts, err := s.CountInstancesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"failed: downloading image": 1}, counts)
}

func TestDeleteInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateInstance(ctx, testInstance("id-1", "cheerful-otter"), "#cloud-config\n")
	require.NoError(t, err)

	deleted, err := s.DeleteInstance(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "cheerful-otter", deleted.Name)

	_, err = s.GetInstance(ctx, "id-1")
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = s.UserData(ctx, "id-1")
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = s.DeleteInstance(ctx, "id-1")
	assert.True(t, errors.Is(err, errors.NotFound))

	events, err := s.InstanceAuditEvents(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, AuditOpDelete, events[1].Op)
	assert.Less(t, events[0].ID, events[1].ID)

	// the name is free again
	_, err = s.CreateInstance(ctx, testInstance("id-2", "cheerful-otter"), "")
	require.NoError(t, err)
}

func TestDistroCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.CreateDistro(ctx, testDistro)
	require.NoError(t, err)
	assert.Equal(t, DistroDefaultFormat, d.Format)

	_, err = s.CreateDistro(ctx, testDistro)
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	updated := testDistro
	updated.DownloadURL = "https://mirror.example/noble.img"
	updated.Format = "raw"
	_, err = s.UpsertDistro(ctx, updated)
	require.NoError(t, err)

	distros, err := s.ListDistros(ctx)
	require.NoError(t, err)
	require.Len(t, distros, 1)
	assert.Equal(t, "https://mirror.example/noble.img", distros[0].DownloadURL)
	assert.Equal(t, "raw", distros[0].Format)

	got, err := s.GetDistro(ctx, testDistro.Name)
	require.NoError(t, err)
	assert.Equal(t, distros[0], got)

	_, err = s.GetDistro(ctx, "arch")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestDistroValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, mutate := range []func(*Distro){
		func(d *Distro) { d.Name = " " },
		func(d *Distro) { d.DownloadURL = "" },
		func(d *Distro) { d.Sha256Sum = "" },
		func(d *Distro) { d.Sha256Sum = "../../../etc/passwd" },
		func(d *Distro) { d.Sha256Sum = "abc123 *" },
		func(d *Distro) { d.MinSizeGB = 0 },
	} {
		d := testDistro
		mutate(&d)
		_, err := s.UpsertDistro(ctx, d)
		assert.True(t, errors.Is(err, errors.NotValid))
	}

	distros, err := s.ListDistros(ctx)
	require.NoError(t, err)
	assert.Empty(t, distros)

	short := testDistro
	short.Sha256Sum = "ABC123"
	_, err = s.UpsertDistro(ctx, short)
	assert.NoError(t, err)
}

func TestDeleteDistro(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.DeleteDistro(ctx, testDistro.Name)
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = s.CreateDistro(ctx, testDistro)
	require.NoError(t, err)
	_, err = s.CreateInstance(ctx, testInstance("id-1", "cheerful-otter"), "")
	require.NoError(t, err)

	_, err = s.DeleteDistro(ctx, testDistro.Name)
	assert.True(t, errors.Is(err, ErrDistroInUse))

	_, err = s.DeleteInstance(ctx, "id-1")
	require.NoError(t, err)
	_, err = s.DeleteDistro(ctx, testDistro.Name)
	require.NoError(t, err)

	events, err := s.AuditEvents(ctx)
	require.NoError(t, err)
	ops := []string{}
	for _, ev := range events {
		if ev.Kind == AuditKindDistro {
			ops = append(ops, ev.Op)
		}
	}
	assert.Equal(t, []string{"create", "delete"}, ops)
}
