/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/remote"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/virt"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/zfs"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

// Resolver looks hypervisor hosts up before anything gets provisioned on
// them.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// KeyMinter hands out single-use overlay network auth keys.
type KeyMinter interface {
	EphemeralKey(ctx context.Context) (string, error)
}

// DownloadFunc fetches url into dst and checks its sha256 checksum.
type DownloadFunc func(ctx context.Context, url, dst, csum string) error

type FleetSettings struct {
	BaseURL        string
	Hosts          []string
	VolumePrefix   string
	ImageCacheDir  string
	Network        string
	ReleaseTimeout time.Duration

	// cloud-init templates, defaults apply when empty
	UserData   string
	VendorData string

	// directory relative image paths resolve against on the local host
	LocalDir string
}

// FleetDeps are the adapters a Fleet drives.
type FleetDeps struct {
	Store     *store.Store
	Executor  remote.Executor
	Volumes   *zfs.VolumeManager
	Virt      virt.Connector
	Tasks     *TaskRegistry
	Cache     *KumuCache
	Exporter  *KumuExporter
	Resolver  Resolver
	Keys      KeyMinter
	Download  DownloadFunc
	Clock     clock.Clock
	Templates *CloudInitTemplates
}

// Fleet owns the instances of every hypervisor host: provisioning,
// lifecycle and inventory all go through it.
type Fleet struct {
	settings FleetSettings

	store    *store.Store
	exec     remote.Executor
	volumes  *zfs.VolumeManager
	virt     virt.Connector
	tasks    *TaskRegistry
	cache    *KumuCache
	exporter *KumuExporter
	resolver Resolver
	keys     KeyMinter
	download DownloadFunc
	clock    clock.Clock
	tpl      *CloudInitTemplates

	locks *keyedMutex
}

func NewFleet(settings FleetSettings, deps FleetDeps) (*Fleet, error) {
	if deps.Store == nil || deps.Executor == nil || deps.Virt == nil {
		return nil, errors.NotValidf("fleet without store, executor or hypervisor connector")
	}
	if settings.BaseURL == "" {
		return nil, errors.NotValidf("fleet without base URL")
	}
	if settings.VolumePrefix == "" {
		settings.VolumePrefix = KumuDefaultVolumePrefix
	}
	if settings.ImageCacheDir == "" {
		settings.ImageCacheDir = KumuDefaultImageCacheDir
	}
	if settings.Network == "" {
		settings.Network = virt.DomainDefaultNetwork
	}
	if settings.ReleaseTimeout <= 0 {
		settings.ReleaseTimeout = KumuDefaultVolumeReleaseTimeout * time.Second
	}

	f := &Fleet{
		settings: settings,
		store:    deps.Store,
		exec:     deps.Executor,
		volumes:  deps.Volumes,
		virt:     deps.Virt,
		tasks:    deps.Tasks,
		cache:    deps.Cache,
		exporter: deps.Exporter,
		resolver: deps.Resolver,
		keys:     deps.Keys,
		download: deps.Download,
		clock:    deps.Clock,
		tpl:      deps.Templates,
		locks:    newKeyedMutex(),
	}

	if f.clock == nil {
		f.clock = clock.WallClock
	}
	if f.volumes == nil {
		f.volumes = zfs.NewVolumeManager(f.exec, f.clock)
	}
	if f.tasks == nil {
		f.tasks = NewTaskRegistry()
	}
	if f.cache == nil {
		f.cache = NewKumuCache(false, "", 0, 0)
	}
	if f.resolver == nil {
		f.resolver = net.DefaultResolver
	}
	if f.download == nil {
		f.download = common.DownloadFromURL
	}
	if f.tpl == nil {
		tpl, err := NewCloudInitTemplates("", "")
		if err != nil {
			return nil, err
		}
		f.tpl = tpl
	}

	return f, nil
}

func (f *Fleet) Tasks() *TaskRegistry {
	return f.tasks
}

func (f *Fleet) Store() *store.Store {
	return f.store
}

// publish notifies subscribers of the current status of inst.
func (f *Fleet) publish(inst store.Instance, cause error) {
	ev := StatusEvent{
		InstanceID: inst.ID,
		Status:     inst.Status,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	f.tasks.Publish(ev)
}

// keyedMutex serializes operations per key, forgetting keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: map[string]*refMutex{},
	}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
