/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/remote"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/virt"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/zfs"
	"github.com/kowabunga-cloud/kanoa/kanoa/sdk"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
	"github.com/kowabunga-cloud/kanoa/kanoa/tailscale"
)

const (
	KumuTasksGraceTimeoutSeconds = 30
	KumuPreFlightTimeoutSeconds  = 30
)

// KumuEngine wires the daemon together. Every dependency is built here and
// handed down, nothing lives in package globals.
type KumuEngine struct {
	ApiRouters  []sdk.Router
	Auth        *Authenticator
	MaxInFlight int
	Exporter    *KumuExporter
	Fleet       *Fleet

	store     *store.Store
	ssh       *remote.SSHExecutor
	connector virt.Connector
	tasks     *TaskRegistry
}

func (ke *KumuEngine) PreFlight(cfg KumuConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), KumuPreFlightTimeoutSeconds*time.Second)
	defer cancel()

	// database connection
	st, err := store.Open(ctx, cfg.Global.DB.Path, cfg.Global.DB.MaxOpenConns, clock.WallClock)
	if err != nil {
		klog.Errorf("Unable to open SQLite database: %s", err)
		return err
	}
	ke.store = st

	return nil
}

func (ke *KumuEngine) Cleanup() {
	if ke.tasks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), KumuTasksGraceTimeoutSeconds*time.Second)
		if err := ke.tasks.Shutdown(ctx); err != nil {
			klog.Errorf("Background tasks did not stop in time: %v", err)
		}
		cancel()
	}
	if ke.Exporter != nil {
		ke.Exporter.Stop()
	}
	if ke.connector != nil {
		ke.connector.Close()
	}
	if ke.ssh != nil {
		ke.ssh.Close()
	}
	if ke.store != nil {
		if err := ke.store.Close(); err != nil {
			klog.Errorf("%v", err)
		}
	}
}

// MigrateDatabase bootstraps the schema, which is idempotent.
func (ke *KumuEngine) MigrateDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), KumuPreFlightTimeoutSeconds*time.Second)
	defer cancel()

	if err := ke.store.Bootstrap(ctx); err != nil {
		return err
	}
	klog.Infof("Database schema is up to date")
	return nil
}

// Token prints a JWT for subject.
func (ke *KumuEngine) Token(cfg KumuConfig, subject string) (string, error) {
	lifetime := time.Duration(cfg.Global.JWT.Lifetime) * time.Hour
	return NewJwt(cfg.Global.JWT.Signature, subject, lifetime)
}

func (ke *KumuEngine) executors(cfg KumuConfig) (*remote.HostExecutor, error) {
	exec := &remote.HostExecutor{
		Local: remote.NewLocalExecutor(),
	}
	if cfg.SSH.PrivateKey == "" {
		klog.Warningf("No SSH private key configured, only local hosts can be managed")
		return exec, nil
	}

	ssh, err := remote.NewSSHExecutor(remote.SSHSettings{
		User:       cfg.SSH.User,
		Port:       cfg.SSH.Port,
		PrivateKey: cfg.SSH.PrivateKey,
		KnownHosts: cfg.SSH.KnownHosts,
	})
	if err != nil {
		return nil, err
	}
	ke.ssh = ssh
	exec.Remote = ssh
	return exec, nil
}

func (ke *KumuEngine) hypervisors(cfg KumuConfig) (virt.Connector, error) {
	var tunnel virt.UnixDialer
	if ke.ssh != nil {
		tunnel = ke.ssh
	}
	return virt.NewLibvirtConnector(virt.LibvirtSettings{
		Protocol:      cfg.Libvirt.Protocol,
		Port:          cfg.Libvirt.Port,
		Socket:        cfg.Libvirt.Socket,
		TLSClientKey:  cfg.Libvirt.TLS.ClientKey,
		TLSClientCert: cfg.Libvirt.TLS.ClientCert,
		TLSCA:         cfg.Libvirt.TLS.CA,
	}, tunnel)
}

// Setup builds the fleet and its adapters from cfg.
func (ke *KumuEngine) Setup(cfg KumuConfig) error {
	if ke.store == nil {
		return errors.NotValidf("engine without database, run PreFlight first")
	}
	if err := ke.MigrateDatabase(); err != nil {
		return err
	}

	exec, err := ke.executors(cfg)
	if err != nil {
		return err
	}

	ke.connector, err = ke.hypervisors(cfg)
	if err != nil {
		return err
	}

	var keys KeyMinter
	if cfg.Tailscale.APIKey != "" {
		ua := fmt.Sprintf("kanoa-kumu/%s", version)
		keys, err = tailscale.NewClient(cfg.Tailscale.BaseURL, cfg.Tailscale.APIKey, cfg.Tailscale.Tailnet, ua)
		if err != nil {
			return err
		}
	}

	templates, err := NewCloudInitTemplates(cfg.CloudInit.UserData, cfg.CloudInit.VendorData)
	if err != nil {
		return err
	}

	// cache initialization
	cache := NewKumuCache(cfg.Global.Cache.Enabled, cfg.Global.Cache.Type, cfg.Global.Cache.Size, cfg.Global.Cache.TTL)

	ke.tasks = NewTaskRegistry()

	// register prometheus exporter
	ke.Exporter = NewExporter(ke.store, ke.tasks.Running)

	ke.Fleet, err = NewFleet(FleetSettings{
		BaseURL:        cfg.Global.BaseURL,
		Hosts:          cfg.Fleet.Hosts,
		VolumePrefix:   cfg.Fleet.VolumePrefix,
		ImageCacheDir:  cfg.Fleet.ImageCacheDir,
		Network:        cfg.Fleet.Network,
		ReleaseTimeout: cfg.VolumeReleaseTimeout(),
		LocalDir:       exec.Local.Dir(),
	}, FleetDeps{
		Store:     ke.store,
		Executor:  exec,
		Volumes:   zfs.NewVolumeManager(exec, clock.WallClock),
		Virt:      ke.connector,
		Tasks:     ke.tasks,
		Cache:     cache,
		Exporter:  ke.Exporter,
		Keys:      keys,
		Download:  common.DownloadFromURL,
		Clock:     clock.WallClock,
		Templates: templates,
	})
	if err != nil {
		return err
	}

	ke.Auth = &Authenticator{
		APIKey:       cfg.Global.APIKey,
		JwtSignature: cfg.Global.JWT.Signature,
	}
	ke.MaxInFlight = cfg.Global.HTTP.MaxInFlight

	ke.RegisterApiHandlers()
	return nil
}

func (ke *KumuEngine) RegisterApiHandlers() {
	// register API handlers
	routers := []sdk.Router{
		NewAuditRouter(ke.Fleet.Store()),
		NewCloudInitRouter(ke.Fleet),
		NewDistroRouter(ke.Fleet.Store()),
		NewInstanceRouter(ke.Fleet),
		NewLibvirtRouter(ke.Fleet),
	}

	ke.ApiRouters = append(ke.ApiRouters, routers...)
}

func (ke *KumuEngine) Run(cfg KumuConfig) error {
	defer ke.Cleanup()

	if err := ke.Setup(cfg); err != nil {
		return err
	}
	ke.Exporter.Start()

	srv := NewHTTPServer(ke, cfg.Global.HTTP.Address, cfg.Global.HTTP.Port)
	defer func() {
		if err := srv.Shutdown(); err != nil {
			// error handle
			klog.Error(err)
		}
	}()

	return srv.Serve()
}
