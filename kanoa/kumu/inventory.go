/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"sort"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/virt"
)

const (
	InventoryMaxConcurrentHosts = 8
)

// inventoryHosts lists configured hosts plus any host an instance lives
// on.
func (f *Fleet) inventoryHosts(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	hosts := []string{}
	for _, h := range f.settings.Hosts {
		if !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}

	instances, err := f.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	for _, i := range instances {
		if !seen[i.Host] {
			seen[i.Host] = true
			hosts = append(hosts, i.Host)
		}
	}
	return hosts, nil
}

func (f *Fleet) invalidateInventory(host string) {
	if !f.cache.Enabled() {
		return
	}
	if err := f.cache.Delete(CacheNsMachines, host); err != nil {
		klog.Debugf("Unable to invalidate inventory of %s: %v", host, err)
	}
}

// hostMachines returns the live domains of host, cached for a while.
func (f *Fleet) hostMachines(ctx context.Context, host string) ([]virt.Machine, error) {
	var machines []virt.Machine
	if err := f.cache.Get(CacheNsMachines, host, &machines); err == nil {
		return machines, nil
	}

	hv, err := f.virt.Hypervisor(ctx, host)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", host)
	}
	machines, err = hv.Machines(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "listing machines of %s", host)
	}

	f.cache.Set(CacheNsMachines, host, machines)
	return machines, nil
}

// Machines returns the live domains of the whole fleet, sorted by host and
// name. Any unreachable host fails the listing.
func (f *Fleet) Machines(ctx context.Context) ([]virt.Machine, error) {
	hosts, err := f.inventoryHosts(ctx)
	if err != nil {
		return nil, err
	}

	perHost := make([][]virt.Machine, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(InventoryMaxConcurrentHosts)
	for i, h := range hosts {
		g.Go(func() error {
			machines, err := f.hostMachines(gctx, h)
			if err != nil {
				return err
			}
			perHost[i] = machines
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := []virt.Machine{}
	for _, m := range perHost {
		all = append(all, m...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Host != all[j].Host {
			return all[i].Host < all[j].Host
		}
		return all[i].Name < all[j].Name
	})
	return all, nil
}

// Machine returns the live hypervisor view of an instance.
func (f *Fleet) Machine(ctx context.Context, id string) (*virt.Machine, error) {
	inst, err := f.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	hv, err := f.virt.Hypervisor(ctx, inst.Host)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", inst.Host)
	}
	return hv.Machine(ctx, inst.ID)
}
