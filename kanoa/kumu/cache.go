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

	"github.com/coocood/freecache"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	gocache_store "github.com/eko/gocache/lib/v4/store"
	freecache_store "github.com/eko/gocache/store/freecache/v4"
	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	CacheTypeInMemory = "memory"

	CacheErrDisabled = errors.ConstError("in-memory cache is disabled")

	CacheNsMachines = "machines"
)

// KumuCache is a namespaced, marshaling key/value cache. A disabled cache
// accepts writes and misses every read.
type KumuCache struct {
	enabled bool
	ms      *marshaler.Marshaler
}

func NewKumuCache(enabled bool, tp string, size, ttl int) *KumuCache {
	kc := &KumuCache{}
	kc.Init(enabled, tp, size, ttl)
	return kc
}

func (kc *KumuCache) Init(enabled bool, tp string, size, ttl int) {
	kc.enabled = enabled

	if !enabled {
		return
	}

	switch tp {
	case CacheTypeInMemory:
		klog.Debugf("Initializing in-memory cache (%d MB, %ds expiration) ...", size, ttl)
		sizeMB := size * common.MiB
		expire := time.Duration(ttl) * time.Second
		fcs := freecache_store.NewFreecache(freecache.NewCache(sizeMB), gocache_store.WithExpiration(expire))
		kc.ms = marshaler.New(cache.New[any](fcs))
	default:
		klog.Warningf("Unsupported cache type %q, disabling cache", tp)
		kc.enabled = false
	}
}

func (kc *KumuCache) Enabled() bool {
	return kc != nil && kc.enabled
}

func (kc *KumuCache) key(ns, key string) string {
	return fmt.Sprintf("%s/%s", ns, key)
}

func (kc *KumuCache) Set(ns, key string, value any) {
	if !kc.Enabled() {
		return
	}

	err := kc.ms.Set(context.TODO(), kc.key(ns, key), value)
	if err != nil {
		klog.Errorf("Unable to set %s/%s cache value: %v", ns, key, err)
	}
}

func (kc *KumuCache) Get(ns, key string, result any) error {
	if !kc.Enabled() {
		return CacheErrDisabled
	}

	_, err := kc.ms.Get(context.TODO(), kc.key(ns, key), result)
	return err
}

func (kc *KumuCache) Delete(ns, key string) error {
	if !kc.Enabled() {
		return CacheErrDisabled
	}

	return kc.ms.Delete(context.TODO(), kc.key(ns, key))
}
