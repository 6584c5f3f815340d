/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/remote"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

const (
	ErrImageChecksum = errors.ConstError("image checksum mismatch")
	ErrImageFormat   = errors.ConstError("image format mismatch")
	ErrImageTooLarge = errors.ConstError("image larger than instance disk")
)

// imagePath is where a distro image is cached on a host, relative to the
// login directory unless configured absolute.
func (f *Fleet) imagePath(d store.Distro) string {
	return path.Join(f.settings.ImageCacheDir, strings.ToLower(d.Sha256Sum))
}

// imageCached probes the host image cache. Transport failures are errors,
// a failing stat means the image is missing.
func (f *Fleet) imageCached(ctx context.Context, host, image string) (bool, error) {
	_, err := f.exec.Run(ctx, host, "stat", image)
	if err == nil {
		return true, nil
	}
	if _, ok := remote.AsCommandError(err); ok {
		return false, nil
	}
	return false, errors.Annotatef(err, "probing image cache on %s", host)
}

// fetchImage downloads the distro image into the host cache and checks
// its digest. A partial or corrupt file never stays in the cache. Images
// fetched on the local host are also inspected, remote ones return nil.
func (f *Fleet) fetchImage(ctx context.Context, host string, d store.Distro, image string) (*common.DiskImage, error) {
	klog.Infof("Fetching image %s on %s ...", d.Name, host)

	if _, err := f.exec.Run(ctx, host, "mkdir", "-p", path.Dir(image)); err != nil {
		return nil, errors.Annotatef(err, "creating image cache on %s", host)
	}

	var di *common.DiskImage
	var err error
	if common.IsLocalHost(host) && f.download != nil {
		dst := image
		if !filepath.IsAbs(dst) && f.settings.LocalDir != "" {
			dst = filepath.Join(f.settings.LocalDir, dst)
		}
		err = f.download(ctx, d.DownloadURL, dst, strings.ToLower(d.Sha256Sum))
		if err == nil {
			di, err = inspectImage(d, dst)
		}
	} else {
		err = f.wget(ctx, host, d, image)
	}
	if err == nil {
		return di, nil
	}

	if _, rmErr := f.exec.Run(context.WithoutCancel(ctx), host, "rm", "-f", image); rmErr != nil {
		klog.Warningf("Unable to remove partial image %s on %s: %v", image, host, rmErr)
	}
	return nil, err
}

// inspectImage checks the downloaded file is in the format the distro
// declares, so that qemu-img is not fed a mislabelled image.
func inspectImage(d store.Distro, file string) (*common.DiskImage, error) {
	di, err := common.InspectDiskImage(file)
	if err != nil {
		return nil, errors.Annotatef(err, "inspecting %s", file)
	}
	if !strings.EqualFold(di.Format, d.Format) {
		return nil, errors.Annotatef(ErrImageFormat, "%s: declared %s, found %s", d.DownloadURL, d.Format, di.Format)
	}
	return di, nil
}

// fitsDisk reports whether an image of the given virtual size can be
// hydrated into a volume of sizeGB.
func fitsDisk(di *common.DiskImage, sizeGB int) error {
	if di == nil {
		return nil
	}
	if di.VirtualSize > int64(sizeGB)*common.GiB {
		return errors.Annotatef(ErrImageTooLarge, "%s needs %s, volume has %dG",
			di.Name, common.HumanByteSize(uint64(di.VirtualSize)), sizeGB)
	}
	return nil
}

func (f *Fleet) wget(ctx context.Context, host string, d store.Distro, image string) error {
	if _, err := f.exec.Run(ctx, host, "wget", "-q", "-O", image, d.DownloadURL); err != nil {
		return errors.Annotatef(err, "downloading %s", d.DownloadURL)
	}

	res, err := f.exec.Run(ctx, host, "sha256sum", image)
	if err != nil {
		return errors.Annotatef(err, "computing digest of %s", image)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 || !strings.EqualFold(fields[0], d.Sha256Sum) {
		got := ""
		if len(fields) > 0 {
			got = fields[0]
		}
		return errors.Annotatef(ErrImageChecksum, "%s: expected %s, got %q", d.DownloadURL, d.Sha256Sum, got)
	}
	return nil
}
