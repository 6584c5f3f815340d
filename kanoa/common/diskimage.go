/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package common

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/lima-vm/go-qcow2reader"
	"github.com/lima-vm/go-qcow2reader/image"
	"github.com/lima-vm/go-qcow2reader/image/qcow2"
	"github.com/lima-vm/go-qcow2reader/image/raw"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	DiskImageUnsupportedTypeError = "unsupported disk image type: %s"
)

var supportedDiskImageTypes = []image.Type{
	qcow2.Type,
	raw.Type,
}

var registerZstd sync.Once

// DiskImage describes a cached cloud image as qemu-img will see it.
type DiskImage struct {
	Name        string
	Format      string
	VirtualSize int64
	Compression string
	Encryption  string
}

type zstdDecompressor struct {
	*zstd.Decoder
}

func (z *zstdDecompressor) Close() error {
	z.Decoder.Close()
	return nil
}

func NewZstdDecompressor(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdDecompressor{dec}, nil
}

func qcowEncryptionMethod(method qcow2.CryptMethod) string {
	switch method {
	case qcow2.CryptMethodNone:
		return "unencrypted"
	case qcow2.CryptMethodAES:
		return "AES-encrypted"
	case qcow2.CryptMethodLUKS:
		return "LUKS-encrypted"
	}
	return ""
}

func qcowCompressionType(ct qcow2.CompressionType) string {
	switch ct {
	case qcow2.CompressionTypeZlib:
		return "zlib"
	case qcow2.CompressionTypeZstd:
		return "zstd"
	}
	return ""
}

// InspectDiskImage probes the header of a local image file. Anything that
// is not qcow2 is reported as raw.
func InspectDiskImage(path string) (*DiskImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	img, err := qcow2reader.Open(f)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(supportedDiskImageTypes, img.Type()) {
		return nil, fmt.Errorf(DiskImageUnsupportedTypeError, img.Type())
	}

	di := &DiskImage{
		Name:        path,
		Format:      string(img.Type()),
		VirtualSize: img.Size(),
	}

	if qc, ok := img.(*qcow2.Qcow2); ok {
		di.Encryption = qcowEncryptionMethod(qc.CryptMethod)
		di.Compression = qcowCompressionType(qcow2.CompressionTypeZlib)
		if qc.HeaderFieldsAdditional != nil {
			di.Compression = qcowCompressionType(qc.CompressionType)
			if qc.CompressionType == qcow2.CompressionTypeZstd {
				registerZstd.Do(func() {
					klog.Debugf("QCOW2: registering ZSTD stream decompressor")
					qcow2.SetDecompressor(qcow2.CompressionTypeZstd, NewZstdDecompressor)
				})
			}
		}
		klog.Infof("%s is a QCOW2 v%d disk image (%s, %s-compressed, %s)",
			path, qc.Version, di.Encryption, di.Compression, HumanByteSize(uint64(di.VirtualSize)))
	}

	return di, nil
}
