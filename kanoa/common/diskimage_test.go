/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package common

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectRawImage(t *testing.T) {
	payload := bytes.Repeat([]byte("kanoa"), 4096)
	file := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(file, payload, 0o600))

	di, err := InspectDiskImage(file)
	require.NoError(t, err)
	assert.Equal(t, "raw", di.Format)
	assert.Equal(t, int64(len(payload)), di.VirtualSize)
	assert.Equal(t, file, di.Name)
	assert.Empty(t, di.Compression)

	_, err = InspectDiskImage(filepath.Join(t.TempDir(), "missing.img"))
	assert.Error(t, err)
}

func TestZstdDecompressor(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	plain := bytes.Repeat([]byte("cluster"), 1024)
	packed := enc.EncodeAll(plain, nil)
	require.NoError(t, enc.Close())

	rc, err := NewZstdDecompressor(bytes.NewReader(packed))
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
	assert.NoError(t, rc.Close())
}
