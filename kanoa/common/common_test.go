/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLocalHost(t *testing.T) {
	for _, h := range []string{"localhost", "127.0.0.1", "::1"} {
		assert.True(t, IsLocalHost(h), h)
	}
	for _, h := range []string{"logos", "10.0.0.1", ""} {
		assert.False(t, IsLocalHost(h), h)
	}
}

func TestHumanByteSize(t *testing.T) {
	assert.Equal(t, "512.00MB", HumanByteSize(512*MiB))
	assert.Equal(t, "2.00GB", HumanByteSize(2*GiB))
}

func TestXmlMarshal(t *testing.T) {
	type disk struct {
		Dev string `xml:"dev,attr"`
	}
	out, err := XmlMarshal(disk{Dev: "vda"})
	require.NoError(t, err)
	assert.Equal(t, `<disk dev="vda"></disk>`, out)
}

func TestBinExecContext(t *testing.T) {
	ctx := context.Background()

	out, err := BinExecContext(ctx, t.TempDir(), []string{"sh", "-c", "echo out; echo err >&2; exit 3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "out\n", out.Stdout)
	assert.Equal(t, "err\n", out.Stderr)

	out, err = BinExecContext(ctx, "", []string{"sh", "-c", "echo $KANOA_TEST"}, []string{"KANOA_TEST=42"})
	require.NoError(t, err)
	assert.Equal(t, "42\n", out.Stdout)

	_, err = BinExecContext(ctx, "", []string{"kanoa-no-such-binary"}, nil)
	assert.Error(t, err)

	_, err = BinExecContext(ctx, "", nil, nil)
	assert.Error(t, err)
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("test", `{{ .Name | upper }} {{ "kanoa" | b64encode }}`, map[string]string{"Name": "otter"})
	require.NoError(t, err)
	assert.Equal(t, "OTTER a2Fub2E=", out)

	pw := GenerateRandomPassword(24)
	assert.Len(t, pw, 24)

	hash := Shasum512(pw)
	assert.True(t, strings.HasPrefix(hash, "$6$"), hash)

	_, err = RenderTemplate("broken", "{{ .Name ", nil)
	assert.Error(t, err)
}

func TestDownloadFromURL(t *testing.T) {
	payload := []byte("not really a qcow2 image")
	sum := sha256.Sum256(payload)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "image")
	require.NoError(t, DownloadFromURL(context.Background(), srv.URL+"/image.qcow2", dst, hex.EncodeToString(sum[:])))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	bad := filepath.Join(dir, "bad")
	err = DownloadFromURL(context.Background(), srv.URL+"/image.qcow2", bad, strings.Repeat("00", sha256.Size))
	assert.Error(t, err)
	_, statErr := os.Stat(bad)
	assert.True(t, os.IsNotExist(statErr), "corrupt download must be removed")

	err = DownloadFromURL(context.Background(), srv.URL, filepath.Join(dir, "x"), "not-hex")
	assert.Error(t, err)
}
