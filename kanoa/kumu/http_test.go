/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestHTTPServerServesUntilShutdown(t *testing.T) {
	tf := newTestFleet(t)
	ke := &KumuEngine{
		Auth:  &Authenticator{APIKey: testApiKey},
		Fleet: tf.Fleet,
	}
	ke.RegisterApiHandlers()

	port := freePort(t)
	srv := NewHTTPServer(ke, "127.0.0.1", port)

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve()
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/version", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && len(body) > 0
	}, testWaitLimit, 20*time.Millisecond)

	require.NoError(t, srv.Shutdown())
	require.NoError(t, srv.Shutdown())

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(testWaitLimit):
		t.Fatal("server did not stop")
	}
}

func TestHTTPServerReportsListenFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		_ = l.Close()
	}()

	tf := newTestFleet(t)
	ke := &KumuEngine{
		Auth:  &Authenticator{APIKey: testApiKey},
		Fleet: tf.Fleet,
	}
	srv := NewHTTPServer(ke, "127.0.0.1", l.Addr().(*net.TCPAddr).Port)

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve()
	}()

	select {
	case err := <-served:
		assert.Error(t, err)
	case <-time.After(testWaitLimit):
		t.Fatal("server did not give up")
	}
}
