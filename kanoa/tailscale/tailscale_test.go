/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package tailscale

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "tskey-api-secret", "example.com", "kanoa-test")
	require.NoError(t, err)
	return c
}

func TestEphemeralKey(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/tailnet/example.com/keys", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "tskey-api-secret", user)
		assert.Empty(t, pass)

		var req createKeyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Capabilities.Devices.Create.Reusable)
		assert.True(t, req.Capabilities.Devices.Create.Ephemeral)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "k123456CNTRL",
			"key": "tskey-k123456CNTRL-abcdef",
			"created": "2021-12-09T23:22:39Z",
			"expires": "2022-03-09T23:22:39Z",
			"capabilities": {"devices": {"create": {"reusable": false, "ephemeral": true}}}
		}`))
	})

	key, err := c.EphemeralKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tskey-k123456CNTRL-abcdef", key)
}

func TestCreateKeyError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "API token invalid"}`))
	})

	_, err := c.CreateKey(context.Background(), Capabilities{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API token invalid")
}

func TestListAndDeleteKeys(t *testing.T) {
	deleted := ""
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			if r.URL.Path == "/api/v2/tailnet/example.com/keys" {
				_, _ = w.Write([]byte(`{"keys": [{"id": "k1"}, {"id": "k2"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"id": "k1", "created": "2021-12-09T23:22:39Z", "expires": "2022-03-09T23:22:39Z"}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			_, _ = w.Write([]byte(`{}`))
		}
	})
	ctx := context.Background()

	keys, err := c.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{{ID: "k1"}, {ID: "k2"}}, keys)

	ki, err := c.KeyInfo(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", ki.ID)
	assert.Empty(t, ki.Key)

	require.NoError(t, c.DeleteKey(ctx, "k2"))
	assert.Equal(t, "/api/v2/tailnet/example.com/keys/k2", deleted)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", "", "example.com", "")
	assert.Error(t, err)
	_, err = NewClient("", "key", "", "")
	assert.Error(t, err)
}
