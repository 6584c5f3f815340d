/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

// Package tailscale is a minimal client of the Tailscale v2 API, used to mint
// auth keys for guests joining the overlay network.
package tailscale

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	TailscaleDefaultBaseURL = "https://api.tailscale.com"

	tailscaleRequestTimeout = 30 * time.Second
)

// Capabilities describes what a device registered with a key may do.
type Capabilities struct {
	Reusable  bool `json:"reusable"`
	Ephemeral bool `json:"ephemeral"`
}

type Key struct {
	ID string `json:"id"`
}

// KeyInfo is the full description of an auth key. Key is only populated
// in the answer to a creation request.
type KeyInfo struct {
	ID           string         `json:"id"`
	Key          string         `json:"key,omitempty"`
	Created      time.Time      `json:"created"`
	Expires      time.Time      `json:"expires"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

type createKeyRequest struct {
	Capabilities struct {
		Devices struct {
			Create Capabilities `json:"create"`
		} `json:"devices"`
	} `json:"capabilities"`
}

type apiError struct {
	Message string `json:"message"`
}

// Client talks to the tailnet key API with basic auth.
type Client struct {
	rc      *resty.Client
	tailnet string
}

// NewClient returns a client for tailnet, authenticating with apiKey.
// An empty baseURL means the public Tailscale API.
func NewClient(baseURL, apiKey, tailnet, userAgent string) (*Client, error) {
	if apiKey == "" || tailnet == "" {
		return nil, errors.NotValidf("tailscale settings without API key or tailnet")
	}
	if baseURL == "" {
		baseURL = TailscaleDefaultBaseURL
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(apiKey, "").
		SetHeader("User-Agent", userAgent).
		SetTimeout(tailscaleRequestTimeout).
		SetError(&apiError{})

	return &Client{
		rc:      rc,
		tailnet: tailnet,
	}, nil
}

func (c *Client) keysPath() string {
	return fmt.Sprintf("/api/v2/tailnet/%s/keys", c.tailnet)
}

func checkResponse(resp *resty.Response, err error, what string) error {
	if err != nil {
		return errors.Annotatef(err, "tailscale: %s", what)
	}
	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
			msg = e.Message
		}
		klog.Errorf("tailscale: %s: %s", what, msg)
		return errors.Errorf("tailscale: %s: %s", what, msg)
	}
	return nil
}

// ListKeys returns the ids of all active keys of the tailnet.
func (c *Client) ListKeys(ctx context.Context) ([]Key, error) {
	var out struct {
		Keys []Key `json:"keys"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.keysPath())
	if err := checkResponse(resp, err, "listing keys"); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// CreateKey mints a new device auth key.
func (c *Client) CreateKey(ctx context.Context, caps Capabilities) (*KeyInfo, error) {
	req := createKeyRequest{}
	req.Capabilities.Devices.Create = caps

	var ki KeyInfo
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&ki).
		Post(c.keysPath())
	if err := checkResponse(resp, err, "creating key"); err != nil {
		return nil, err
	}
	if ki.Key == "" {
		return nil, errors.Errorf("tailscale: key %q created without secret", ki.ID)
	}
	klog.Debugf("tailscale: created key %s expiring at %s", ki.ID, ki.Expires)
	return &ki, nil
}

// KeyInfo describes an existing key.
func (c *Client) KeyInfo(ctx context.Context, id string) (*KeyInfo, error) {
	var ki KeyInfo
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&ki).
		SetPathParam("id", id).
		Get(c.keysPath() + "/{id}")
	if err := checkResponse(resp, err, "reading key "+id); err != nil {
		return nil, err
	}
	return &ki, nil
}

// DeleteKey revokes a key.
func (c *Client) DeleteKey(ctx context.Context, id string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete(c.keysPath() + "/{id}")
	return checkResponse(resp, err, "deleting key "+id)
}

// EphemeralKey mints the single-use, ephemeral key handed to a new guest.
func (c *Client) EphemeralKey(ctx context.Context) (string, error) {
	ki, err := c.CreateKey(ctx, Capabilities{
		Reusable:  false,
		Ephemeral: true,
	})
	if err != nil {
		return "", err
	}
	return ki.Key, nil
}
