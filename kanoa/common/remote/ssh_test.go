/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package remote

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestSSHDialDoesNotBlockOtherHosts(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	e := &SSHExecutor{
		settings: SSHSettings{User: SSHDefaultUser, Port: SSHDefaultPort},
		config:   &ssh.ClientConfig{},
		hosts:    map[string]*sshHost{},
		dial: func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
			if strings.HasPrefix(addr, "hung:") {
				close(entered)
				<-release
			}
			return nil, fmt.Errorf("dial %s: connection refused", addr)
		},
	}

	hung := make(chan error, 1)
	go func() {
		_, err := e.Client("hung")
		hung <- err
	}()
	<-entered

	other := make(chan error, 1)
	go func() {
		_, err := e.Client("logos")
		other <- err
	}()

	select {
	case err := <-other:
		assert.ErrorContains(t, err, "logos:22")
	case <-time.After(2 * time.Second):
		t.Fatal("dialing logos waited for the hung host")
	}

	close(release)
	require.Error(t, <-hung)
	e.Close()
}
