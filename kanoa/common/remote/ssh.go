/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package remote

import (
	"bytes"
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	SSHDefaultPort           = 22
	SSHDefaultUser           = "root"
	SSHDialTimeoutSeconds    = 10
	SSHKeepAliveIntervalSecs = 30
)

type SSHSettings struct {
	User       string
	Port       int
	PrivateKey string
	KnownHosts string
}

// SSHExecutor runs commands over SSH, keeping one client connection per
// host. Dialing or probing a host only blocks callers of that same host.
type SSHExecutor struct {
	settings SSHSettings
	config   *ssh.ClientConfig
	dial     func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

	mu    sync.Mutex
	hosts map[string]*sshHost
}

type sshHost struct {
	mu     sync.Mutex
	client *ssh.Client
}

func NewSSHExecutor(settings SSHSettings) (*SSHExecutor, error) {
	if settings.User == "" {
		settings.User = SSHDefaultUser
	}
	if settings.Port == 0 {
		settings.Port = SSHDefaultPort
	}

	key, err := os.ReadFile(settings.PrivateKey)
	if err != nil {
		return nil, errors.Annotatef(err, "reading ssh private key %s", settings.PrivateKey)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing ssh private key %s", settings.PrivateKey)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if settings.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(settings.KnownHosts)
		if err != nil {
			return nil, errors.Annotatef(err, "loading known hosts %s", settings.KnownHosts)
		}
	} else {
		klog.Warningf("No SSH known_hosts file configured, host keys will not be verified")
	}

	return &SSHExecutor{
		settings: settings,
		config: &ssh.ClientConfig{
			User:            settings.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         SSHDialTimeoutSeconds * time.Second,
		},
		dial:  ssh.Dial,
		hosts: map[string]*sshHost{},
	}, nil
}

func (e *SSHExecutor) address(host string) string {
	return net.JoinHostPort(host, strconv.Itoa(e.settings.Port))
}

func (e *SSHExecutor) host(host string) *sshHost {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hosts[host]
	if !ok {
		h = &sshHost{}
		e.hosts[host] = h
	}
	return h
}

// Client returns a live SSH client for host, dialing a new one when none is
// cached or the cached one stopped answering keepalives.
func (e *SSHExecutor) Client(host string) (*ssh.Client, error) {
	h := e.host(host)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		_, _, err := h.client.SendRequest("keepalive@openssh.com", true, nil)
		if err == nil {
			return h.client, nil
		}
		klog.Warningf("SSH connection to %s is stale, reconnecting: %v", host, err)
		_ = h.client.Close()
		h.client = nil
	}

	c, err := e.dial("tcp", e.address(host), e.config)
	if err != nil {
		return nil, errors.Annotatef(err, "ssh connection to %s", host)
	}
	klog.Debugf("Established SSH connection to %s@%s", e.settings.User, e.address(host))
	h.client = c

	return c, nil
}

func (e *SSHExecutor) Run(ctx context.Context, host string, argv ...string) (*Result, error) {
	client, err := e.Client(host)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, errors.Annotatef(err, "ssh session on %s", host)
	}
	defer func() {
		_ = session.Close()
	}()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmd := CommandLine(argv...)
	klog.Debugf("[%s] running %s", host, cmd)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, errors.Annotatef(ctx.Err(), "running %q on %s", cmd, host)
	case err = <-done:
	}

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return checkResult(host, argv, res)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "running %q on %s", cmd, host)
	}

	return res, nil
}

// DialUnix opens a stream to a unix socket on host through the SSH
// connection.
func (e *SSHExecutor) DialUnix(host, socket string) (net.Conn, error) {
	client, err := e.Client(host)
	if err != nil {
		return nil, err
	}
	return client.Dial("unix", socket)
}

func (e *SSHExecutor) Close() {
	e.mu.Lock()
	hosts := e.hosts
	e.hosts = map[string]*sshHost{}
	e.mu.Unlock()

	for host, h := range hosts {
		h.mu.Lock()
		if h.client != nil {
			if err := h.client.Close(); err != nil {
				klog.Debugf("closing ssh connection to %s: %v", host, err)
			}
			h.client = nil
		}
		h.mu.Unlock()
	}
}
