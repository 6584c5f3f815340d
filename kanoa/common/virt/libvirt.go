/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package virt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	virt "github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	LibvirtConnectionTimeoutSeconds = 5

	LibvirtProtocolSSH = "ssh"

	LibvirtProtocolTCP    = "tcp"
	LibvirtDefaultPortTCP = 16509

	LibvirtProtocolTLS    = "tls"
	LibvirtDefaultPortTLS = 16514

	LibvirtDefaultSocket = "/var/run/libvirt/libvirt-sock"
)

// UnixDialer opens a stream to a unix socket on a remote host, e.g. through
// an SSH connection.
type UnixDialer interface {
	DialUnix(host, socket string) (net.Conn, error)
}

type LibvirtSettings struct {
	Protocol      string
	Port          int
	Socket        string
	TLSClientKey  string
	TLSClientCert string
	TLSCA         string
}

// LibvirtConnector keeps one libvirt RPC connection per host. Connections
// which drop are forgotten and re-established on next use.
type LibvirtConnector struct {
	settings LibvirtSettings
	tunnel   UnixDialer
	tlsConf  *tls.Config

	mu      sync.Mutex
	conns   map[string]*virt.Libvirt
	dialing map[string]*sync.Mutex
}

func NewLibvirtConnector(settings LibvirtSettings, tunnel UnixDialer) (*LibvirtConnector, error) {
	if settings.Protocol == "" {
		settings.Protocol = LibvirtProtocolSSH
	}
	if settings.Socket == "" {
		settings.Socket = LibvirtDefaultSocket
	}

	lc := &LibvirtConnector{
		settings: settings,
		tunnel:   tunnel,
		conns:    map[string]*virt.Libvirt{},
		dialing:  map[string]*sync.Mutex{},
	}

	switch settings.Protocol {
	case LibvirtProtocolSSH:
		if tunnel == nil {
			return nil, errors.NotValidf("ssh libvirt transport without ssh settings")
		}
	case LibvirtProtocolTCP:
		if lc.settings.Port == 0 {
			lc.settings.Port = LibvirtDefaultPortTCP
		}
	case LibvirtProtocolTLS:
		if lc.settings.Port == 0 {
			lc.settings.Port = LibvirtDefaultPortTLS
		}
		conf, err := loadTLSConfig(settings)
		if err != nil {
			return nil, err
		}
		lc.tlsConf = conf
	default:
		return nil, errors.NotSupportedf("libvirt transport %q", settings.Protocol)
	}

	return lc, nil
}

func loadTLSConfig(settings LibvirtSettings) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(settings.TLSClientCert, settings.TLSClientKey)
	if err != nil {
		return nil, errors.Annotate(err, "loading libvirt TLS client certificate")
	}

	ca, err := os.ReadFile(settings.TLSCA)
	if err != nil {
		return nil, errors.Annotate(err, "loading libvirt TLS CA")
	}
	roots := x509.NewCertPool()
	roots.AppendCertsFromPEM(ca)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

type sshTunnelDialer struct {
	tunnel UnixDialer
	host   string
	socket string
}

func (d *sshTunnelDialer) Dial() (net.Conn, error) {
	return d.tunnel.DialUnix(d.host, d.socket)
}

type tlsDialer struct {
	conf       *tls.Config
	host, port string
}

func (t *tlsDialer) Dial() (net.Conn, error) {
	netDialer := net.Dialer{
		Timeout: LibvirtConnectionTimeoutSeconds * time.Second,
	}
	conf := t.conf.Clone()
	conf.ServerName = t.host
	c, err := tls.DialWithDialer(&netDialer, "tcp", net.JoinHostPort(t.host, t.port), conf)
	if err != nil {
		return nil, err
	}

	// libvirtd writes a single byte once it has checked our certificate.
	buf := make([]byte, 1)
	if n, err := c.Read(buf); err != nil {
		_ = c.Close()
		return nil, err
	} else if n != 1 || buf[0] != byte(1) {
		_ = c.Close()
		return nil, errors.New("server verification (of our certificate or IP address) failed")
	}

	return c, nil
}

func (lc *LibvirtConnector) dialer(host string) socket.Dialer {
	if common.IsLocalHost(host) {
		return dialers.NewLocal(dialers.WithSocket(lc.settings.Socket), dialers.WithLocalTimeout(LibvirtConnectionTimeoutSeconds*time.Second))
	}

	switch lc.settings.Protocol {
	case LibvirtProtocolTCP:
		return dialers.NewRemote(host, dialers.UsePort(strconv.Itoa(lc.settings.Port)), dialers.WithRemoteTimeout(LibvirtConnectionTimeoutSeconds*time.Second))
	case LibvirtProtocolTLS:
		return &tlsDialer{
			conf: lc.tlsConf,
			host: host,
			port: strconv.Itoa(lc.settings.Port),
		}
	}

	return &sshTunnelDialer{
		tunnel: lc.tunnel,
		host:   host,
		socket: lc.settings.Socket,
	}
}

func (lc *LibvirtConnector) cached(host string) (*virt.Libvirt, *sync.Mutex) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if l, ok := lc.conns[host]; ok && l.IsConnected() {
		return l, nil
	}
	m, ok := lc.dialing[host]
	if !ok {
		m = &sync.Mutex{}
		lc.dialing[host] = m
	}
	return nil, m
}

// connect serializes dials per host only, a hung host never holds lc.mu.
func (lc *LibvirtConnector) connect(host string) (*virt.Libvirt, error) {
	l, dialing := lc.cached(host)
	if l != nil {
		return l, nil
	}
	dialing.Lock()
	defer dialing.Unlock()

	// another caller may have connected while we waited
	if l, _ := lc.cached(host); l != nil {
		return l, nil
	}

	l = virt.NewWithDialer(lc.dialer(host))
	if err := l.Connect(); err != nil {
		return nil, errors.Annotatef(err, "libvirt connection to %s", host)
	}
	klog.Infof("Successfully initiated libvirt %s connection to %s", lc.settings.Protocol, host)

	lc.mu.Lock()
	lc.conns[host] = l
	lc.mu.Unlock()

	go lc.monitor(host, l)

	return l, nil
}

func (lc *LibvirtConnector) monitor(host string, l *virt.Libvirt) {
	<-l.Disconnected()
	klog.Warningf("libvirt disconnection from %s has been detected", host)

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.conns[host] == l {
		delete(lc.conns, host)
	}
}

func (lc *LibvirtConnector) Hypervisor(ctx context.Context, host string) (Hypervisor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l, err := lc.connect(host)
	if err != nil {
		return nil, err
	}

	return &LibvirtHypervisor{
		host: host,
		conn: l,
	}, nil
}

func (lc *LibvirtConnector) Close() {
	lc.mu.Lock()
	conns := lc.conns
	lc.conns = map[string]*virt.Libvirt{}
	lc.mu.Unlock()

	for host, l := range conns {
		klog.Infof("Disconnecting from libvirt on %s ...", host)
		if err := l.Disconnect(); err != nil {
			klog.Errorf("failed to disconnect from %s: %v", host, err)
		}
	}
}

// LibvirtHypervisor is a Hypervisor backed by a libvirt RPC connection.
type LibvirtHypervisor struct {
	host string
	conn *virt.Libvirt
}

func libvirtErrorCode(err error) (virt.ErrorNumber, bool) {
	var le virt.Error
	if errors.As(err, &le) {
		return virt.ErrorNumber(le.Code), true
	}
	return 0, false
}

func isErrorCode(err error, code virt.ErrorNumber) bool {
	c, ok := libvirtErrorCode(err)
	return ok && c == code
}

func (h *LibvirtHypervisor) lookup(id string) (virt.Domain, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return virt.Domain{}, errors.NotValidf("domain uuid %q", id)
	}

	dom, err := h.conn.DomainLookupByUUID(virt.UUID(u))
	if isErrorCode(err, virt.ErrNoDomain) {
		return dom, errors.Annotatef(ErrDomainNotFound, "%s on %s", id, h.host)
	}
	if err != nil {
		return dom, errors.Annotatef(err, "looking up domain %s on %s", id, h.host)
	}
	return dom, nil
}

func (h *LibvirtHypervisor) Define(ctx context.Context, xml string) error {
	dom, err := h.conn.DomainDefineXML(xml)
	if err != nil {
		return errors.Annotatef(err, "defining domain on %s", h.host)
	}
	klog.Infof("Defined virtual machine %s on %s", dom.Name, h.host)
	return nil
}

func (h *LibvirtHypervisor) Start(ctx context.Context, id string) error {
	dom, err := h.lookup(id)
	if err != nil {
		return err
	}

	klog.Infof("Starting instance %s on %s ...", dom.Name, h.host)
	err = h.conn.DomainCreate(dom)
	if isErrorCode(err, virt.ErrOperationInvalid) {
		return errors.Annotatef(ErrDomainRunning, "%s on %s", dom.Name, h.host)
	}
	return errors.Annotatef(err, "starting %s on %s", dom.Name, h.host)
}

func (h *LibvirtHypervisor) notRunning(dom virt.Domain, op string, err error) error {
	if isErrorCode(err, virt.ErrOperationInvalid) {
		return errors.Annotatef(ErrDomainNotRunning, "%s on %s", dom.Name, h.host)
	}
	return errors.Annotatef(err, "%s %s on %s", op, dom.Name, h.host)
}

// Shutdown asks the guest to power off.
func (h *LibvirtHypervisor) Shutdown(ctx context.Context, id string) error {
	dom, err := h.lookup(id)
	if err != nil {
		return err
	}

	klog.Infof("Shutting down instance %s on %s ...", dom.Name, h.host)
	return h.notRunning(dom, "shutting down", h.conn.DomainShutdown(dom))
}

// Reboot asks the guest to reboot.
func (h *LibvirtHypervisor) Reboot(ctx context.Context, id string) error {
	dom, err := h.lookup(id)
	if err != nil {
		return err
	}

	klog.Infof("Rebooting instance %s on %s ...", dom.Name, h.host)
	return h.notRunning(dom, "rebooting", h.conn.DomainReboot(dom, virt.DomainRebootDefault))
}

// Destroy pulls the plug on a running domain.
func (h *LibvirtHypervisor) Destroy(ctx context.Context, id string) error {
	dom, err := h.lookup(id)
	if err != nil {
		return err
	}

	klog.Infof("Destroying instance %s on %s ...", dom.Name, h.host)
	return h.notRunning(dom, "destroying", h.conn.DomainDestroy(dom))
}

func (h *LibvirtHypervisor) Undefine(ctx context.Context, id string) error {
	dom, err := h.lookup(id)
	if err != nil {
		return err
	}

	klog.Infof("Undefining instance %s on %s ...", dom.Name, h.host)
	flags := virt.DomainUndefineNvram | virt.DomainUndefineSnapshotsMetadata | virt.DomainUndefineManagedSave | virt.DomainUndefineCheckpointsMetadata
	err = h.conn.DomainUndefineFlags(dom, flags)
	if isErrorCode(err, virt.ErrNoSupport) || isErrorCode(err, virt.ErrInvalidArg) {
		// older daemons reject some undefine flags
		err = h.conn.DomainUndefine(dom)
	}
	return errors.Annotatef(err, "undefining %s on %s", dom.Name, h.host)
}

var domainStates = map[uint8]string{
	uint8(virt.DomainNostate):     "No State",
	uint8(virt.DomainRunning):     "Running",
	uint8(virt.DomainBlocked):     "Blocked",
	uint8(virt.DomainPaused):      "Paused",
	uint8(virt.DomainShutdown):    "Shutdown",
	uint8(virt.DomainShutoff):     "Shutoff",
	uint8(virt.DomainCrashed):     "Crashed",
	uint8(virt.DomainPmsuspended): "PM Suspended",
}

func (h *LibvirtHypervisor) leaseAddress(dom virt.Domain) string {
	ifaces, err := h.conn.DomainInterfaceAddresses(dom, uint32(virt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		klog.Debugf("no lease information for %s on %s: %v", dom.Name, h.host, err)
		return ""
	}
	for _, iface := range ifaces {
		if len(iface.Addrs) > 0 {
			return iface.Addrs[0].Addr
		}
	}
	return ""
}

func (h *LibvirtHypervisor) machine(dom virt.Domain) (*Machine, error) {
	state, maxMem, _, vcpus, _, err := h.conn.DomainGetInfo(dom)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s info on %s", dom.Name, h.host)
	}

	active := state == uint8(virt.DomainRunning) || state == uint8(virt.DomainPaused) || state == uint8(virt.DomainBlocked)
	m := &Machine{
		Name:       dom.Name,
		Host:       h.host,
		UUID:       uuid.UUID(dom.UUID).String(),
		Active:     active,
		State:      domainStates[state],
		CPUs:       int(vcpus),
		MemoryMegs: maxMem / 1024,
		Memory:     common.HumanByteSize(maxMem * common.KiB),
	}
	if active {
		m.Addr = h.leaseAddress(dom)
	}
	return m, nil
}

func (h *LibvirtHypervisor) Machine(ctx context.Context, id string) (*Machine, error) {
	dom, err := h.lookup(id)
	if err != nil {
		return nil, err
	}
	return h.machine(dom)
}

func (h *LibvirtHypervisor) Machines(ctx context.Context) ([]Machine, error) {
	doms, _, err := h.conn.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, errors.Annotatef(err, "listing domains on %s", h.host)
	}

	machines := make([]Machine, 0, len(doms))
	for _, dom := range doms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := h.machine(dom)
		if err != nil {
			klog.Warningf("skipping %s: %v", dom.Name, err)
			continue
		}
		machines = append(machines, *m)
	}
	return machines, nil
}

func (h *LibvirtHypervisor) String() string {
	return fmt.Sprintf("libvirt@%s", h.host)
}
