/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/remote"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/virt"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

const (
	KumuDefaultLogLevel             = "INFO"
	KumuDefaultHTTPAddress          = "0.0.0.0"
	KumuDefaultHTTPPort             = 23818
	KumuDefaultMaxInFlight          = 64
	KumuDefaultDBPath               = "/var/lib/kanoa/kumu.db"
	KumuDefaultCacheSizeMB          = 16
	KumuDefaultCacheTTLSeconds      = 30
	KumuDefaultJwtLifetimeHours     = 24
	KumuDefaultVolumePrefix         = "rpool/safe/vms"
	KumuDefaultImageCacheDir        = ".cache/kanoa/images"
	KumuDefaultVolumeReleaseTimeout = 30
)

type KumuConfig struct {
	Global    KumuGlobalConfig    `yaml:"global"`
	Fleet     KumuFleetConfig     `yaml:"fleet"`
	SSH       KumuSSHConfig       `yaml:"ssh"`
	Libvirt   KumuLibvirtConfig   `yaml:"libvirt"`
	CloudInit KumuCloudInitConfig `yaml:"cloudinit"`
	Tailscale KumuTailscaleConfig `yaml:"tailscale"`
}

type KumuGlobalConfig struct {
	LogLevel string          `yaml:"logLevel"`
	BaseURL  string          `yaml:"baseUrl"`
	APIKey   string          `yaml:"apiKey"`
	JWT      KumuJwtConfig   `yaml:"jwt"`
	HTTP     KumuHTTPConfig  `yaml:"http"`
	DB       KumuDBConfig    `yaml:"db"`
	Cache    KumuCacheConfig `yaml:"cache"`
}

type KumuJwtConfig struct {
	Signature string `yaml:"signature"`
	Lifetime  int    `yaml:"lifetimeHours"`
}

type KumuHTTPConfig struct {
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	MaxInFlight int    `yaml:"maxInFlight"`
}

type KumuDBConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
}

type KumuCacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"`
	Size    int    `yaml:"sizeMB"`
	TTL     int    `yaml:"expirationSeconds"`
}

type KumuFleetConfig struct {
	Hosts                []string `yaml:"hosts"`
	VolumePrefix         string   `yaml:"volumePrefix"`
	ImageCacheDir        string   `yaml:"imageCacheDir"`
	Network              string   `yaml:"network"`
	VolumeReleaseTimeout int      `yaml:"volumeReleaseTimeoutSeconds"`
}

type KumuSSHConfig struct {
	User       string `yaml:"user"`
	Port       int    `yaml:"port"`
	PrivateKey string `yaml:"privateKey"`
	KnownHosts string `yaml:"knownHosts"`
}

type KumuLibvirtConfig struct {
	Protocol string               `yaml:"protocol"`
	Socket   string               `yaml:"socket"`
	Port     int                  `yaml:"port"`
	TLS      KumuLibvirtTLSConfig `yaml:"tls"`
}

type KumuLibvirtTLSConfig struct {
	ClientKey  string `yaml:"clientKey"`
	ClientCert string `yaml:"clientCert"`
	CA         string `yaml:"ca"`
}

type KumuCloudInitConfig struct {
	UserData   string `yaml:"userData"`
	VendorData string `yaml:"vendorData"`
}

type KumuTailscaleConfig struct {
	APIKey  string `yaml:"apiKey"`
	Tailnet string `yaml:"tailnet"`
	BaseURL string `yaml:"baseUrl"`
}

func (c *KumuConfig) setDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = KumuDefaultLogLevel
	}
	c.Global.BaseURL = strings.TrimSuffix(c.Global.BaseURL, "/")
	if c.Global.HTTP.Address == "" {
		c.Global.HTTP.Address = KumuDefaultHTTPAddress
	}
	if c.Global.HTTP.Port == 0 {
		c.Global.HTTP.Port = KumuDefaultHTTPPort
	}
	if c.Global.HTTP.MaxInFlight <= 0 {
		c.Global.HTTP.MaxInFlight = KumuDefaultMaxInFlight
	}
	if c.Global.JWT.Lifetime <= 0 {
		c.Global.JWT.Lifetime = KumuDefaultJwtLifetimeHours
	}
	if c.Global.DB.Path == "" {
		c.Global.DB.Path = KumuDefaultDBPath
	}
	if c.Global.DB.MaxOpenConns <= 0 {
		c.Global.DB.MaxOpenConns = store.StoreDefaultMaxOpenConns
	}
	if c.Global.Cache.Type == "" {
		c.Global.Cache.Type = CacheTypeInMemory
	}
	if c.Global.Cache.Size <= 0 {
		c.Global.Cache.Size = KumuDefaultCacheSizeMB
	}
	if c.Global.Cache.TTL <= 0 {
		c.Global.Cache.TTL = KumuDefaultCacheTTLSeconds
	}

	if c.Fleet.VolumePrefix == "" {
		c.Fleet.VolumePrefix = KumuDefaultVolumePrefix
	}
	c.Fleet.VolumePrefix = strings.TrimSuffix(c.Fleet.VolumePrefix, "/")
	if c.Fleet.ImageCacheDir == "" {
		c.Fleet.ImageCacheDir = KumuDefaultImageCacheDir
	}
	if c.Fleet.Network == "" {
		c.Fleet.Network = virt.DomainDefaultNetwork
	}
	if c.Fleet.VolumeReleaseTimeout <= 0 {
		c.Fleet.VolumeReleaseTimeout = KumuDefaultVolumeReleaseTimeout
	}

	if c.SSH.User == "" {
		c.SSH.User = remote.SSHDefaultUser
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = remote.SSHDefaultPort
	}

	if c.Libvirt.Protocol == "" {
		c.Libvirt.Protocol = virt.LibvirtProtocolSSH
	}
}

// Validate checks the settings kumu cannot run without.
func (c *KumuConfig) Validate() error {
	if len(c.Fleet.Hosts) == 0 {
		return errors.NotValidf("config without fleet hosts")
	}
	if c.Global.BaseURL == "" {
		return errors.NotValidf("config without global baseUrl")
	}
	if c.Global.APIKey == "" && c.Global.JWT.Signature == "" {
		return errors.NotValidf("config without API key nor JWT signature")
	}

	// ensure cloud-init template files exist
	for _, t := range []string{c.CloudInit.UserData, c.CloudInit.VendorData} {
		if t == "" {
			continue
		}
		if _, err := os.Stat(t); err != nil {
			return errors.Annotatef(err, "cloud-init template")
		}
	}

	if (c.Tailscale.APIKey == "") != (c.Tailscale.Tailnet == "") {
		return errors.NotValidf("tailscale settings need both apiKey and tailnet")
	}

	return nil
}

func (c *KumuConfig) VolumeReleaseTimeout() time.Duration {
	return time.Duration(c.Fleet.VolumeReleaseTimeout) * time.Second
}

func (c *KumuConfig) Loggers(debug bool) []klog.LoggerConfiguration {
	level := c.Global.LogLevel
	if debug {
		level = "DEBUG"
	}
	return []klog.LoggerConfiguration{
		{
			Type:    klog.LoggerTypeConsole,
			Enabled: true,
			Level:   level,
		},
	}
}

func ParseConfig(f io.ReadCloser) (KumuConfig, error) {
	var config KumuConfig

	contents, err := io.ReadAll(f)
	defer func() {
		_ = f.Close()
	}()
	if err != nil {
		return config, errors.Annotatef(err, "reading configuration")
	}

	err = yaml.Unmarshal(contents, &config)
	if err != nil {
		return config, errors.Annotatef(err, "parsing configuration")
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}
