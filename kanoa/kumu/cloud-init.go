/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"bytes"
	"context"
	"os"
	"text/template"

	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

const (
	CloudInitUserData   = "user-data"
	CloudInitVendorData = "vendor-data"
	CloudInitMetaData   = "meta-data"

	CloudInitOpRunning = "running"
)

const cloudInitMetaData = "instance-id: {{ .ID }}\nlocal-hostname: {{ .Name }}"

const cloudInitDefaultUserData = `#cloud-config
hostname: {{ .Name }}
fqdn: {{ .Name }}
manage_etc_hosts: true
ssh_pwauth: false
chpasswd:
  expire: false
  users:
    - name: root
      password: {{ generatePassword 24 | sha512 }}
      type: hash
package_update: true
packages:
  - qemu-guest-agent
runcmd:
  - [systemctl, enable, --now, qemu-guest-agent]
`

const cloudInitDefaultVendorData = `#cloud-config
{{- if .JoinNetwork }}
runcmd:
  - [sh, -c, "curl -fsSL https://tailscale.com/install.sh | sh"]
  - [tailscale, up, "--authkey={{ .AuthKey }}", "--hostname={{ .Name }}", --ssh]
{{- else }}
{}
{{- end }}
`

// CloudInitSettings is what the cloud-init templates get rendered with.
type CloudInitSettings struct {
	ID          string
	Name        string
	Host        string
	Distro      string
	JoinNetwork bool
	AuthKey     string
}

type CloudInitTemplates struct {
	userData   *template.Template
	vendorData *template.Template
}

func loadTemplate(name, path, fallback string) (*template.Template, error) {
	text := fallback
	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "reading %s template", name)
		}
		text = string(contents)
	}

	tpl, err := common.NewTemplate(name).Parse(text)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing %s template", name)
	}
	return tpl, nil
}

// NewCloudInitTemplates loads the user-data and vendor-data templates from
// the given files, falling back to built-in ones.
func NewCloudInitTemplates(userDataPath, vendorDataPath string) (*CloudInitTemplates, error) {
	ud, err := loadTemplate(CloudInitUserData, userDataPath, cloudInitDefaultUserData)
	if err != nil {
		return nil, err
	}
	vd, err := loadTemplate(CloudInitVendorData, vendorDataPath, cloudInitDefaultVendorData)
	if err != nil {
		return nil, err
	}
	return &CloudInitTemplates{
		userData:   ud,
		vendorData: vd,
	}, nil
}

func render(tpl *template.Template, data CloudInitSettings) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", errors.Annotatef(err, "rendering %s", tpl.Name())
	}
	return buf.String(), nil
}

func (t *CloudInitTemplates) UserData(data CloudInitSettings) (string, error) {
	return render(t.userData, data)
}

func (t *CloudInitTemplates) VendorData(data CloudInitSettings) (string, error) {
	return render(t.vendorData, data)
}

// MetaData is the NoCloud meta-data document of an instance.
func (f *Fleet) MetaData(ctx context.Context, id string) (string, error) {
	inst, err := f.store.GetInstance(ctx, id)
	if err != nil {
		return "", err
	}
	return common.RenderTemplate(CloudInitMetaData, cloudInitMetaData, inst)
}

// UserData returns the seeded user-data. Its first fetch after boot marks
// the guest as running.
func (f *Fleet) UserData(ctx context.Context, id string) (string, error) {
	userData, err := f.store.UserData(ctx, id)
	if err != nil {
		return "", err
	}

	inst, err := f.store.GetInstance(ctx, id)
	if err != nil {
		return "", err
	}

	switch inst.Status.State {
	case store.StateWaitingForGuest, store.StateReinitializing:
		inst, err = f.store.TransitionInstance(ctx, id, store.NewStatus(store.StateRunning), CloudInitOpRunning)
		switch {
		case err == nil:
			klog.Infof("Instance %s fetched its user-data, now running", inst.Name)
			f.publish(inst, nil)
		case errors.Is(err, store.ErrInvalidTransition):
			// raced with a lifecycle operation, which wins
		default:
			klog.Errorf("Unable to mark instance %s as running: %v", id, err)
		}
	}

	return userData, nil
}

// VendorData renders the vendor-data document, minting an overlay network
// key for instances asking to join it.
func (f *Fleet) VendorData(ctx context.Context, id string) (string, error) {
	inst, err := f.store.GetInstance(ctx, id)
	if err != nil {
		return "", err
	}

	data := CloudInitSettings{
		ID:          inst.ID,
		Name:        inst.Name,
		Host:        inst.Host,
		Distro:      inst.Distro,
		JoinNetwork: inst.JoinNetwork,
	}

	if inst.JoinNetwork {
		if f.keys == nil {
			return "", errors.NotSupportedf("joining the overlay network without tailscale settings")
		}
		key, err := f.keys.EphemeralKey(ctx)
		if err != nil {
			return "", errors.Annotatef(err, "minting auth key for %s", inst.Name)
		}
		data.AuthKey = key
	}

	return f.tpl.VendorData(data)
}
