/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package common

import (
	"bytes"
	"encoding/base64"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/sethvargo/go-password/password"
	"github.com/tredoe/osutil/user/crypt"
	"github.com/tredoe/osutil/user/crypt/sha512_crypt"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	templatePasswordSymbolsCount          = 0
	templatePasswordLowercaseOnly         = false
	templatePasswordAllowRepeatCharacters = false
)

var TemplateFunctions = template.FuncMap{
	"b64encode": func(str string) string {
		return base64.StdEncoding.EncodeToString([]byte(str))
	},
	"generatePassword": func(n int) string {
		return GenerateRandomPassword(n)
	},
	"sha512": func(in string) string {
		return Shasum512(in)
	},
}

func GenerateRandomPassword(n int) string {
	res, err := password.Generate(n, n/3, templatePasswordSymbolsCount, templatePasswordLowercaseOnly, templatePasswordAllowRepeatCharacters)
	if err != nil {
		klog.Error(err)
		return ""
	}
	return res
}

// Shasum512 returns a crypt(3) SHA-512 hash, as expected by cloud-init's
// passwd fields.
func Shasum512(in string) string {
	c := crypt.New(crypt.SHA512)
	s := sha512_crypt.GetSalt()
	salt := string(s.GenerateWRounds(s.SaltLenMax, 4096))
	hash, err := c.Generate([]byte(in), []byte(salt))
	if err != nil {
		klog.Error(err)
		return ""
	}
	return hash
}

// NewTemplate returns a text template loaded with sprig and our own
// functions, the latter taking precedence.
func NewTemplate(name string) *template.Template {
	return template.New(name).Funcs(sprig.TxtFuncMap()).Funcs(TemplateFunctions)
}

// RenderTemplate parses and executes text against data.
func RenderTemplate(name, text string, data any) (string, error) {
	tpl, err := NewTemplate(name).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
