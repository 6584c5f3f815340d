/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package common

import (
	"bytes"
	"encoding/xml"

	"github.com/inhies/go-bytesize"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB

	LocalHost = "localhost"
)

func XmlMarshal(v any) (string, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HumanByteSize formats n bytes, e.g. "512.00MB".
func HumanByteSize(n uint64) string {
	return bytesize.New(float64(n)).String()
}

func IsLocalHost(host string) bool {
	return host == LocalHost || host == "127.0.0.1" || host == "::1"
}
