/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"crypto/rand"
	"net"
)

// RandomMAC returns a random locally administered unicast hardware address.
func RandomMAC() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// set the local bit, clear the multicast one
	b[0] = (b[0] | 2) & 0xfe
	return net.HardwareAddr(b).String(), nil
}
