/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

// Package ws holds the websocket settings of the kumu event stream.
package ws

const (
	WsCompressionEnabled = false
	WsHandshakeTimeout   = 45   // seconds
	WsBufferSize         = 8192 // 8kiB
	WsWriteTimeout       = 10   // seconds
	WsPingInterval       = 30   // seconds
)
