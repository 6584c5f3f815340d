/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/ws"
	"github.com/kowabunga-cloud/kanoa/kanoa/sdk"
)

const (
	EventsRoute = sdk.BaseRoute + "/instances/{instanceId:[0-9a-fA-F-]{36}}/events"
)

// eventsHandler streams the status changes of one instance over a
// websocket, starting with its current status. The stream ends once the
// instance is deleted or the client goes away.
func eventsHandler(f *Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["instanceId"]

		inst, err := f.Store().GetInstance(r.Context(), id)
		if err != nil {
			res, _ := HttpError(err)
			_ = sdk.EncodeJSONResponse(res.Body, &res.Code, w)
			return
		}

		// subscribe before the upgrade so no change gets lost in between
		events, unsubscribe := f.Tasks().Subscribe(id)
		defer unsubscribe()

		c, err := ws.ServerConnectionUpgrade(w, r)
		if err != nil {
			klog.Errorf("ws upgrade: %s", err)
			return
		}
		defer func() {
			_ = c.Close()
		}()

		// drain client frames so close and pong get processed
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := c.NextReader(); err != nil {
					return
				}
			}
		}()

		err = ws.WriteJSON(c, StatusEvent{
			InstanceID: inst.ID,
			Status:     inst.Status,
		})
		if err != nil {
			return
		}

		ping := time.NewTicker(ws.WsPingInterval * time.Second)
		defer ping.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := ws.WriteJSON(c, ev); err != nil {
					klog.Debugf("Event stream of %s closed: %v", id, err)
					return
				}
				if ev.Deleted {
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "instance deleted")
					_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ws.WsWriteTimeout*time.Second))
					return
				}
			case <-ping.C:
				if err := ws.Ping(c); err != nil {
					return
				}
			case <-gone:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}
