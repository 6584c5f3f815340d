/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"time"

	"github.com/kowabunga-cloud/kanoa/kanoa/sdk"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

func NewAuditRouter(st *store.Store) sdk.Router {
	return sdk.NewAuditAPIController(&AuditService{store: st})
}

type AuditService struct {
	store *store.Store
}

func auditModels(events []store.AuditEvent) []sdk.AuditEvent {
	payload := []sdk.AuditEvent{}
	for _, e := range events {
		payload = append(payload, sdk.AuditEvent{
			Id:         e.ID,
			Ts:         e.Timestamp.UTC().Format(time.RFC3339Nano),
			Kind:       e.Kind,
			Op:         e.Op,
			Data:       e.Data,
			EntityId:   e.EntityID,
			EntityName: e.EntityName,
		})
	}
	return payload
}

func (s *AuditService) ListAuditEvents(ctx context.Context) (sdk.ImplResponse, error) {
	events, err := s.store.AuditEvents(ctx)
	if err != nil {
		return HttpError(err)
	}

	return HttpOK(auditModels(events))
}

func (s *AuditService) ListInstanceAuditEvents(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))

	events, err := s.store.InstanceAuditEvents(ctx, instanceId)
	if err != nil {
		return HttpError(err)
	}

	return HttpOK(auditModels(events))
}
