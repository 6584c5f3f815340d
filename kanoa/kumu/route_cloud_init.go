/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"

	"github.com/kowabunga-cloud/kanoa/kanoa/sdk"
)

func NewCloudInitRouter(f *Fleet) sdk.Router {
	return sdk.NewCloudInitAPIController(&CloudInitService{fleet: f})
}

// CloudInitService answers guests booting with the NoCloud datasource.
type CloudInitService struct {
	fleet *Fleet
}

func (s *CloudInitService) serve(ctx context.Context, id string, fn func(context.Context, string) (string, error)) (sdk.ImplResponse, error) {
	doc, err := fn(ctx, id)
	if err != nil {
		return HttpError(err)
	}
	return HttpText(doc)
}

func (s *CloudInitService) ReadMetaData(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))
	return s.serve(ctx, instanceId, s.fleet.MetaData)
}

func (s *CloudInitService) ReadUserData(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))
	return s.serve(ctx, instanceId, s.fleet.UserData)
}

func (s *CloudInitService) ReadVendorData(ctx context.Context, instanceId string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("instanceId", instanceId))
	return s.serve(ctx, instanceId, s.fleet.VendorData)
}
