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

func NewLibvirtRouter(f *Fleet) sdk.Router {
	return sdk.NewLibvirtAPIController(&LibvirtService{fleet: f})
}

type LibvirtService struct {
	fleet *Fleet
}

func (s *LibvirtService) ListMachines(ctx context.Context) (sdk.ImplResponse, error) {
	machines, err := s.fleet.Machines(ctx)
	if err != nil {
		return HttpError(err)
	}

	payload := []sdk.Machine{}
	for _, m := range machines {
		payload = append(payload, machineModel(m))
	}

	LogHttpResponse(payload)
	return HttpOK(payload)
}
