/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"

	"github.com/kowabunga-cloud/kanoa/kanoa/sdk"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

func NewDistroRouter(st *store.Store) sdk.Router {
	return sdk.NewDistroAPIController(&DistroService{store: st})
}

type DistroService struct {
	store *store.Store
}

func distroModel(d store.Distro) sdk.Distro {
	return sdk.Distro{
		Name:        d.Name,
		DownloadUrl: d.DownloadURL,
		Sha256sum:   d.Sha256Sum,
		MinSizeGb:   int32(d.MinSizeGB),
		Format:      d.Format,
	}
}

func distroFromModel(d sdk.Distro) store.Distro {
	return store.Distro{
		Name:        d.Name,
		DownloadURL: d.DownloadUrl,
		Sha256Sum:   d.Sha256sum,
		MinSizeGB:   int(d.MinSizeGb),
		Format:      d.Format,
	}
}

func (s *DistroService) ListDistros(ctx context.Context) (sdk.ImplResponse, error) {
	distros, err := s.store.ListDistros(ctx)
	if err != nil {
		return HttpError(err)
	}

	payload := []sdk.Distro{}
	for _, d := range distros {
		payload = append(payload, distroModel(d))
	}

	LogHttpResponse(payload)
	return HttpOK(payload)
}

func (s *DistroService) CreateDistro(ctx context.Context, distro sdk.Distro) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("distro", distro))

	d, err := s.store.CreateDistro(ctx, distroFromModel(distro))
	if err != nil {
		return HttpError(err)
	}

	payload := distroModel(d)
	LogHttpResponse(payload)
	return HttpCreated(payload)
}

func (s *DistroService) ReadDistro(ctx context.Context, distroName string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("distroName", distroName))

	d, err := s.store.GetDistro(ctx, distroName)
	if err != nil {
		return HttpError(err)
	}

	payload := distroModel(d)
	LogHttpResponse(payload)
	return HttpOK(payload)
}

func (s *DistroService) UpdateDistro(ctx context.Context, distroName string, distro sdk.Distro) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("distroName", distroName), RA("distro", distro))

	// the path name wins over the body one
	d := distroFromModel(distro)
	d.Name = distroName

	d, err := s.store.UpsertDistro(ctx, d)
	if err != nil {
		return HttpError(err)
	}

	payload := distroModel(d)
	LogHttpResponse(payload)
	return HttpOK(payload)
}

func (s *DistroService) DeleteDistro(ctx context.Context, distroName string) (sdk.ImplResponse, error) {
	LogHttpRequest(RA("distroName", distroName))

	_, err := s.store.DeleteDistro(ctx, distroName)
	if err != nil {
		return HttpError(err)
	}

	return HttpNoContent()
}
