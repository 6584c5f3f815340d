/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package sdk

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

const distroNameParam = "distroName"

// DistroAPIController binds http requests to an api service and writes
// the service results to the http response
type DistroAPIController struct {
	service      DistroAPIServicer
	errorHandler ErrorHandler
}

// DistroAPIOption for how the controller is set up.
type DistroAPIOption func(*DistroAPIController)

// WithDistroAPIErrorHandler inject ErrorHandler into controller
func WithDistroAPIErrorHandler(h ErrorHandler) DistroAPIOption {
	return func(c *DistroAPIController) {
		c.errorHandler = h
	}
}

// NewDistroAPIController creates a default api controller
func NewDistroAPIController(s DistroAPIServicer, opts ...DistroAPIOption) *DistroAPIController {
	controller := &DistroAPIController{
		service:      s,
		errorHandler: DefaultErrorHandler,
	}

	for _, opt := range opts {
		opt(controller)
	}

	return controller
}

// Routes returns all the api routes for the DistroAPIController
func (c *DistroAPIController) Routes() Routes {
	byName := BaseRoute + "/distros/{" + distroNameParam + "}"
	return Routes{
		"ListDistros": Route{
			strings.ToUpper("Get"),
			BaseRoute + "/distros",
			c.ListDistros,
		},
		"CreateDistro": Route{
			strings.ToUpper("Post"),
			BaseRoute + "/distros",
			c.CreateDistro,
		},
		"ReadDistro": Route{
			strings.ToUpper("Get"),
			byName,
			pathParamHandler(c.errorHandler, distroNameParam, c.service.ReadDistro),
		},
		"UpdateDistro": Route{
			strings.ToUpper("Post"),
			byName,
			c.UpdateDistro,
		},
		"DeleteDistro": Route{
			strings.ToUpper("Delete"),
			byName,
			pathParamHandler(c.errorHandler, distroNameParam, c.service.DeleteDistro),
		},
	}
}

// ListDistros -
func (c *DistroAPIController) ListDistros(w http.ResponseWriter, r *http.Request) {
	result, err := c.service.ListDistros(r.Context())
	if err != nil {
		c.errorHandler(w, r, err, &result)
		return
	}
	_ = EncodeJSONResponse(result.Body, &result.Code, w)
}

// CreateDistro -
func (c *DistroAPIController) CreateDistro(w http.ResponseWriter, r *http.Request) {
	distroParam := Distro{}
	if err := decodeJSONBody(r, &distroParam); err != nil {
		c.errorHandler(w, r, err, nil)
		return
	}
	result, err := c.service.CreateDistro(r.Context(), distroParam)
	if err != nil {
		c.errorHandler(w, r, err, &result)
		return
	}
	_ = EncodeJSONResponse(result.Body, &result.Code, w)
}

// UpdateDistro -
func (c *DistroAPIController) UpdateDistro(w http.ResponseWriter, r *http.Request) {
	nameParam := mux.Vars(r)[distroNameParam]
	if nameParam == "" {
		c.errorHandler(w, r, &RequiredError{Field: distroNameParam}, nil)
		return
	}
	distroParam := Distro{}
	if err := decodeJSONBody(r, &distroParam); err != nil {
		c.errorHandler(w, r, err, nil)
		return
	}
	result, err := c.service.UpdateDistro(r.Context(), nameParam, distroParam)
	if err != nil {
		c.errorHandler(w, r, err, &result)
		return
	}
	_ = EncodeJSONResponse(result.Body, &result.Code, w)
}
