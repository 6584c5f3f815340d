/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package sdk

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

const (
	instanceIdParam   = "instanceId"
	instanceNameParam = "instanceName"

	// ids are UUIDs, which keeps /instances/name/... unambiguous
	instanceIdPattern = "{" + instanceIdParam + ":[0-9a-fA-F-]{36}}"
)

// InstanceAPIController binds http requests to an api service and writes
// the service results to the http response
type InstanceAPIController struct {
	service      InstanceAPIServicer
	errorHandler ErrorHandler
}

// InstanceAPIOption for how the controller is set up.
type InstanceAPIOption func(*InstanceAPIController)

// WithInstanceAPIErrorHandler inject ErrorHandler into controller
func WithInstanceAPIErrorHandler(h ErrorHandler) InstanceAPIOption {
	return func(c *InstanceAPIController) {
		c.errorHandler = h
	}
}

// NewInstanceAPIController creates a default api controller
func NewInstanceAPIController(s InstanceAPIServicer, opts ...InstanceAPIOption) *InstanceAPIController {
	controller := &InstanceAPIController{
		service:      s,
		errorHandler: DefaultErrorHandler,
	}

	for _, opt := range opts {
		opt(controller)
	}

	return controller
}

// Routes returns all the api routes for the InstanceAPIController
func (c *InstanceAPIController) Routes() Routes {
	byId := BaseRoute + "/instances/" + instanceIdPattern
	return Routes{
		"CreateInstance": Route{
			strings.ToUpper("Post"),
			BaseRoute + "/instances",
			c.CreateInstance,
		},
		"ListInstances": Route{
			strings.ToUpper("Get"),
			BaseRoute + "/instances",
			c.ListInstances,
		},
		"ReadInstance": Route{
			strings.ToUpper("Get"),
			byId,
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.ReadInstance),
		},
		"ReadInstanceByName": Route{
			strings.ToUpper("Get"),
			BaseRoute + "/instances/name/{" + instanceNameParam + "}",
			pathParamHandler(c.errorHandler, instanceNameParam, c.service.ReadInstanceByName),
		},
		"DeleteInstance": Route{
			strings.ToUpper("Delete"),
			byId,
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.DeleteInstance),
		},
		"StartInstance": Route{
			strings.ToUpper("Post"),
			byId + "/start",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.StartInstance),
		},
		"ShutdownInstance": Route{
			strings.ToUpper("Post"),
			byId + "/shutdown",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.ShutdownInstance),
		},
		"RebootInstance": Route{
			strings.ToUpper("Post"),
			byId + "/reboot",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.RebootInstance),
		},
		"HardRebootInstance": Route{
			strings.ToUpper("Post"),
			byId + "/hardreboot",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.HardRebootInstance),
		},
		"ReinitInstance": Route{
			strings.ToUpper("Post"),
			byId + "/reinit",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.ReinitInstance),
		},
		"ReadInstanceMachine": Route{
			strings.ToUpper("Get"),
			byId + "/machine",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.ReadInstanceMachine),
		},
	}
}

// CreateInstance -
func (c *InstanceAPIController) CreateInstance(w http.ResponseWriter, r *http.Request) {
	instanceParam := InstanceCreate{}
	if err := decodeJSONBody(r, &instanceParam); err != nil {
		c.errorHandler(w, r, err, nil)
		return
	}
	if err := AssertInstanceCreateRequired(instanceParam); err != nil {
		c.errorHandler(w, r, err, nil)
		return
	}
	result, err := c.service.CreateInstance(r.Context(), instanceParam)
	// If an error occurred, encode the error with the status code
	if err != nil {
		c.errorHandler(w, r, err, &result)
		return
	}
	// If no error, encode the body and the result code
	_ = EncodeJSONResponse(result.Body, &result.Code, w)
}

// ListInstances -
func (c *InstanceAPIController) ListInstances(w http.ResponseWriter, r *http.Request) {
	result, err := c.service.ListInstances(r.Context())
	if err != nil {
		c.errorHandler(w, r, err, &result)
		return
	}
	_ = EncodeJSONResponse(result.Body, &result.Code, w)
}

// pathParamHandler decodes a single mandatory path parameter and hands it
// to the service.
func pathParamHandler(eh ErrorHandler, name string, fn func(context.Context, string) (ImplResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		param := mux.Vars(r)[name]
		if param == "" {
			eh(w, r, &RequiredError{Field: name}, nil)
			return
		}
		result, err := fn(r.Context(), param)
		if err != nil {
			eh(w, r, err, &result)
			return
		}
		_ = EncodeJSONResponse(result.Body, &result.Code, w)
	}
}
