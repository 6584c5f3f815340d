/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package sdk

import (
	"net/http"
	"strings"
)

// AuditAPIController binds http requests to an api service and writes the
// service results to the http response
type AuditAPIController struct {
	service      AuditAPIServicer
	errorHandler ErrorHandler
}

// NewAuditAPIController creates a default api controller
func NewAuditAPIController(s AuditAPIServicer) *AuditAPIController {
	return &AuditAPIController{
		service:      s,
		errorHandler: DefaultErrorHandler,
	}
}

// Routes returns all the api routes for the AuditAPIController
func (c *AuditAPIController) Routes() Routes {
	return Routes{
		"ListAuditEvents": Route{
			strings.ToUpper("Get"),
			BaseRoute + "/auditlogs",
			c.ListAuditEvents,
		},
		"ListInstanceAuditEvents": Route{
			strings.ToUpper("Get"),
			BaseRoute + "/auditlogs/instance/{" + instanceIdParam + "}",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.ListInstanceAuditEvents),
		},
	}
}

// ListAuditEvents -
func (c *AuditAPIController) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	result, err := c.service.ListAuditEvents(r.Context())
	if err != nil {
		c.errorHandler(w, r, err, &result)
		return
	}
	_ = EncodeJSONResponse(result.Body, &result.Code, w)
}

// LibvirtAPIController exposes the live hypervisor inventory.
type LibvirtAPIController struct {
	service      LibvirtAPIServicer
	errorHandler ErrorHandler
}

// NewLibvirtAPIController creates a default api controller
func NewLibvirtAPIController(s LibvirtAPIServicer) *LibvirtAPIController {
	return &LibvirtAPIController{
		service:      s,
		errorHandler: DefaultErrorHandler,
	}
}

// Routes returns all the api routes for the LibvirtAPIController
func (c *LibvirtAPIController) Routes() Routes {
	return Routes{
		"ListMachines": Route{
			strings.ToUpper("Get"),
			BaseRoute + "/libvirt/machines",
			c.ListMachines,
		},
	}
}

// ListMachines -
func (c *LibvirtAPIController) ListMachines(w http.ResponseWriter, r *http.Request) {
	result, err := c.service.ListMachines(r.Context())
	if err != nil {
		c.errorHandler(w, r, err, &result)
		return
	}
	_ = EncodeJSONResponse(result.Body, &result.Code, w)
}
