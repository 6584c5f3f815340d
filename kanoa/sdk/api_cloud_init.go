/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package sdk

import (
	"strings"
)

// CloudInit operations are fetched by guests and are not authenticated.
const (
	OpReadMetaData   = "ReadMetaData"
	OpReadUserData   = "ReadUserData"
	OpReadVendorData = "ReadVendorData"
)

// CloudInitAPIController serves the NoCloud datasource documents.
type CloudInitAPIController struct {
	service      CloudInitAPIServicer
	errorHandler ErrorHandler
}

// NewCloudInitAPIController creates a default api controller
func NewCloudInitAPIController(s CloudInitAPIServicer) *CloudInitAPIController {
	return &CloudInitAPIController{
		service:      s,
		errorHandler: DefaultErrorHandler,
	}
}

// Routes returns all the api routes for the CloudInitAPIController
func (c *CloudInitAPIController) Routes() Routes {
	base := CloudInitRoute + "/{" + instanceIdParam + "}"
	return Routes{
		OpReadMetaData: Route{
			strings.ToUpper("Get"),
			base + "/meta-data",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.ReadMetaData),
		},
		OpReadUserData: Route{
			strings.ToUpper("Get"),
			base + "/user-data",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.ReadUserData),
		},
		OpReadVendorData: Route{
			strings.ToUpper("Get"),
			base + "/vendor-data",
			pathParamHandler(c.errorHandler, instanceIdParam, c.service.ReadVendorData),
		},
	}
}
