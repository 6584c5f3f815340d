/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

// Package sdk holds the HTTP surface of the kumu API: models, route tables
// and controllers decoding requests for the services implementing them.
package sdk

import (
	"encoding/json"
	"net/http"
)

const (
	BaseRoute      = "/api/v1"
	CloudInitRoute = "/api/cloudinit"

	mimeJSON = "application/json; charset=UTF-8"
	mimeText = "text/plain; charset=UTF-8"
)

// A Route defines the parameters for an api endpoint
type Route struct {
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

// Routes is a map of defined api endpoints, keyed by operation name.
type Routes map[string]Route

// Router defines the required methods for retrieving api routes
type Router interface {
	Routes() Routes
}

// PlainText bodies are written as is instead of JSON.
type PlainText string

// EncodeJSONResponse uses the json encoder to write an interface to the
// http response with an optional status code.
func EncodeJSONResponse(i interface{}, status *int, w http.ResponseWriter) error {
	if text, ok := i.(PlainText); ok {
		w.Header().Set("Content-Type", mimeText)
		if status != nil {
			w.WriteHeader(*status)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_, err := w.Write([]byte(text))
		return err
	}

	w.Header().Set("Content-Type", mimeJSON)
	if status != nil {
		w.WriteHeader(*status)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if i != nil {
		return json.NewEncoder(w).Encode(i)
	}
	return nil
}

// decodeJSONBody strictly decodes a request body into v.
func decodeJSONBody(r *http.Request, v any) error {
	d := json.NewDecoder(r.Body)
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		return &ParsingError{Err: err}
	}
	return nil
}
