/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package sdk

import (
	"errors"
	"fmt"
	"net/http"
)

// ParsingError indicates that an error has occurred when parsing request
// parameters
type ParsingError struct {
	Param string
	Err   error
}

func (e *ParsingError) Unwrap() error {
	return e.Err
}

func (e *ParsingError) Error() string {
	if e.Param == "" {
		return e.Err.Error()
	}
	return e.Param + ": " + e.Err.Error()
}

// RequiredError indicates that an error has occurred when parsing request
// parameters
type RequiredError struct {
	Field string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("required field '%s' is zero value.", e.Field)
}

// ErrorHandler defines the required method for handling error. You may
// implement it and inject this into a controller if you would like errors
// to be handled differently from the DefaultErrorHandler
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error, result *ImplResponse)

func errorCode(code int) *int {
	return &code
}

// DefaultErrorHandler defines the default logic on how to handle errors
// from the controller. Any errors from parsing request params will return
// a StatusBadRequest. Otherwise, the error code originating from the
// servicer will be used, with the error message echoed back.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error, result *ImplResponse) {
	var parsingErr *ParsingError
	if ok := errors.As(err, &parsingErr); ok {
		_ = EncodeJSONResponse(ApiError{Message: err.Error()}, errorCode(http.StatusBadRequest), w)
		return
	}

	var requiredErr *RequiredError
	if ok := errors.As(err, &requiredErr); ok {
		_ = EncodeJSONResponse(ApiError{Message: err.Error()}, errorCode(http.StatusBadRequest), w)
		return
	}

	code := http.StatusInternalServerError
	if result != nil && result.Code != 0 {
		code = result.Code
	}
	body := ApiError{Message: err.Error()}
	if result != nil {
		if e, ok := result.Body.(ApiError); ok && e.Message != "" {
			body = e
		}
	}
	_ = EncodeJSONResponse(body, &code, w)
}
