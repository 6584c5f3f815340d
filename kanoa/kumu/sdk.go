/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/common/virt"
	"github.com/kowabunga-cloud/kanoa/kanoa/sdk"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

type RequestArg struct {
	Name  string
	Value interface{}
}

func (a *RequestArg) String() string {
	return fmt.Sprintf("%s:%#v", a.Name, a.Value)
}

func RA(name string, value interface{}) RequestArg {
	return RequestArg{
		Name:  name,
		Value: value,
	}
}

func callerName() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	funcname := runtime.FuncForPC(pc).Name()
	return funcname[strings.LastIndex(funcname, ".")+1:]
}

func LogHttpRequest(args ...RequestArg) {
	var params string
	for _, a := range args {
		params += fmt.Sprintf("%s ", a.String())
	}
	klog.Debugf("%s() request params - %s", callerName(), params)
}

func LogHttpResponse(body interface{}) {
	klog.Debugf("%s() response body - %+v", callerName(), body)
}

func HttpOK(body interface{}) (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusOK, body), nil
}

func HttpCreated(body interface{}) (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusCreated, body), nil
}

func HttpAccepted(body interface{}) (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusAccepted, body), nil
}

func HttpNoContent() (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusNoContent, nil), nil
}

func HttpText(text string) (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusOK, sdk.PlainText(text)), nil
}

func HttpBadParams(err error) (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusBadRequest, sdk.ApiError{Message: err.Error()}), err
}

func HttpNotFound(err error) (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusNotFound, sdk.ApiError{Message: err.Error()}), err
}

func HttpConflict(err error) (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusConflict, sdk.ApiError{Message: err.Error()}), err
}

func HttpServerError(err error) (sdk.ImplResponse, error) {
	return sdk.Response(http.StatusInternalServerError, sdk.ApiError{Message: err.Error()}), err
}

// HttpError maps an error to its API status code, always echoing the
// message.
func HttpError(err error) (sdk.ImplResponse, error) {
	switch {
	case errors.Is(err, errors.NotFound),
		errors.Is(err, virt.ErrDomainNotFound):
		return HttpNotFound(err)
	case errors.Is(err, errors.AlreadyExists),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrDistroInUse),
		errors.Is(err, virt.ErrDomainNotRunning),
		errors.Is(err, ErrTaskRunning):
		return HttpConflict(err)
	case errors.Is(err, errors.NotValid),
		errors.Is(err, errors.BadRequest),
		errors.Is(err, ErrHostUnreachable):
		return HttpBadParams(err)
	}
	klog.Error(err)
	return HttpServerError(err)
}
