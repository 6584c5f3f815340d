/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/semaphore"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/sdk"
)

const (
	HttpHeaderAuthApiKey       = "X-API-Key"
	HttpHeaderAuthorization    = "Authorization"
	HttpHeaderAuthBearerPrefix = "Bearer "

	HttpRequestContextSubject contextKey = "subject"
)

type contextKey string

// guests fetch their cloud-init documents without credentials
var noAuthApiOperations = []string{
	sdk.OpReadMetaData,
	sdk.OpReadUserData,
	sdk.OpReadVendorData,
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	v := fmt.Sprintf("%s (%s)\n", version, codename)
	_, err := w.Write([]byte(v))
	if err != nil {
		klog.Error(err)
	}
}

func writeApiError(w http.ResponseWriter, code int, msg string) {
	_ = sdk.EncodeJSONResponse(sdk.ApiError{Message: msg}, &code, w)
}

func loggingMiddleware(next http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		klog.Debugf("%s %s %s %s", r.Method, r.RequestURI, name, time.Since(start))
	})
}

// Authenticator accepts either the master API key or an HMAC-signed JWT.
type Authenticator struct {
	APIKey       string
	JwtSignature string
}

func ctxGetSubject(ctx context.Context) string {
	value, _ := ctx.Value(HttpRequestContextSubject).(string)
	return value
}

func (a *Authenticator) authenticate(r *http.Request) (*http.Request, bool) {
	ctx := r.Context()

	// start with server-to-server API-key based authentication
	apikey := r.Header.Get(HttpHeaderAuthApiKey)
	if apikey != "" {
		if a.APIKey == "" || subtle.ConstantTimeCompare([]byte(apikey), []byte(a.APIKey)) != 1 {
			return nil, false
		}
		klog.Debugf("API-key based authentication")
		return r.WithContext(context.WithValue(ctx, HttpRequestContextSubject, HttpHeaderAuthApiKey)), true
	}

	// failover, JWT-based auth
	authHeader := r.Header.Get(HttpHeaderAuthorization)
	if !strings.HasPrefix(authHeader, HttpHeaderAuthBearerPrefix) {
		// No authentication scheme header in HTTP request
		return nil, false
	}

	jwtToken := authHeader[len(HttpHeaderAuthBearerPrefix):]
	uid, err := VerifyJwt(a.JwtSignature, jwtToken)
	if err != nil {
		klog.Debugf("JWT rejected: %v", err)
		return nil, false
	}

	klog.Debugf("JWT based authentication for %s", uid)
	return r.WithContext(context.WithValue(ctx, HttpRequestContextSubject, uid)), true
}

func (a *Authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check if user is authenticated
		rAuth, ok := a.authenticate(r)
		if !ok {
			writeApiError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		// Call the next middleware function or final handler
		next.ServeHTTP(w, rAuth)
	})
}

// limiterMiddleware caps the number of requests served at once. Requests
// wait for a slot until their context ends.
func limiterMiddleware(next http.Handler, sem *semaphore.Weighted) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := sem.Acquire(r.Context(), 1); err != nil {
			writeApiError(w, http.StatusServiceUnavailable, "server is busy, try again later")
			return
		}
		defer sem.Release(1)
		next.ServeHTTP(w, r)
	})
}

func NewRouter(ke *KumuEngine) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	maxInFlight := int64(ke.MaxInFlight)
	if maxInFlight <= 0 {
		maxInFlight = KumuDefaultMaxInFlight
	}
	sem := semaphore.NewWeighted(maxInFlight)

	// add all sub-routes from SDK services
	for _, api := range ke.ApiRouters {
		for name, route := range api.Routes() {
			var handler http.Handler
			handler = route.HandlerFunc

			//
			// WARNING: reverse-order logic in middlewares queueing
			//

			// concurrency limiter
			handler = limiterMiddleware(handler, sem)

			if !slices.Contains(noAuthApiOperations, name) {
				// authentication middleware
				handler = ke.Auth.middleware(handler)
			}

			// logging middleware
			handler = loggingMiddleware(handler, name)

			router.
				Methods(route.Method).
				Path(route.Pattern).
				Name(name).
				Handler(handler)
		}
	}

	// extra endpoint routes
	router.HandleFunc("/version", versionHandler)
	if ke.Exporter != nil {
		router.Handle("/metrics", ke.Exporter.HttpHandler())
	}
	if ke.Fleet != nil {
		// long-lived, kept out of the limiter
		events := loggingMiddleware(ke.Auth.middleware(eventsHandler(ke.Fleet)), "InstanceEvents")
		router.Methods(http.MethodGet).Path(EventsRoute).Name("InstanceEvents").Handler(events)
	}

	return router
}
