/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/errors"
)

const (
	JwtIssuer = "Kanoa"
)

// NewJwt signs an HMAC token for subject, valid for lifetime.
func NewJwt(signature, subject string, lifetime time.Duration) (string, error) {
	if signature == "" {
		return "", errors.NotValidf("empty JWT signature")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{
			// see RFC7519 (https://datatracker.ietf.org/doc/html/rfc7519)
			"iss": JwtIssuer,
			"uid": subject,
			"exp": time.Now().Add(lifetime).Unix(),
		})
	return token.SignedString([]byte(signature))
}

// VerifyJwt checks tokenString against signature and returns its subject.
func VerifyJwt(signature, tokenString string) (string, error) {
	if signature == "" {
		return "", errors.NotSupportedf("JWT authentication")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Don't forget to validate the alg is what you expect:
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(signature), nil
	}, jwt.WithIssuer(JwtIssuer))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.NotValidf("JWT claims")
	}

	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return "", errors.NotValidf("JWT without subject")
	}

	return uid, nil
}
