/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

// Package remote runs commands on hypervisor hosts.
package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

// Result is the outcome of a command which ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs argv on host. Implementations return a *CommandError when
// the command exits with a non-zero status, so callers can tell transport
// failures from command failures.
type Executor interface {
	Run(ctx context.Context, host string, argv ...string) (*Result, error)
}

// CommandError reports a command which exited with a non-zero status.
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: %q exited with status %d", e.Host, e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: %q exited with status %d: %s", e.Host, e.Command, e.ExitCode, stderr)
}

// AsCommandError unwraps err into a *CommandError, if it holds one.
func AsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsExitCode reports whether err is a command failure with the given status.
func IsExitCode(err error, code int) bool {
	ce, ok := AsCommandError(err)
	return ok && ce.ExitCode == code
}

// CommandLine renders argv as a single shell-safe command line.
func CommandLine(argv ...string) string {
	quoted := make([]string, 0, len(argv))
	for _, a := range argv {
		quoted = append(quoted, utils.ShQuote(a))
	}
	return strings.Join(quoted, " ")
}

func checkResult(host string, argv []string, res *Result) (*Result, error) {
	if res.ExitCode != 0 {
		return res, &CommandError{
			Host:     host,
			Command:  strings.Join(argv, " "),
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}
