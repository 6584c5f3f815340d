/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package remote

import (
	"context"
	"os"

	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common"
)

// LocalExecutor runs commands on the machine kumu itself runs on, from the
// user's home directory so relative paths match an SSH login.
type LocalExecutor struct {
	dir string
}

func NewLocalExecutor() *LocalExecutor {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "/"
	}
	return &LocalExecutor{
		dir: dir,
	}
}

func (e *LocalExecutor) Dir() string {
	return e.dir
}

func (e *LocalExecutor) Run(ctx context.Context, host string, argv ...string) (*Result, error) {
	out, err := common.BinExecContext(ctx, e.dir, argv, nil)
	if err != nil {
		return nil, errors.Annotatef(err, "running %q locally", CommandLine(argv...))
	}

	return checkResult(host, argv, &Result{
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
	})
}

// HostExecutor dispatches commands for local hosts to a LocalExecutor and
// everything else to a remote one.
type HostExecutor struct {
	Local  *LocalExecutor
	Remote Executor
}

func (e *HostExecutor) Run(ctx context.Context, host string, argv ...string) (*Result, error) {
	if common.IsLocalHost(host) {
		return e.Local.Run(ctx, host, argv...)
	}
	if e.Remote == nil {
		return nil, errors.NotSupportedf("remote execution on %s", host)
	}
	return e.Remote.Run(ctx, host, argv...)
}
