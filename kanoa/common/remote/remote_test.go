/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package remote

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandLineQuoting(t *testing.T) {
	assert.Equal(t, "'sudo' 'zfs' 'create' '-V' '5G' 'rpool/vms/a b'",
		CommandLine("sudo", "zfs", "create", "-V", "5G", "rpool/vms/a b"))
	assert.Equal(t, `'it'"'"'s'`, CommandLine("it's"))
}

func TestCommandErrorMessage(t *testing.T) {
	err := error(&CommandError{
		Host:     "logos",
		Command:  "zfs create",
		ExitCode: 1,
		Stderr:   "cannot create: dataset already exists\n",
	})
	assert.Equal(t, `logos: "zfs create" exited with status 1: cannot create: dataset already exists`, err.Error())

	wrapped := errors.Annotate(err, "creating volume")
	ce, ok := AsCommandError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "logos", ce.Host)
	assert.True(t, IsExitCode(wrapped, 1))
	assert.False(t, IsExitCode(wrapped, 2))
	assert.False(t, IsExitCode(errors.New("boom"), 1))
}

func TestLocalExecutor(t *testing.T) {
	e := NewLocalExecutor()
	ctx := context.Background()

	res, err := e.Run(ctx, "localhost", "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)

	res, err = e.Run(ctx, "localhost", "sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.True(t, IsExitCode(err, 3))
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestHostExecutorDispatch(t *testing.T) {
	e := &HostExecutor{Local: NewLocalExecutor()}

	_, err := e.Run(context.Background(), "localhost", "true")
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "logos", "true")
	assert.True(t, errors.Is(err, errors.NotSupported))
}
