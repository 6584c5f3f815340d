/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package common

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

// ExecOutput holds what a finished local command produced.
type ExecOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func LookupBinary(bin string) (string, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		klog.Errorf("%s executable can't be found in $PATH", bin)
		return "", err
	}

	return path, nil
}

// BinExecContext runs argv[0] with the remaining arguments in dir. A non-zero
// exit status is reported through ExecOutput.ExitCode, not as an error; the
// error is only set when the process could not be run or ctx was cancelled.
func BinExecContext(ctx context.Context, dir string, argv []string, envs []string) (*ExecOutput, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	bin, err := LookupBinary(argv[0])
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envs...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	klog.Debugf("Running %s %s", strings.Join(envs, " "), strings.Join(argv, " "))
	err = cmd.Run()

	out := &ExecOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, err
	}

	return out, nil
}
