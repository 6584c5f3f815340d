/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	ErrHostUnreachable = errors.ConstError("host unreachable")
	ErrTaskRunning     = errors.ConstError("a task is already running for this instance")
	ErrTasksShutdown   = errors.ConstError("task registry is shut down")
)

// Terminal provisioning stages.
const (
	StageImageDownloadFailed = "ImageDownloadFailed"
	StageVolumeCreateFailed  = "VolumeCreateFailed"
	StageVolumeHydrateFailed = "VolumeHydrateFailed"
	StageSnapshotFailed      = "SnapshotFailed"
	StageDomainDefineFailed  = "DomainDefineFailed"
	StageDomainStartFailed   = "DomainStartFailed"
)

// StageError is the terminal failure of a provisioning workflow step.
type StageError struct {
	Stage string
	Host  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Stage, e.Host, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage, host string, err error) error {
	return &StageError{
		Stage: stage,
		Host:  host,
		Err:   err,
	}
}
