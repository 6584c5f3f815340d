/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package store

import (
	"encoding/json"
	"strings"

	"github.com/juju/errors"
)

const (
	ErrInvalidTransition = errors.ConstError("invalid status transition")
	ErrInvalidStatus     = errors.ConstError("invalid status")
	ErrDistroInUse       = errors.ConstError("distro in use")
)

// State is the closed set of instance states.
type State int

const (
	StateInit State = iota
	StateDownloading
	StateHydrating
	StateSnapshotting
	StateDefining
	StateWaitingForGuest
	StateRunning
	StateStarting
	StateOff
	StateRebooting
	StateReinitializing
	StateFailed
)

const failedPrefix = "failed: "

var stateNames = map[State]string{
	StateInit:            "init",
	StateDownloading:     "downloading image",
	StateHydrating:       "hydrating volume",
	StateSnapshotting:    "snapshotting",
	StateDefining:        "defining",
	StateWaitingForGuest: "waiting for cloud-init",
	StateRunning:         "running",
	StateStarting:        "starting",
	StateOff:             "off",
	StateRebooting:       "rebooting",
	StateReinitializing:  "reinit",
	StateFailed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// operational states can reach each other through lifecycle operations.
var operational = []State{StateStarting, StateOff, StateRebooting, StateReinitializing}

var transitions = map[State][]State{
	StateInit:            {StateDownloading, StateHydrating},
	StateDownloading:     {StateHydrating},
	StateHydrating:       {StateSnapshotting},
	StateSnapshotting:    {StateDefining},
	StateDefining:        {StateWaitingForGuest},
	StateWaitingForGuest: append([]State{StateRunning}, operational...),
	StateRunning:         operational,
	StateStarting:        operational,
	StateOff:             operational,
	StateRebooting:       operational,
	StateReinitializing:  append([]State{StateRunning}, operational...),
	StateFailed:          {StateReinitializing},
}

// Status is an instance state; a failed status also remembers the last
// stage that was reached.
type Status struct {
	State State
	Stage State
}

func NewStatus(s State) Status {
	return Status{State: s}
}

// Failed returns the terminal status for a workflow interrupted at stage.
func Failed(stage State) Status {
	return Status{
		State: StateFailed,
		Stage: stage,
	}
}

func (s Status) String() string {
	if s.State == StateFailed {
		return failedPrefix + s.Stage.String()
	}
	return s.State.String()
}

func (s Status) IsFailed() bool {
	return s.State == StateFailed
}

// IsProvisioning reports whether the provisioning workflow still owns the
// instance.
func (s Status) IsProvisioning() bool {
	return s.State >= StateInit && s.State <= StateDefining
}

// CanTransition reports whether an instance in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	if next.State == StateFailed {
		return s.IsProvisioning()
	}
	for _, allowed := range transitions[s.State] {
		if allowed == next.State {
			return true
		}
	}
	return false
}

func parseState(str string) (State, bool) {
	for state, name := range stateNames {
		if name == str {
			return state, true
		}
	}
	return 0, false
}

// ParseStatus reads back the representation produced by String.
func ParseStatus(str string) (Status, error) {
	if stage, ok := strings.CutPrefix(str, failedPrefix); ok {
		st, found := parseState(stage)
		if !found || st == StateFailed {
			return Status{}, errors.Annotatef(ErrInvalidStatus, "%q", str)
		}
		return Failed(st), nil
	}

	st, found := parseState(str)
	if !found || st == StateFailed {
		return Status{}, errors.Annotatef(ErrInvalidStatus, "%q", str)
	}
	return NewStatus(st), nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	st, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
