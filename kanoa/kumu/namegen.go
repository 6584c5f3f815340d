/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"

	"github.com/huandu/xstrings"
	"github.com/juju/errors"
)

const (
	nameGenMaxAttempts = 32
)

var nameAdjectives = []string{
	"amber", "brave", "calm", "cheerful", "clever", "cosmic", "crimson", "daring",
	"dusty", "eager", "fancy", "fuzzy", "gentle", "glossy", "happy", "hidden",
	"humble", "icy", "jolly", "keen", "lively", "lucky", "mellow", "misty",
	"noble", "odd", "proud", "quiet", "rapid", "rusty", "shiny", "silent",
	"sleepy", "snowy", "solar", "swift", "tidy", "vivid", "witty", "zesty",
}

var nameNouns = []string{
	"albatross", "badger", "beluga", "bison", "cobra", "coyote", "dingo", "dolphin",
	"falcon", "ferret", "gecko", "heron", "ibis", "jackal", "koala", "lemur",
	"lynx", "marmot", "narwhal", "ocelot", "otter", "panda", "pelican", "puffin",
	"quokka", "raven", "salmon", "seal", "sloth", "tapir", "toucan", "urchin",
	"vole", "walrus", "wombat", "yak", "zebra", "octopus", "penguin", "kestrel",
}

// instance names end up as guest hostnames
var hostnameLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

func ValidInstanceName(name string) error {
	if !hostnameLabel.MatchString(name) {
		return errors.NotValidf("instance name %q, expected a lowercase hostname label", name)
	}
	return nil
}

// RandomName returns an adjective-noun pair, e.g. "cheerful-otter".
func RandomName() string {
	adj := nameAdjectives[rand.IntN(len(nameAdjectives))]
	noun := nameNouns[rand.IntN(len(nameNouns))]
	return fmt.Sprintf("%s-%s", adj, noun)
}

// uniqueName picks a random name and walks its successors until exists
// reports a free one.
func uniqueName(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
	name := RandomName()
	for i := 0; i < nameGenMaxAttempts; i++ {
		taken, err := exists(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		// "cheerful-otter" -> "cheerful-ottes"
		name = xstrings.Successor(name)
	}
	return "", errors.Errorf("unable to find a free instance name after %d attempts", nameGenMaxAttempts)
}
