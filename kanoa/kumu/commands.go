/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
)

var version = "was not built correctly"  // set via the Makefile
var codename = "was not built correctly" // set via the Makefile

const (
	KumuCfgFileDefault = "/etc/kanoa/kumu.yml"

	flagDescConfig  = "YAML config file to be used"
	flagDescDebug   = "Enable verbose/debug output"
	flagDescMigrate = "Bootstrap the database schema and gracefully exit afterwards"
	flagDescToken   = "Print a JWT for the given subject and gracefully exit afterwards"
	flagDescVersion = "Display version"
)

type KumuCommands struct {
	ConfigFile *os.File
	Debug      bool
	Migrate    bool
	Token      string
}

func ParseCommands() KumuCommands {
	configFile := kingpin.Flag("config", flagDescConfig).Short('c').Default(KumuCfgFileDefault).File()
	debug := kingpin.Flag("debug", flagDescDebug).Short('d').Bool()
	migrate := kingpin.Flag("migrate", flagDescMigrate).Short('m').Bool()
	token := kingpin.Flag("token", flagDescToken).Short('t').PlaceHolder("SUBJECT").String()
	vers := kingpin.Flag("version", flagDescVersion).Short('v').Bool()

	kingpin.Parse()

	if *vers {
		fmt.Printf("%s (%s)\n", version, codename)
		os.Exit(0)
	}

	return KumuCommands{
		ConfigFile: *configFile,
		Debug:      *debug,
		Migrate:    *migrate,
		Token:      *token,
	}
}
