/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package main

import (
	"fmt"
	"os"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/kumu"
)

func main() {
	// parsing commands
	cmds := kumu.ParseCommands()

	cfg, err := kumu.ParseConfig(cmds.ConfigFile)
	if err != nil {
		fmt.Printf("config: unable to unmarshal config (%s)\n", err)
		os.Exit(1)
	}

	// init our logger
	klog.Init("kumu", cfg.Loggers(cmds.Debug))

	var ke = &kumu.KumuEngine{}

	if cmds.Token != "" {
		token, err := ke.Token(cfg, cmds.Token)
		if err != nil {
			klog.Errorf("Unable to issue token: %s", err)
			os.Exit(1)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	// register everything
	err = ke.PreFlight(cfg)
	if err != nil {
		klog.Errorf("Unable to start: %s", err)
		os.Exit(1)
	}

	if cmds.Migrate {
		err = ke.MigrateDatabase()
		ke.Cleanup()
	} else {
		err = ke.Run(cfg)
	}
	if err != nil {
		klog.Error(err)
		os.Exit(1)
	}

	os.Exit(0)
}
