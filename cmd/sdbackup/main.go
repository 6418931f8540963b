// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package main

import (
	"os"

	"github.com/klpgo/SDbackup/audit"
	"github.com/klpgo/SDbackup/core"
	"github.com/klpgo/SDbackup/execute"
	flags "github.com/jessevdk/go-flags"
)

func main() {
	_, err := flags.ParseArgs(&execute.Execution, os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	err = execute.Execute(execute.Execution)
	if err != nil {
		audit.Errorf("%v", err)
		if audit.Debug() {
			cmdline, out := core.LastCommand()
			if len(cmdline) > 0 {
				audit.Errorf("Last command: %s", cmdline)
				audit.Errorf("%s", out)
			}
		}
		os.Exit(1)
	}

	os.Exit(0)
}
