// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package execute

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klpgo/SDbackup/audit"
	"github.com/klpgo/SDbackup/config"
	"github.com/klpgo/SDbackup/core"
	"github.com/klpgo/SDbackup/mirror"
)

// Execute validates the options, builds the run configuration and
// drives the mirror
func Execute(cmd Command) error {
	if cmd.Version {
		fmt.Println(config.Version)
		return nil
	}

	cfg, err := validate(cmd)
	if err != nil {
		return err
	}

	audit.SetLogFile(cfg.LogFile)
	audit.SetLevel(cfg.Quiet, cfg.Verbose, cfg.Debug)

	core.ExtendPath()
	if err := core.CheckTools(config.RequiredTools); err != nil {
		return err
	}

	return mirror.Run(cfg)
}

// validate checks the flag combinations and preconditions before
// anything touches the system
func validate(cmd Command) (config.Config, error) {
	if os.Geteuid() != 0 {
		return config.Config{}, fmt.Errorf("this tool must run as root")
	}

	if cmd.Create && cmd.Sync {
		return config.Config{}, fmt.Errorf("`-c` and `-s` cannot be combined")
	}
	if !cmd.Create && !cmd.Sync && !cmd.Maintenance {
		return config.Config{}, fmt.Errorf("one of `-c`, `-s` or `-M` is needed")
	}
	if cmd.Verbose && cmd.Quiet {
		return config.Config{}, fmt.Errorf("`-v` and `-q` cannot be combined")
	}
	if cmd.NoAutoclear && !cmd.Maintenance {
		return config.Config{}, fmt.Errorf("`-n` needs `-M`")
	}
	if len(cmd.Args.Image) == 0 {
		return config.Config{}, fmt.Errorf("the path of the image file is needed")
	}

	mode := config.ModeSync
	if cmd.Create {
		mode = config.ModeCreate
	}

	settings, err := config.ReadSettings(config.DefaultSettingsFile)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.New(settings, cmd.Args.Image, mode)
	if err != nil {
		return config.Config{}, err
	}

	// The image directory must exist, although with -m it may still be
	// an empty mount point
	if info, err := os.Stat(cfg.ImageDir); err != nil || !info.IsDir() {
		return config.Config{}, fmt.Errorf("the image directory `%s` does not exist", filepath.Dir(cmd.Args.Image))
	}

	cfg.Maintenance = cmd.Maintenance
	cfg.MountHostDir = cmd.MountHostDir
	cfg.NoAutoclear = cmd.NoAutoclear
	cfg.Resize = cmd.Resize
	cfg.Debug = cmd.Debug
	cfg.Verbose = cmd.Verbose
	cfg.Quiet = cmd.Quiet

	return cfg, nil
}
