// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package core

import (
	"fmt"
	"os"
)

// Mount mounts a device on a target directory, creating the directory
// when it does not exist
func Mount(device, target string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("cannot create the mount point `%s`: %v", target, err)
	}

	if code := Run(fmt.Sprintf("mount %s %s", device, target)); code != 0 {
		return fmt.Errorf("cannot mount `%s` on `%s`", device, target)
	}
	return nil
}

// Unmount unmounts the filesystem on a target directory
func Unmount(target string) error {
	if code := Run("umount " + target); code != 0 {
		return fmt.Errorf("cannot unmount `%s`", target)
	}
	return nil
}

// FormatDisk creates a filesystem of the given type on a device
func FormatDisk(device, fstype string) error {
	force, err := familyFlag("force", fsFamily(fstype))
	if err != nil {
		return err
	}

	if code := Run(fmt.Sprintf("%s %s %s", MkfsCommand(fstype), force, device)); code != 0 {
		return fmt.Errorf("cannot create a `%s` filesystem on `%s`", fstype, device)
	}
	return nil
}
