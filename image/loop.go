// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package image

import (
	"fmt"
	"strings"

	"github.com/klpgo/SDbackup/core"
)

// NextFree asks the loop allocator for an unused device node
func NextFree() (string, error) {
	out, code := core.RunOutput("losetup --find")
	if code != 0 {
		return "", fmt.Errorf("no free loop device available")
	}

	device := strings.TrimSpace(out)
	if !strings.HasPrefix(device, "/dev/loop") {
		return "", fmt.Errorf("unexpected loop device `%s`", device)
	}
	return device, nil
}

// Attach binds a loop device to a slice of the image file. A size limit
// of 0 leaves the device unbounded; the root partition is always
// attached unbounded so it can be resized mid-run.
func Attach(device, imagePath string, offsetBytes, sizeLimitBytes int64) error {
	cmdline := fmt.Sprintf("losetup -o %d", offsetBytes)
	if sizeLimitBytes > 0 {
		cmdline += fmt.Sprintf(" --sizelimit %d", sizeLimitBytes)
	}
	cmdline += fmt.Sprintf(" %s %s", device, imagePath)

	if code := core.Run(cmdline); code != 0 {
		return fmt.Errorf("cannot attach `%s` to `%s`", device, imagePath)
	}
	return nil
}

// Reread refreshes the loop device's capacity after the backing file
// grew or shrank
func Reread(device string) error {
	if code := core.Run("losetup --set-capacity " + device); code != 0 {
		return fmt.Errorf("cannot refresh the capacity of `%s`", device)
	}
	return nil
}

// SetAutoclear schedules the release of a mounted loop device.
// Detaching a busy device only sets the kernel's autoclear flag; the
// device is freed when its last mount drops.
func SetAutoclear(device string) error {
	if code := core.Run("losetup -d " + device); code != 0 {
		return fmt.Errorf("cannot autoclear `%s`", device)
	}
	return nil
}

// Detach releases a loop device unconditionally
func Detach(device string) error {
	if code := core.Run("losetup -d " + device); code != 0 {
		return fmt.Errorf("cannot detach `%s`", device)
	}
	return nil
}
