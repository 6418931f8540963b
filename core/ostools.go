// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package core

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klpgo/SDbackup/config"
)

// Mounts returns the live mount table in table order, with the ignored
// filesystem types removed
func Mounts() ([]MountBinding, error) {
	out, code := RunOutput("mount")
	if code != 0 {
		return nil, fmt.Errorf("cannot read the mount table")
	}

	bindings := []MountBinding{}
	for _, line := range strings.Split(out, "\n") {
		// Lines are of the form `DEV on MP type FS (options)`
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[1] != "on" || fields[3] != "type" {
			continue
		}
		if ignoredFS(fields[4]) {
			continue
		}
		bindings = append(bindings, MountBinding{
			Device:     fields[0],
			MountPoint: fields[2],
			FSType:     fields[4],
		})
	}
	return bindings, nil
}

func ignoredFS(fstype string) bool {
	for _, ignored := range config.IgnoredFS {
		if fstype == ignored {
			return true
		}
	}
	return false
}

// FsOf finds the device and filesystem type mounted on a mount point.
// The last matching mount-table entry wins.
func FsOf(mountPoint string) (string, string, error) {
	bindings, err := Mounts()
	if err != nil {
		return "", "", err
	}

	device := ""
	fstype := ""
	for _, b := range bindings {
		if b.MountPoint == mountPoint {
			device = b.Device
			fstype = b.FSType
		}
	}
	if len(device) == 0 {
		return "", "", fmt.Errorf("nothing is mounted on `%s`", mountPoint)
	}
	return device, fstype, nil
}

// MountpointFor finds the mount point and filesystem type of a mounted
// device. The last matching mount-table entry wins.
func MountpointFor(device string) (string, string, error) {
	bindings, err := Mounts()
	if err != nil {
		return "", "", err
	}

	mountPoint := ""
	fstype := ""
	for _, b := range bindings {
		if b.Device == device {
			mountPoint = b.MountPoint
			fstype = b.FSType
		}
	}
	if len(mountPoint) == 0 {
		return "", "", fmt.Errorf("device `%s` is not mounted", device)
	}
	return mountPoint, fstype, nil
}

// ParentDisk resolves the whole-disk device node of a partition device
func ParentDisk(device string) (string, error) {
	out, code := RunOutput("lsblk -no pkname " + device)
	if code != 0 {
		return "", fmt.Errorf("cannot find the disk of `%s`", device)
	}

	// Remove non-printable characters from the response
	name := cleanOutput(out)
	if len(name) == 0 {
		return "", fmt.Errorf("device `%s` has no parent disk", device)
	}
	return filepath.Join(dev, name), nil
}

// MountOf reports the mount point carrying a path, with the total and
// used space in 512-byte sectors
func MountOf(path string) (string, int64, int64, error) {
	out, code := RunOutput("df -k " + path)
	if code != 0 {
		return "", 0, 0, fmt.Errorf("cannot measure the space of `%s`", path)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return "", 0, 0, fmt.Errorf("cannot measure the space of `%s`", path)
	}

	// The report is in 1K blocks: filesystem, blocks, used, available,
	// use%, mount point
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 6 {
		return "", 0, 0, fmt.Errorf("unexpected df output for `%s`", path)
	}

	total, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("unexpected df output for `%s`: %v", path, err)
	}
	used, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("unexpected df output for `%s`: %v", path, err)
	}

	return fields[5], total * 2, used * 2, nil
}
