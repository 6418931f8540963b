// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package core

// SectorSize is the block unit used throughout the tool. The only other
// unit, the 1K block of `df -k`, is converted to sectors on ingress.
const SectorSize = 512

// MountBinding ties a mounted device to its mount point
type MountBinding struct {
	Device     string
	MountPoint string
	FSType     string
}
