// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package core_test

import (
	"strings"

	"github.com/klpgo/SDbackup/core"
	check "gopkg.in/check.v1"
)

const mountOutput = `/dev/mmcblk0p2 on / type ext4 (rw,noatime)
devtmpfs on /dev type devtmpfs (rw,relatime,size=468148k)
proc on /proc type proc (rw,relatime)
/dev/mmcblk0p1 on /boot type vfat (rw,relatime)
systemd-1 on /srv/backup type autofs (rw,relatime)
backup:/srv on /srv/backup type nfs4 (rw,relatime)
`

const dfOutput = `Filesystem     1K-blocks    Used Available Use% Mounted on
/dev/mmcblk0p2  15251200 2000000  12590672  14% /
`

type probeSuite struct {
	shell func(string, bool) (string, int)
}

var _ = check.Suite(&probeSuite{})

func (s *probeSuite) SetUpTest(c *check.C) {
	s.shell = core.Shell
	core.Shell = func(cmdline string, stream bool) (string, int) {
		switch {
		case cmdline == "mount":
			return mountOutput, 0
		case strings.HasPrefix(cmdline, "df -k"):
			return dfOutput, 0
		case strings.HasPrefix(cmdline, "lsblk -no pkname /dev/mmcblk0p2"):
			return "mmcblk0\n", 0
		case strings.HasPrefix(cmdline, "lsblk -no pkname /dev/mmcblk0"):
			return "\n", 0
		}
		return "", 1
	}
}

func (s *probeSuite) TearDownTest(c *check.C) {
	core.Shell = s.shell
}

func (s *probeSuite) TestMounts(c *check.C) {
	bindings, err := core.Mounts()
	c.Assert(err, check.IsNil)

	// The autofs entry is ignored
	c.Assert(bindings, check.HasLen, 5)
	c.Assert(bindings[0].Device, check.Equals, "/dev/mmcblk0p2")
	c.Assert(bindings[0].MountPoint, check.Equals, "/")
	c.Assert(bindings[0].FSType, check.Equals, "ext4")
	c.Assert(bindings[4].FSType, check.Equals, "nfs4")
}

func (s *probeSuite) TestFsOf(c *check.C) {
	device, fstype, err := core.FsOf("/")
	c.Assert(err, check.IsNil)
	c.Assert(device, check.Equals, "/dev/mmcblk0p2")
	c.Assert(fstype, check.Equals, "ext4")

	// The autofs placeholder loses to the nfs4 mount underneath
	device, fstype, err = core.FsOf("/srv/backup")
	c.Assert(err, check.IsNil)
	c.Assert(device, check.Equals, "backup:/srv")
	c.Assert(fstype, check.Equals, "nfs4")

	_, _, err = core.FsOf("/nowhere")
	c.Assert(err, check.NotNil)
}

func (s *probeSuite) TestMountpointFor(c *check.C) {
	mountPoint, fstype, err := core.MountpointFor("/dev/mmcblk0p1")
	c.Assert(err, check.IsNil)
	c.Assert(mountPoint, check.Equals, "/boot")
	c.Assert(fstype, check.Equals, "vfat")

	_, _, err = core.MountpointFor("/dev/sdz9")
	c.Assert(err, check.NotNil)
}

func (s *probeSuite) TestParentDisk(c *check.C) {
	disk, err := core.ParentDisk("/dev/mmcblk0p2")
	c.Assert(err, check.IsNil)
	c.Assert(disk, check.Equals, "/dev/mmcblk0")

	// A whole disk has no parent node
	_, err = core.ParentDisk("/dev/mmcblk0")
	c.Assert(err, check.NotNil)
}

func (s *probeSuite) TestMountOf(c *check.C) {
	mountPoint, total, used, err := core.MountOf("/backup/pi.img")
	c.Assert(err, check.IsNil)
	c.Assert(mountPoint, check.Equals, "/")

	// df reports 1K blocks; sectors are twice that
	c.Assert(total, check.Equals, int64(30502400))
	c.Assert(used, check.Equals, int64(4000000))
}
