// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klpgo/SDbackup/config"
	"github.com/klpgo/SDbackup/core"
	"github.com/klpgo/SDbackup/image"
	check "gopkg.in/check.v1"
)

const sourceDump = `label: dos
label-id: 0xeba7536a
device: /dev/sdx
unit: sectors

/dev/sdx1 : start=          64, size=          64, type=c
/dev/sdx2 : start=         128, size=        2048, type=83
`

type runSuite struct {
	shell    func(string, bool) (string, int)
	commands []string
	dir      string
	staging  string
	img      string
	loopN    int
	dfUsedK  int64
	imgDump  string
}

var _ = check.Suite(&runSuite{})

func (s *runSuite) SetUpTest(c *check.C) {
	s.dir = c.MkDir()
	s.staging = c.MkDir()
	s.img = filepath.Join(s.dir, "backup.img")
	s.loopN = 7
	s.dfUsedK = 500
	s.imgDump = ""

	mountTable := "/dev/sdx2 on / type ext4 (rw,noatime)\n" +
		"/dev/sdx1 on /boot type vfat (rw)\n" +
		"backup:/srv on /backup type nfs4 (rw)\n"

	s.shell = core.Shell
	s.commands = nil
	core.Shell = func(cmdline string, stream bool) (string, int) {
		s.commands = append(s.commands, cmdline)
		switch {
		case cmdline == "mount":
			return mountTable, 0
		case cmdline == "lsblk -no pkname /dev/sdx2":
			return "sdx\n", 0
		case cmdline == "sfdisk -d /dev/sdx":
			return sourceDump, 0
		case cmdline == "sfdisk -d "+s.img:
			return s.imgDump, 0
		case cmdline == "df -k /":
			out := fmt.Sprintf("Filesystem 1K-blocks Used Available Use%% Mounted on\n/dev/sdx2 1024 %d 500 50%% /\n", s.dfUsedK)
			return out, 0
		case strings.HasPrefix(cmdline, "df -k "):
			return "Filesystem 1K-blocks Used Available Use% Mounted on\nbackup:/srv 1024 500 500 50% /backup\n", 0
		case cmdline == "losetup --find":
			dev := fmt.Sprintf("/dev/loop%d\n", s.loopN)
			s.loopN++
			return dev, 0
		}
		return "", 0
	}
}

func (s *runSuite) TearDownTest(c *check.C) {
	core.Shell = s.shell
}

func (s *runSuite) config(mode config.Mode) config.Config {
	return config.Config{
		ImagePath:   s.img,
		ImageDir:    s.dir,
		Mode:        mode,
		PercentFree: 20,
		StagingRoot: s.staging,
	}
}

func (s *runSuite) indexOf(c *check.C, prefix string) int {
	for i, cmdline := range s.commands {
		if strings.HasPrefix(cmdline, prefix) {
			return i
		}
	}
	c.Fatalf("no command starts with %q in %v", prefix, s.commands)
	return -1
}

func (s *runSuite) count(prefix string) int {
	n := 0
	for _, cmdline := range s.commands {
		if strings.HasPrefix(cmdline, prefix) {
			n++
		}
	}
	return n
}

func (s *runSuite) TestCreateWithResize(c *check.C) {
	cfg := s.config(config.ModeCreate)
	cfg.Resize = true

	c.Assert(Run(cfg), check.IsNil)

	// 1000 sectors used plus a 20% reserve: the image root is sized
	// to 1250, so the file is (128 + 1250) sectors long
	size, err := image.Size(s.img)
	c.Assert(err, check.IsNil)
	c.Assert(size, check.Equals, int64((128+1250)*512))

	// The root loop is attached unbounded, the boot loop size-limited
	rootAttach := s.indexOf(c, fmt.Sprintf("losetup -o %d /dev/loop7 ", 128*512))
	bootAttach := s.indexOf(c, fmt.Sprintf("losetup -o %d --sizelimit %d /dev/loop8 ", 64*512, 64*512))
	c.Assert(rootAttach < bootAttach, check.Equals, true)

	// Both partitions are formatted with the live filesystem types
	rootFormat := s.indexOf(c, "mkfs.ext4 -F /dev/loop7")
	bootFormat := s.indexOf(c, "mkfs.vfat -I /dev/loop8")

	// Root replicates first, then boot in table order
	rootSync := s.indexOf(c, "rsync -aDHx --partial --numeric-ids --delete --force --exclude='/tmp/*' --exclude='lost+found' --exclude='"+s.img+"' / ")
	bootSync := s.indexOf(c, "rsync -aDHx --partial --numeric-ids --delete --force /boot/ ")
	c.Assert(rootFormat < rootSync, check.Equals, true)
	c.Assert(bootFormat < bootSync, check.Equals, true)
	c.Assert(rootSync < bootSync, check.Equals, true)

	// Both loops were autocleared after mounting, before replication
	c.Assert(s.count("losetup -d "), check.Equals, 2)
	c.Assert(s.indexOf(c, "losetup -d /dev/loop8") < rootSync, check.Equals, true)

	// Cleanup unmounted the staging tree, deepest mount first
	bootUmount := s.indexOf(c, "umount "+filepath.Join(s.staging, "sdbackup-"))
	c.Assert(bootSync < bootUmount, check.Equals, true)
	c.Assert(s.count("umount "), check.Equals, 2)
	c.Assert(strings.Contains(s.commands[bootUmount], "/boot"), check.Equals, true)
}

func (s *runSuite) TestSyncInsideBandIsNoop(c *check.C) {
	// The image root already exists at 2048 sectors
	c.Assert(image.Create(s.img, 128+2048), check.IsNil)
	s.imgDump = sourceDump
	s.dfUsedK = 850 // 1700 sectors used: the band is 1912..2338

	cfg := s.config(config.ModeSync)
	cfg.Resize = true
	s.commands = nil

	c.Assert(Run(cfg), check.IsNil)

	// No resize machinery ran and the file kept its length
	c.Assert(s.count("e2fsck"), check.Equals, 0)
	c.Assert(s.count("resize2fs"), check.Equals, 0)
	c.Assert(s.count("truncate"), check.Equals, 0)
	c.Assert(s.count("sfdisk -q"), check.Equals, 0)

	size, err := image.Size(s.img)
	c.Assert(err, check.IsNil)
	c.Assert(size, check.Equals, int64((128+2048)*512))

	// The replication still happened
	c.Assert(s.count("rsync "), check.Equals, 2)
}

func (s *runSuite) TestSyncRejectsDriftedGeometry(c *check.C) {
	c.Assert(image.Create(s.img, 128+2048), check.IsNil)

	// The image boot partition no longer matches the live source
	s.imgDump = strings.Replace(sourceDump, "size=          64", "size=          96", 1)

	cfg := s.config(config.ModeSync)
	s.commands = nil

	err := Run(cfg)
	c.Assert(err, check.NotNil)
	c.Assert(err, check.ErrorMatches, "image partition 1 has 96 sectors, the source 64")

	// Nothing was attached or mounted
	c.Assert(s.count("losetup -o "), check.Equals, 0)
	c.Assert(s.count("mount /dev/loop"), check.Equals, 0)
}

func (s *runSuite) TestMaintenanceLeavesResourcesLive(c *check.C) {
	c.Assert(image.Create(s.img, 128+2048), check.IsNil)
	s.imgDump = sourceDump

	cfg := s.config(config.ModeSync)
	cfg.Maintenance = true
	cfg.NoAutoclear = true
	s.commands = nil

	c.Assert(Run(cfg), check.IsNil)

	// Everything stays mounted and attached: no replication, no
	// detach, no unmount
	c.Assert(s.count("rsync "), check.Equals, 0)
	c.Assert(s.count("losetup -d "), check.Equals, 0)
	c.Assert(s.count("umount "), check.Equals, 0)
	c.Assert(s.count("losetup -o "), check.Equals, 2)

	// The staging tree is kept for the operator
	entries, err := os.ReadDir(s.staging)
	c.Assert(err, check.IsNil)
	c.Assert(entries, check.HasLen, 1)
	c.Assert(strings.HasPrefix(entries[0].Name(), "sdbackup-"), check.Equals, true)
}
