// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package resize_test

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klpgo/SDbackup/config"
	"github.com/klpgo/SDbackup/core"
	"github.com/klpgo/SDbackup/image"
	"github.com/klpgo/SDbackup/parttable"
	"github.com/klpgo/SDbackup/resize"
	check "gopkg.in/check.v1"
)

type executeSuite struct {
	shell    func(string, bool) (string, int)
	commands []string
	dfUsedK  int64
	dir      string
	img      string
	table    parttable.Table
}

var _ = check.Suite(&executeSuite{})

func (s *executeSuite) SetUpTest(c *check.C) {
	s.dir = c.MkDir()
	s.img = filepath.Join(s.dir, "backup.img")
	s.table = parttable.Table{
		Label:   "dos",
		LabelID: "0xeba7536a",
		Device:  s.img,
		Unit:    "sectors",
		Parts: []parttable.Partition{
			{Device: "/dev/mmcblk0p1", Start: 64, Size: 64, Type: "c"},
			{Device: "/dev/mmcblk0p2", Start: 128, Size: 2048, Type: "83"},
		},
	}

	s.shell = core.Shell
	s.commands = nil
	core.Shell = func(cmdline string, stream bool) (string, int) {
		s.commands = append(s.commands, cmdline)
		if strings.HasPrefix(cmdline, "df -k") {
			out := fmt.Sprintf("Filesystem 1K-blocks Used Available Use%% Mounted on\n/dev/loop9 1048576 %d 900000 10%% %s\n",
				s.dfUsedK, filepath.Join(s.dir, "staging", "measure"))
			return out, 0
		}
		return "", 0
	}
}

func (s *executeSuite) TearDownTest(c *check.C) {
	core.Shell = s.shell
}

func (s *executeSuite) executor(c *check.C, rootSize int64) *resize.Executor {
	s.table.Parts[1].Size = rootSize
	c.Assert(image.Create(s.img, s.table.Parts[1].Start+rootSize), check.IsNil)

	cfg := config.Config{ImagePath: s.img, ImageDir: s.dir}
	return &resize.Executor{
		Config:   cfg,
		RootLoop: "/dev/loop9",
		Table:    s.table,
		Staging:  filepath.Join(s.dir, "staging"),
	}
}

// commandHeads strips arguments that carry temp file names
func (s *executeSuite) commandHeads() []string {
	heads := []string{}
	for _, cmdline := range s.commands {
		fields := strings.Fields(cmdline)
		if len(fields) > 2 {
			heads = append(heads, strings.Join(fields[:2], " "))
		} else {
			heads = append(heads, cmdline)
		}
	}
	return heads
}

func (s *executeSuite) TestNoop(c *check.C) {
	e := s.executor(c, 2048)

	t, err := e.Apply(resize.Plan{Decision: resize.Noop})
	c.Assert(err, check.IsNil)
	c.Assert(t, check.DeepEquals, s.table)
	c.Assert(s.commands, check.HasLen, 0)
}

func (s *executeSuite) TestGrow(c *check.C) {
	e := s.executor(c, 2048)

	t, err := e.Apply(resize.Plan{Decision: resize.Grow, Target: 4096})
	c.Assert(err, check.IsNil)
	c.Assert(t.Parts[1].Size, check.Equals, int64(4096))

	// The file was extended before the partition table rewrite
	size, err := image.Size(s.img)
	c.Assert(err, check.IsNil)
	c.Assert(size, check.Equals, int64((128+4096)*512))

	c.Assert(s.commandHeads(), check.DeepEquals, []string{
		"sfdisk -q",
		"losetup --set-capacity",
		"e2fsck -fy",
		"resize2fs /dev/loop9",
		"losetup --set-capacity",
		"resize2fs /dev/loop9",
		"e2fsck -pf",
	})
	c.Assert(s.commands[3], check.Equals, "resize2fs /dev/loop9 4096s")
}

func (s *executeSuite) TestShrink(c *check.C) {
	e := s.executor(c, 8192)
	s.dfUsedK = 1000 // 2000 sectors used inside the image

	t, err := e.Apply(resize.Plan{Decision: resize.Shrink, Target: 4096})
	c.Assert(err, check.IsNil)
	c.Assert(t.Parts[1].Size, check.Equals, int64(4096))

	c.Assert(s.commandHeads(), check.DeepEquals, []string{
		"mount /dev/loop9",
		"df -k",
		"umount " + filepath.Join(s.dir, "staging", "measure"),
		"e2fsck -fy",
		"resize2fs /dev/loop9",
		"truncate -s",
		"sfdisk -q",
		"losetup --set-capacity",
		"resize2fs /dev/loop9",
		"e2fsck -pf",
	})

	// The filesystem shrinks before the file is cut down by the size
	// difference in bytes
	c.Assert(s.commands[4], check.Equals, "resize2fs /dev/loop9 4096s")
	c.Assert(s.commands[5], check.Equals, fmt.Sprintf("truncate -s -%d %s", (8192-4096)*512, s.img))
}

func (s *executeSuite) TestShrinkRefused(c *check.C) {
	e := s.executor(c, 8192)
	s.dfUsedK = 2000 // 4000 sectors used: 4000 * 1.05 >= 4096

	t, err := e.Apply(resize.Plan{Decision: resize.Shrink, Target: 4096})
	c.Assert(err, check.IsNil)

	// Demoted to a no-op: the table and file are untouched
	c.Assert(t, check.DeepEquals, e.Table)
	size, err := image.Size(s.img)
	c.Assert(err, check.IsNil)
	c.Assert(size, check.Equals, int64((128+8192)*512))

	c.Assert(s.commandHeads(), check.DeepEquals, []string{
		"mount /dev/loop9",
		"df -k",
		"umount " + filepath.Join(s.dir, "staging", "measure"),
	})
}
