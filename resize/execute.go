// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package resize

import (
	"fmt"
	"path/filepath"

	"github.com/klpgo/SDbackup/audit"
	"github.com/klpgo/SDbackup/config"
	"github.com/klpgo/SDbackup/core"
	"github.com/klpgo/SDbackup/image"
	"github.com/klpgo/SDbackup/parttable"
)

// Executor applies a resize plan to the image root partition. The root
// loop device must be attached without a size limit and stay unmounted
// while the filesystem tools run.
type Executor struct {
	Config   config.Config
	RootLoop string          // loop device bound to the image root
	Table    parttable.Table // image partition table
	Staging  string          // where the shrink re-measure mounts the root
}

// Apply carries out the plan and returns the resulting image partition
// table. A shrink that would leave less than 5% free space is demoted
// to a no-op.
func (e *Executor) Apply(plan Plan) (parttable.Table, error) {
	switch plan.Decision {
	case Grow:
		return e.grow(plan)
	case Shrink:
		return e.shrink(plan)
	}
	return e.Table, nil
}

// grow ordering: extend the file, rewrite the partition table, refresh
// the loop capacity, then check and resize the filesystem. The second
// bare resize2fs takes the filesystem to the device limit and
// consolidates the superblocks.
func (e *Executor) grow(plan Plan) (parttable.Table, error) {
	rootSize := e.Table.Parts[1].Size
	audit.Verbosef("Grow the image root from %d to %d sectors", rootSize, plan.Target)

	if err := image.Extend(e.Config.ImagePath, plan.Target-rootSize); err != nil {
		return e.Table, err
	}

	t, err := parttable.ResizeRoot(e.Table, plan.Target)
	if err != nil {
		return e.Table, err
	}
	if err := parttable.Write(e.Config.ImagePath, t); err != nil {
		return e.Table, err
	}
	if err := image.Reread(e.RootLoop); err != nil {
		return e.Table, err
	}

	if err := e.fsck("-fy"); err != nil {
		return e.Table, err
	}
	if err := e.resizeFS(plan.Target); err != nil {
		return e.Table, err
	}
	if err := image.Reread(e.RootLoop); err != nil {
		return e.Table, err
	}
	if err := e.resizeFS(0); err != nil {
		return e.Table, err
	}
	if err := e.fsck("-pf"); err != nil {
		return e.Table, err
	}

	return t, nil
}

// shrink ordering: re-measure inside the image, shrink the filesystem,
// truncate the file, then rewrite the partition table
func (e *Executor) shrink(plan Plan) (parttable.Table, error) {
	// Mount the image root once to measure its own usage. Replicated
	// content is stale until the coming sync, so a shrink below
	// 1.05 * used is refused.
	measure := filepath.Join(e.Staging, "measure")
	if err := core.Mount(e.RootLoop, measure); err != nil {
		return e.Table, err
	}
	_, _, used, err := core.MountOf(measure)
	if uerr := core.Unmount(measure); uerr != nil {
		return e.Table, uerr
	}
	if err != nil {
		return e.Table, err
	}

	if used*21/20 >= plan.Target {
		audit.Printf("Not shrinking the image root: %d sectors used, %d wanted", used, plan.Target)
		return e.Table, nil
	}

	rootSize := e.Table.Parts[1].Size
	audit.Verbosef("Shrink the image root from %d to %d sectors", rootSize, plan.Target)

	if err := e.fsck("-fy"); err != nil {
		return e.Table, err
	}
	if err := e.resizeFS(plan.Target); err != nil {
		return e.Table, err
	}
	if err := image.Truncate(e.Config.ImagePath, rootSize-plan.Target); err != nil {
		return e.Table, err
	}

	t, err := parttable.ResizeRoot(e.Table, plan.Target)
	if err != nil {
		return e.Table, err
	}
	if err := parttable.Write(e.Config.ImagePath, t); err != nil {
		return e.Table, err
	}
	if err := image.Reread(e.RootLoop); err != nil {
		return e.Table, err
	}

	if err := e.resizeFS(0); err != nil {
		return e.Table, err
	}
	if err := e.fsck("-pf"); err != nil {
		return e.Table, err
	}

	return t, nil
}

func (e *Executor) fsck(flags string) error {
	code := core.Run(fmt.Sprintf("e2fsck %s %s", flags, e.RootLoop))
	// Exit code 1 means errors were corrected
	if code > 1 {
		return fmt.Errorf("filesystem check failed on `%s`", e.RootLoop)
	}
	return nil
}

func (e *Executor) resizeFS(sectors int64) error {
	cmdline := "resize2fs " + e.RootLoop
	if sectors > 0 {
		cmdline = fmt.Sprintf("resize2fs %s %ds", e.RootLoop, sectors)
	}
	if code := core.Run(cmdline); code != 0 {
		return fmt.Errorf("cannot resize the filesystem on `%s`", e.RootLoop)
	}
	return nil
}
