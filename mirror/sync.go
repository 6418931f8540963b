// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package mirror

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klpgo/SDbackup/audit"
	"github.com/klpgo/SDbackup/core"
)

// replicateCommand builds the replication command line for one
// filesystem. The argument set is fixed; only the root replication
// carries excludes.
func replicateCommand(src, dst string, excludes []string) string {
	args := []string{
		"rsync", "-aDHx", "--partial", "--numeric-ids", "--delete", "--force",
	}
	if audit.Debug() {
		// List the transferred files in the streamed output
		args = append(args, "-v")
	}
	for _, e := range excludes {
		args = append(args, fmt.Sprintf("--exclude='%s'", e))
	}
	args = append(args, src, dst)
	return strings.Join(args, " ")
}

// rootExcludes is the exclusion set for the root replication: volatile
// trees, filesystem bookkeeping, the image file itself and whatever the
// administrator configured
func rootExcludes(imagePath string, extra []string) []string {
	excludes := []string{"/tmp/*", "lost+found", imagePath}
	return append(excludes, extra...)
}

// replicate copies every mounted source filesystem into its image
// counterpart, the root first, then the rest in partition-table order
func (m *Mirror) replicate() error {
	for _, pm := range m.replicationOrder() {
		src := pm.mountPoint
		if src != "/" {
			src = src + "/"
		}

		dst := m.staging + "/"
		var excludes []string
		if pm.mountPoint == "/" {
			excludes = rootExcludes(m.cfg.ImagePath, m.cfg.Excludes)
		} else {
			dst = filepath.Join(m.staging, pm.mountPoint)
		}

		audit.Printf("Replicate %s", pm.mountPoint)
		cmdline := replicateCommand(src, dst, excludes)

		var code int
		if audit.Verbose() {
			code = core.RunStream(cmdline)
		} else {
			code = core.Run(cmdline)
		}
		if code != 0 {
			return fmt.Errorf("replication of `%s` failed", pm.mountPoint)
		}
	}
	return nil
}

// replicationOrder puts the root filesystem first and keeps the
// partition-table order for the rest
func (m *Mirror) replicationOrder() []partitionMount {
	ordered := []partitionMount{}
	for _, pm := range m.parts {
		if pm.mountPoint == "/" {
			ordered = append(ordered, pm)
		}
	}
	for _, pm := range m.parts {
		if pm.mountPoint != "/" {
			ordered = append(ordered, pm)
		}
	}
	return ordered
}
