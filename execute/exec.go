// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package execute

// Command defines the execution options for the application
type Command struct {
	Create       bool `short:"c" description:"create a new image file"`
	Sync         bool `short:"s" description:"sync into an existing image file"`
	Maintenance  bool `short:"M" description:"mount the image partitions and exit"`
	MountHostDir bool `short:"m" description:"mount the image host directory first"`
	NoAutoclear  bool `short:"n" description:"do not autoclear loop devices (needs -M)"`
	Resize       bool `short:"r" description:"resize the image root to usage plus a free-space reserve"`
	Debug        bool `short:"d" description:"debug output, stream external commands"`
	Verbose      bool `short:"v" description:"verbose output"`
	Quiet        bool `short:"q" description:"quiet output"`
	Version      bool `short:"V" description:"print the version and exit"`

	Args struct {
		Image string `positional-arg-name:"image" description:"path of the image file"`
	} `positional-args:"yes"`
}

// Execution is the implementation of the execution options
var Execution Command
