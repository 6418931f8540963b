// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package core

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/klpgo/SDbackup/audit"
)

// Shell executes a shell-quoted command line and returns the combined
// output and the exit code. When stream is set the output goes live to
// the user channel instead. Tests replace this to run against a scripted
// tool matrix.
var Shell = execShell

var (
	lastCommand string
	lastOutput  string
)

func execShell(cmdline string, stream bool) (string, int) {
	cmd := exec.Command("sh", "-c", cmdline)

	if stream {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return "", exitCode(cmd.Run())
	}

	out, err := cmd.CombinedOutput()
	return string(out), exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	// The command could not be spawned
	return -1
}

// Run executes a command line and returns its exit code. The output is
// streamed with -d, otherwise buffered and only shown on failure.
func Run(cmdline string) int {
	audit.Debugf("EXEC: %s", cmdline)
	lastCommand = cmdline

	if audit.Debug() {
		out, code := Shell(cmdline, true)
		lastOutput = out
		return code
	}

	out, code := Shell(cmdline, false)
	lastOutput = out
	if code != 0 && len(out) > 0 {
		audit.Errorf("%s", strings.TrimSpace(out))
	}
	return code
}

// RunStream executes a command line with its output going live to the
// user channel. Used for the long-running replication commands.
func RunStream(cmdline string) int {
	audit.Debugf("EXEC: %s", cmdline)
	lastCommand = cmdline

	out, code := Shell(cmdline, true)
	lastOutput = out
	return code
}

// RunOutput executes a command line silently and returns the combined
// output with the exit code. Used by the probes that parse tool output.
func RunOutput(cmdline string) (string, int) {
	audit.Debugf("EXEC: %s", cmdline)
	lastCommand = cmdline

	out, code := Shell(cmdline, false)
	lastOutput = out
	return out, code
}

// LastCommand returns the last executed command line and its captured
// output, for the debug failure report
func LastCommand() (string, string) {
	return lastCommand, lastOutput
}

// ExtendPath adds the administrative directories to the search path
func ExtendPath() {
	path := os.Getenv("PATH")
	for _, p := range []string{"/sbin", "/usr/sbin", "/usr/local/sbin"} {
		if !strings.Contains(":"+path+":", ":"+p+":") {
			path = path + ":" + p
		}
	}
	os.Setenv("PATH", path)
}

// CheckTools verifies that the required external programs can be found
func CheckTools(tools []string) error {
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("required tool `%s` was not found", tool)
		}
	}
	return nil
}
