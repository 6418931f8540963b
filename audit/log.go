// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package audit

import (
	"io"
	"log"
	"os"
)

const (
	// DefaultLogFile keeps the run's narration for later inspection
	DefaultLogFile = "/var/log/sdbackup.log"
)

var (
	logPath = DefaultLogFile

	quiet   bool
	verbose bool
	debug   bool
)

// SetLogFile overrides the log file path
func SetLogFile(path string) {
	if len(path) > 0 {
		logPath = path
	}
}

// SetLevel routes the output channels from the verbosity flags.
// Debug implies verbose; quiet silences the normal and verbose output,
// while errors and debug output are still shown.
func SetLevel(quietFlag, verboseFlag, debugFlag bool) {
	quiet = quietFlag
	verbose = verboseFlag || debugFlag
	debug = debugFlag
}

// Debug reports whether debug output is enabled
func Debug() bool {
	return debug
}

// Verbose reports whether verbose output is enabled
func Verbose() bool {
	return verbose
}

func logFile() (*os.File, error) {
	return os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
}

func output(to *os.File) io.Writer {
	l, err := logFile()
	if err != nil {
		return to
	}
	return io.MultiWriter(to, l)
}

// Printf records a response
func Printf(message string, a ...interface{}) {
	if quiet {
		return
	}
	log.SetOutput(output(os.Stdout))
	log.Printf(message, a...)
}

// Println records a response
func Println(v ...interface{}) {
	if quiet {
		return
	}
	log.SetOutput(output(os.Stdout))
	log.Println(v...)
}

// Verbosef records a response that is only shown with -v or -d
func Verbosef(message string, a ...interface{}) {
	if quiet || !verbose {
		return
	}
	log.SetOutput(output(os.Stdout))
	log.Printf(message, a...)
}

// Debugf records a response that is only shown with -d
func Debugf(message string, a ...interface{}) {
	if !debug {
		return
	}
	log.SetOutput(output(os.Stdout))
	log.Printf(message, a...)
}

// Errorf records a failure on the error channel, regardless of -q
func Errorf(message string, a ...interface{}) {
	log.SetOutput(output(os.Stderr))
	log.Printf(message, a...)
}
