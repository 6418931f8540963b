// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package mirror

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/klpgo/SDbackup/audit"
)

// Entry is one registered release on the teardown stack
type Entry struct {
	desc      string
	fn        func() error
	cancelled bool
}

// Cancel drops the entry, for loop devices the kernel will release on
// its own once autoclear is set
func (e *Entry) Cancel() {
	e.cancelled = true
}

// Cleanup is the reverse-order teardown set for every kernel resource a
// run acquires. Releases registered on acquisition run in LIFO order on
// every exit path: normal completion, failure and interrupt signals.
type Cleanup struct {
	mu    sync.Mutex
	steps []*Entry
	sigc  chan os.Signal
	done  bool
}

// NewCleanup returns an empty teardown stack
func NewCleanup() *Cleanup {
	return &Cleanup{}
}

// Push registers a release to run during teardown
func (c *Cleanup) Push(desc string, fn func() error) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &Entry{desc: desc, fn: fn}
	c.steps = append(c.steps, e)
	return e
}

// Arm installs the interrupt handler. From here on a user interrupt
// tears down and exits non-zero.
func (c *Cleanup) Arm() {
	c.sigc = make(chan os.Signal, 1)
	signal.Notify(c.sigc, os.Interrupt, unix.SIGTERM)

	go func() {
		if _, ok := <-c.sigc; !ok {
			return
		}
		audit.Errorf("Interrupted: releasing mounts and loop devices")
		c.Run()
		os.Exit(1)
	}()
}

// Disarm drops the stack and the interrupt handler. Maintenance mode
// leaves its mounts and loop devices for the operator.
func (c *Cleanup) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sigc != nil {
		signal.Stop(c.sigc)
		close(c.sigc)
		c.sigc = nil
	}
	c.steps = nil
	c.done = true
}

// Run tears down in LIFO order, at most once. Release failures are
// reported but do not stop the remaining releases.
func (c *Cleanup) Run() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	steps := c.steps
	c.steps = nil
	if c.sigc != nil {
		signal.Stop(c.sigc)
		close(c.sigc)
		c.sigc = nil
	}
	c.mu.Unlock()

	// Flush everything before pulling mounts away
	unix.Sync()

	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].cancelled {
			continue
		}
		if err := steps[i].fn(); err != nil {
			audit.Errorf("Cleanup of %s: %v", steps[i].desc, err)
		}
	}
}
