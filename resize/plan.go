// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package resize

import (
	"fmt"
	"math"
)

// Decision is the outcome of planning a root resize
type Decision int

const (
	// Noop leaves the image root as it is
	Noop Decision = iota
	// Grow enlarges the image root partition and filesystem
	Grow
	// Shrink reduces them, subject to a post-mount usage check
	Shrink
)

// Plan is the resize decision with its computed sector counts. Low and
// High bound the hysteresis band around Target.
type Plan struct {
	Decision Decision
	Target   int64
	Low      int64
	High     int64
}

func round(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}

// watermarks derives the target size and the hysteresis band from the
// live usage and the requested free-space percentage
func watermarks(used int64, pctFree int) (target, low, high int64) {
	delta := round(float64(used) * float64(pctFree) / float64(100-pctFree))
	half := round(float64(delta) / 2)

	target = used + delta
	return target, target - half, target + half
}

// ForCreate sizes a fresh image root from the live usage. A new image
// always gets the target size; the hysteresis band only matters when
// refreshing.
func ForCreate(used int64, pctFree int) int64 {
	target, _, _ := watermarks(used, pctFree)
	return target
}

// ForSync decides whether the image root of an existing image should
// grow, shrink or stay as it is
func ForSync(used, size int64, pctFree int) Plan {
	target, low, high := watermarks(used, pctFree)
	p := Plan{Target: target, Low: low, High: high}

	switch {
	case size >= low && size <= high:
		p.Decision = Noop
	case target > size:
		p.Decision = Grow
	default:
		p.Decision = Shrink
	}
	return p
}

// String renders a human-readable description of the plan
func (p Plan) String() string {
	switch p.Decision {
	case Grow:
		return fmt.Sprintf("grow the image root to %d sectors", p.Target)
	case Shrink:
		return fmt.Sprintf("shrink the image root to %d sectors", p.Target)
	}
	return fmt.Sprintf("leave the image root alone (band %d-%d sectors)", p.Low, p.High)
}
