// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package image

import (
	"bufio"
	"fmt"
	"os"

	"github.com/klpgo/SDbackup/core"
)

// Create allocates a new image file of exactly sectors * 512 zero bytes.
// The file is written in 512-byte stripes; a failed stripe aborts and
// the partial file is left on disk for inspection.
func Create(path string, sectors int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("cannot create the image file `%s`: %v", path, err)
	}

	if err := writeStripes(f, sectors); err != nil {
		f.Close()
		return fmt.Errorf("cannot allocate the image file `%s`: %v", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("cannot allocate the image file `%s`: %v", path, err)
	}
	return nil
}

// Extend appends extra sectors of zeroes to the image file
func Extend(path string, extraSectors int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("cannot open the image file `%s`: %v", path, err)
	}

	if err := writeStripes(f, extraSectors); err != nil {
		f.Close()
		return fmt.Errorf("cannot extend the image file `%s`: %v", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("cannot extend the image file `%s`: %v", path, err)
	}
	return nil
}

func writeStripes(f *os.File, sectors int64) error {
	w := bufio.NewWriterSize(f, 64*1024)
	stripe := make([]byte, core.SectorSize)

	for i := int64(0); i < sectors; i++ {
		if _, err := w.Write(stripe); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Truncate cuts shrinkSectors * 512 bytes off the end of the image file.
// The external truncator does the byte-exact reduction.
func Truncate(path string, shrinkSectors int64) error {
	bytes := shrinkSectors * core.SectorSize
	if code := core.Run(fmt.Sprintf("truncate -s -%d %s", bytes, path)); code != 0 {
		return fmt.Errorf("cannot truncate the image file `%s`", path)
	}
	return nil
}

// Size returns the length of the image file in bytes
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("cannot stat the image file `%s`: %v", path, err)
	}
	return info.Size(), nil
}
