// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package parttable

import (
	"fmt"
	"io/ioutil"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/klpgo/SDbackup/core"
)

// Partition is one entry of a partition table. Start and Size are in
// 512-byte sectors; Type is kept verbatim (hex for dos, GUID for gpt).
type Partition struct {
	Device string
	Start  int64
	Size   int64
	Type   string
}

// Table is the partition table of a disk or image file
type Table struct {
	Label   string
	LabelID string
	Device  string
	Unit    string
	Parts   []Partition
}

var eqRx = regexp.MustCompile(`\s*=\s*`)

// Parse reads the textual dump produced by the external partitioner.
// Header lines are `key: value`; partition lines are
// `DEV : start=N, size=N, type=T`. Unknown header keys are ignored and
// partitions with size 0 or type "0" are dropped.
func Parse(dump string) (Table, error) {
	t := Table{}

	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		f := strings.SplitN(line, ":", 2)
		if len(f) < 2 {
			return Table{}, fmt.Errorf("unsupported partition table line `%s`", line)
		}
		key := strings.TrimSpace(f[0])
		rest := strings.TrimSpace(f[1])

		if !strings.Contains(rest, "start=") {
			// A header line
			switch key {
			case "label":
				t.Label = rest
			case "label-id":
				t.LabelID = rest
			case "device":
				t.Device = rest
			case "unit":
				t.Unit = rest
			}
			continue
		}

		p := Partition{Device: key}
		for _, attr := range strings.Split(rest, ",") {
			attr = eqRx.ReplaceAllString(strings.TrimSpace(attr), "=")
			kv := strings.SplitN(attr, "=", 2)
			if len(kv) < 2 {
				continue
			}
			switch kv[0] {
			case "start":
				n, err := strconv.ParseInt(kv[1], 10, 64)
				if err != nil {
					return Table{}, fmt.Errorf("bad start in line `%s`: %v", line, err)
				}
				p.Start = n
			case "size":
				n, err := strconv.ParseInt(kv[1], 10, 64)
				if err != nil {
					return Table{}, fmt.Errorf("bad size in line `%s`: %v", line, err)
				}
				p.Size = n
			case "type":
				p.Type = kv[1]
			}
		}

		// Extended-partition placeholders and empty slots are skipped
		if p.Size == 0 || p.Type == "0" {
			continue
		}
		t.Parts = append(t.Parts, p)
	}

	if t.Label != "dos" && t.Label != "gpt" {
		return Table{}, fmt.Errorf("unsupported partition table label `%s`", t.Label)
	}
	if t.Unit != "sectors" {
		return Table{}, fmt.Errorf("unsupported partition table unit `%s`", t.Unit)
	}

	return t, nil
}

// Dump renders the table in the partitioner's own textual form
func (t Table) Dump() string {
	var b strings.Builder

	fmt.Fprintf(&b, "label: %s\n", t.Label)
	fmt.Fprintf(&b, "label-id: %s\n", t.LabelID)
	fmt.Fprintf(&b, "device: %s\n", t.Device)
	fmt.Fprintf(&b, "unit: %s\n", t.Unit)
	b.WriteString("\n")

	for _, p := range t.Parts {
		fmt.Fprintf(&b, "%s : start=%12d, size=%12d, type=%s\n", p.Device, p.Start, p.Size, p.Type)
	}
	return b.String()
}

// Read dumps and parses the partition table of a device or image file
func Read(path string) (Table, error) {
	out, code := core.RunOutput("sfdisk -d " + path)
	if code != 0 {
		return Table{}, fmt.Errorf("cannot read the partition table of `%s`", path)
	}
	return Parse(out)
}

// Write applies the table to a device or image file. The target must
// already exist with enough space allocated.
func Write(path string, t Table) error {
	tmp, err := ioutil.TempFile("", "sdbackup-pt-")
	if err != nil {
		return fmt.Errorf("cannot stage the partition table: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(t.Dump()); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot stage the partition table: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot stage the partition table: %v", err)
	}

	if code := core.Run(fmt.Sprintf("sfdisk -q %s < %s", path, tmp.Name())); code != 0 {
		return fmt.Errorf("cannot write the partition table to `%s`", path)
	}
	return nil
}

// ResizeRoot returns a copy of the table with the root partition's size
// replaced. Resizing is only supported for the two-partition boot/root
// layout, where the root is the second entry.
func ResizeRoot(t Table, sectors int64) (Table, error) {
	if len(t.Parts) != 2 {
		return Table{}, fmt.Errorf("resize needs a two-partition table, not %d", len(t.Parts))
	}

	resized := t
	resized.Parts = append([]Partition{}, t.Parts...)
	resized.Parts[1].Size = sectors
	return resized, nil
}
