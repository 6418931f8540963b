// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v2"
)

// Version of the tool, printed with -V
const Version = "1.3.2"

const (
	// DefaultSettingsFile is the optional administrator settings file
	DefaultSettingsFile = "/etc/sdbackup.yaml"

	defaultPercentFree = 20
	defaultStagingRoot = "/mnt"
	logFilePath        = "/var/log/sdbackup.log"
)

// IgnoredFS lists mount-table filesystem types that are never imaged
var IgnoredFS = []string{"autofs"}

// NetworkFS lists filesystem types the image file itself may live on
var NetworkFS = []string{"nfs", "nfs3", "nfs4", "smb"}

// ResizableFS lists filesystem types the root partition may be resized on
var ResizableFS = []string{"ext2", "ext3", "ext4"}

// RequiredTools are the external programs a run depends on
var RequiredTools = []string{
	"sfdisk", "losetup", "mount", "umount", "df", "lsblk",
	"rsync", "truncate", "e2fsck", "resize2fs",
}

// Mode selects what the run does with the image file
type Mode int

const (
	// ModeCreate allocates and partitions a new image file
	ModeCreate Mode = iota
	// ModeSync refreshes an existing image file
	ModeSync
)

// Settings are the administrator-tunable parameters from the YAML file
type Settings struct {
	LogFile     string   `yaml:"logfile"`
	PercentFree int      `yaml:"percent-free"`
	StagingRoot string   `yaml:"staging-root"`
	Excludes    []string `yaml:"excludes"`
}

// Config is the immutable run configuration, built once during validation
// and passed explicitly through component calls
type Config struct {
	ImagePath string // absolute path of the image file
	ImageDir  string // directory holding the image file

	Mode         Mode
	Maintenance  bool
	MountHostDir bool
	NoAutoclear  bool
	Resize       bool

	Debug   bool
	Verbose bool
	Quiet   bool

	PercentFree int
	StagingRoot string
	LogFile     string
	Excludes    []string
}

// ReadSettings parses the yaml settings file. A missing file is not an
// error; the defaults apply.
func ReadSettings(path string) (Settings, error) {
	s := Settings{}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		setDefaults(&s)
		return s, nil
	}

	dat, err := ioutil.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("error reading settings: %v", err)
	}

	if err := yaml.Unmarshal(dat, &s); err != nil {
		return s, fmt.Errorf("error parsing settings: %v", err)
	}

	// Default the missing parameters
	setDefaults(&s)

	return s, nil
}

func setDefaults(s *Settings) {
	if len(s.LogFile) == 0 {
		s.LogFile = logFilePath
	}
	if s.PercentFree <= 0 || s.PercentFree >= 100 {
		s.PercentFree = defaultPercentFree
	}
	if len(s.StagingRoot) == 0 {
		s.StagingRoot = defaultStagingRoot
	}
}

// New builds the run configuration from the parsed settings and the
// command-line options
func New(s Settings, imagePath string, mode Mode) (Config, error) {
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve image path `%s`: %v", imagePath, err)
	}

	return Config{
		ImagePath:   abs,
		ImageDir:    filepath.Dir(abs),
		Mode:        mode,
		PercentFree: s.PercentFree,
		StagingRoot: s.StagingRoot,
		LogFile:     s.LogFile,
		Excludes:    s.Excludes,
	}, nil
}
