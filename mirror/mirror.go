// -*- Mode: Go; indent-tabs-mode: t -*-
// SDbackup
// Copyright 2018 Canonical Ltd.  All rights reserved.

package mirror

import (
	"fmt"
	"os"
	"path/filepath"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/klpgo/SDbackup/audit"
	"github.com/klpgo/SDbackup/config"
	"github.com/klpgo/SDbackup/core"
	"github.com/klpgo/SDbackup/image"
	"github.com/klpgo/SDbackup/parttable"
	"github.com/klpgo/SDbackup/resize"
)

// partitionMount pairs a source partition with its live mount
type partitionMount struct {
	idx        int // position in the partition tables
	part       parttable.Partition
	mountPoint string
	fstype     string
}

// Mirror drives one run over the image file. The orchestrator owns
// every acquired kernel resource; the cleanup stack is the sole
// releaser on all exit paths.
type Mirror struct {
	cfg     config.Config
	cleanup *Cleanup

	sourceDisk string
	source     parttable.Table
	img        parttable.Table
	parts      []partitionMount

	rootIdx  int
	rootFS   string
	rootUsed int64
	resizeOn bool
	plan     resize.Plan
	planSet  bool

	staging  string
	rootLoop string
	mounts   []string // staging mount points, in mount order
	loops    []string // attached loop devices, in attach order
	lock     *os.File
}

// Run executes the configured mode with teardown on every exit path
func Run(cfg config.Config) error {
	m := &Mirror{cfg: cfg, cleanup: NewCleanup(), rootIdx: -1}

	err := m.run()
	if err == nil && cfg.Maintenance {
		// The cleanup stack was disarmed; resources stay live
		return nil
	}
	m.cleanup.Run()
	return err
}

func (m *Mirror) run() error {
	if err := m.mountHostDir(); err != nil {
		return err
	}
	if err := m.probe(); err != nil {
		return err
	}
	if err := m.prepare(); err != nil {
		return err
	}
	if err := m.attachRoot(); err != nil {
		return err
	}
	if err := m.resizeRoot(); err != nil {
		return err
	}
	if err := m.mountAll(); err != nil {
		return err
	}
	if m.cfg.Maintenance {
		return m.maintenance()
	}
	if err := m.replicate(); err != nil {
		return err
	}

	audit.Println("Backup image is up to date")
	return nil
}

// mountHostDir mounts the directory holding the image file, typically
// an fstab entry for a network share
func (m *Mirror) mountHostDir() error {
	if !m.cfg.MountHostDir {
		return nil
	}

	audit.Verbosef("Mount the image host directory %s", m.cfg.ImageDir)
	if code := core.Run("mount " + m.cfg.ImageDir); code != 0 {
		return fmt.Errorf("cannot mount the image host directory `%s`", m.cfg.ImageDir)
	}
	m.cleanup.Push("host directory "+m.cfg.ImageDir, func() error {
		return core.Unmount(m.cfg.ImageDir)
	})
	return nil
}

// probe enumerates the source disk and pairs its partitions with the
// live mount table
func (m *Mirror) probe() error {
	rootDev, rootFS, err := core.FsOf("/")
	if err != nil {
		return err
	}
	m.rootFS = rootFS

	m.sourceDisk, err = core.ParentDisk(rootDev)
	if err != nil {
		return err
	}
	audit.Verbosef("Source disk is %s", m.sourceDisk)

	m.source, err = parttable.Read(m.sourceDisk)
	if err != nil {
		return err
	}
	if len(m.source.Parts) < 2 {
		return fmt.Errorf("the source disk `%s` has fewer than 2 partitions", m.sourceDisk)
	}

	_, _, used, err := core.MountOf("/")
	if err != nil {
		return err
	}
	m.rootUsed = used

	// Pair each partition with its live mount; unmounted partitions
	// are carried in the image geometry but never synced
	for i, p := range m.source.Parts {
		mountPoint, fstype, err := core.MountpointFor(p.Device)
		if err != nil {
			audit.Debugf("Partition %s has no live mount", p.Device)
			continue
		}
		if mountPoint == "/" {
			m.rootIdx = i
		}
		m.parts = append(m.parts, partitionMount{idx: i, part: p, mountPoint: mountPoint, fstype: fstype})
	}
	if m.rootIdx < 0 {
		return fmt.Errorf("cannot match the root filesystem to a partition of `%s`", m.sourceDisk)
	}

	// Resizing only supports the two-partition boot/root layout on an
	// ext root
	m.resizeOn = m.cfg.Resize
	if m.resizeOn && (len(m.source.Parts) != 2 || m.rootIdx != 1) {
		audit.Printf("Warning: resizing is disabled, the source is not a boot/root layout")
		m.resizeOn = false
	}
	if m.resizeOn && !core.ResizableFS(m.rootFS, config.ResizableFS) {
		audit.Printf("Warning: resizing is disabled, `%s` cannot be resized", m.rootFS)
		m.resizeOn = false
	}

	return m.checkImageDisk()
}

// checkImageDisk rejects an image file living on the source disk, which
// would replicate the image into itself. A network filesystem is always
// acceptable. Maintenance mode only mounts, so it is exempt.
func (m *Mirror) checkImageDisk() error {
	if m.cfg.Maintenance {
		return nil
	}

	mountPoint, _, _, err := core.MountOf(m.cfg.ImageDir)
	if err != nil {
		return err
	}
	device, fstype, err := core.FsOf(mountPoint)
	if err != nil {
		return err
	}

	for _, fs := range config.NetworkFS {
		if fstype == fs {
			return nil
		}
	}

	disk, err := core.ParentDisk(device)
	if err != nil {
		// The mount may sit on a whole-disk device
		disk = device
	}
	if disk == m.sourceDisk {
		return fmt.Errorf("the image directory `%s` is on the source disk", m.cfg.ImageDir)
	}
	return nil
}

// prepare branches on the mode: allocate and partition a new image, or
// read the existing one and plan the resize
func (m *Mirror) prepare() error {
	_, err := os.Stat(m.cfg.ImagePath)

	if m.cfg.Mode == config.ModeCreate {
		if err == nil {
			return fmt.Errorf("the image file `%s` already exists", m.cfg.ImagePath)
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot stat the image file `%s`: %v", m.cfg.ImagePath, err)
		}
		return m.createImage()
	}

	if err != nil {
		return fmt.Errorf("the image file `%s` is not usable: %v", m.cfg.ImagePath, err)
	}

	m.img, err = parttable.Read(m.cfg.ImagePath)
	if err != nil {
		return err
	}
	if err := m.checkGeometry(); err != nil {
		return err
	}

	if m.resizeOn {
		m.plan = resize.ForSync(m.rootUsed, m.img.Parts[1].Size, m.cfg.PercentFree)
		m.planSet = true
		audit.Verbosef("Resize plan: %s", m.plan)
	}
	return nil
}

// createImage allocates the image file and writes its partition table,
// mirroring the source geometry with an optionally resized root
func (m *Mirror) createImage() error {
	t := m.source
	t.Device = m.cfg.ImagePath
	t.Parts = append([]parttable.Partition{}, m.source.Parts...)

	if m.resizeOn {
		target := resize.ForCreate(m.rootUsed, m.cfg.PercentFree)
		resized, err := parttable.ResizeRoot(t, target)
		if err != nil {
			return err
		}
		t = resized
	}

	last := t.Parts[len(t.Parts)-1]
	sectors := last.Start + last.Size

	audit.Printf("Allocate the image file %s (%s)",
		m.cfg.ImagePath, humanize.IBytes(uint64(sectors*core.SectorSize)))
	if err := image.Create(m.cfg.ImagePath, sectors); err != nil {
		return err
	}
	if err := parttable.Write(m.cfg.ImagePath, t); err != nil {
		return err
	}

	m.img = t
	return nil
}

// checkGeometry requires the image partitions to sit where the source
// partitions sit
func (m *Mirror) checkGeometry() error {
	if len(m.img.Parts) != len(m.source.Parts) {
		return fmt.Errorf("the image has %d partitions, the source disk %d",
			len(m.img.Parts), len(m.source.Parts))
	}
	for i := range m.img.Parts {
		if m.img.Parts[i].Start != m.source.Parts[i].Start {
			return fmt.Errorf("image partition %d starts at sector %d, the source at %d",
				i+1, m.img.Parts[i].Start, m.source.Parts[i].Start)
		}
		// Only the root partition may differ in size, by resizing
		if i != m.rootIdx && m.img.Parts[i].Size != m.source.Parts[i].Size {
			return fmt.Errorf("image partition %d has %d sectors, the source %d",
				i+1, m.img.Parts[i].Size, m.source.Parts[i].Size)
		}
	}
	return nil
}

// attachRoot locks the image, creates the staging tree and binds the
// root loop device. The cleanup stack arms here: from this point every
// exit path tears down.
func (m *Mirror) attachRoot() error {
	lock, err := os.Open(m.cfg.ImagePath)
	if err != nil {
		return fmt.Errorf("cannot open the image file `%s`: %v", m.cfg.ImagePath, err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return fmt.Errorf("another run holds the image file `%s`", m.cfg.ImagePath)
	}
	m.lock = lock
	m.cleanup.Push("image lock", func() error {
		return lock.Close()
	})

	m.staging = filepath.Join(m.cfg.StagingRoot, "sdbackup-"+uuid.New().String())
	if err := os.MkdirAll(m.staging, 0755); err != nil {
		return fmt.Errorf("cannot create the staging tree `%s`: %v", m.staging, err)
	}

	m.cleanup.Arm()
	m.cleanup.Push("staging tree "+m.staging, func() error {
		return os.RemoveAll(m.staging)
	})

	dev, err := image.NextFree()
	if err != nil {
		return err
	}
	root := m.img.Parts[m.rootIdx]

	// The root loop is never size-limited so the backing file can be
	// resized mid-run; capacity is refreshed explicitly instead
	if err := image.Attach(dev, m.cfg.ImagePath, root.Start*core.SectorSize, 0); err != nil {
		return err
	}
	m.rootLoop = dev
	m.loops = append(m.loops, dev)
	m.pushDetach(dev)

	audit.Verbosef("Image root attached on %s", dev)
	return nil
}

func (m *Mirror) pushDetach(dev string) *Entry {
	return m.cleanup.Push("loop device "+dev, func() error {
		return image.Detach(dev)
	})
}

// resizeRoot applies the plan computed during preparation
func (m *Mirror) resizeRoot() error {
	if !m.planSet || m.plan.Decision == resize.Noop {
		return nil
	}

	ex := &resize.Executor{
		Config:   m.cfg,
		RootLoop: m.rootLoop,
		Table:    m.img,
		Staging:  m.staging,
	}
	t, err := ex.Apply(m.plan)
	if err != nil {
		return err
	}
	m.img = t
	return nil
}

// mountAll formats (create mode) and mounts every image partition with
// a live source counterpart under the staging tree
func (m *Mirror) mountAll() error {
	if m.cfg.Mode == config.ModeCreate {
		if err := core.FormatDisk(m.rootLoop, m.rootFS); err != nil {
			return err
		}
	}

	// The root mounts first; everything else hangs below it
	if err := m.mountPartition(m.rootLoop, m.staging); err != nil {
		return err
	}
	rootEntry := m.findDetach(m.rootLoop)
	if !m.cfg.NoAutoclear {
		if err := image.SetAutoclear(m.rootLoop); err != nil {
			return err
		}
		rootEntry.Cancel()
	}

	for _, pm := range m.parts {
		if pm.mountPoint == "/" {
			continue
		}

		dev, err := image.NextFree()
		if err != nil {
			return err
		}
		part := m.img.Parts[pm.idx]
		if err := image.Attach(dev, m.cfg.ImagePath,
			part.Start*core.SectorSize, part.Size*core.SectorSize); err != nil {
			return err
		}
		m.loops = append(m.loops, dev)
		entry := m.pushDetach(dev)

		if m.cfg.Mode == config.ModeCreate {
			if err := core.FormatDisk(dev, pm.fstype); err != nil {
				return err
			}
		}

		if err := m.mountPartition(dev, filepath.Join(m.staging, pm.mountPoint)); err != nil {
			return err
		}
		if !m.cfg.NoAutoclear {
			if err := image.SetAutoclear(dev); err != nil {
				return err
			}
			entry.Cancel()
		}
	}
	return nil
}

func (m *Mirror) mountPartition(dev, target string) error {
	if err := core.Mount(dev, target); err != nil {
		return err
	}
	m.mounts = append(m.mounts, target)
	m.cleanup.Push("mount "+target, func() error {
		return core.Unmount(target)
	})
	return nil
}

func (m *Mirror) findDetach(dev string) *Entry {
	for _, e := range m.cleanup.steps {
		if e.desc == "loop device "+dev {
			return e
		}
	}
	return &Entry{}
}

// maintenance leaves everything mounted and tells the operator how to
// take it down
func (m *Mirror) maintenance() error {
	audit.Println("Maintenance mode: the image partitions stay mounted")
	audit.Println("Release them with:")
	for i := len(m.mounts) - 1; i >= 0; i-- {
		audit.Printf("  umount %s", m.mounts[i])
	}
	if m.cfg.NoAutoclear {
		for _, dev := range m.loops {
			audit.Printf("  losetup -d %s", dev)
		}
	}

	m.cleanup.Disarm()
	return nil
}
