//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DeviceMounter mounts a block device holding the SD filesystem.
type DeviceMounter struct {
	Device string
	Target string
	FSType string
}

// Mount attaches the device at Target.
func (d DeviceMounter) Mount() error {
	fstype := d.FSType
	if fstype == "" {
		fstype = "vfat"
	}
	if err := unix.Mount(d.Device, d.Target, fstype, unix.MS_NOATIME, ""); err != nil {
		return fmt.Errorf("mount %s on %s: %w", d.Device, d.Target, err)
	}
	return nil
}

// Unmount detaches Target, flushing pending writes.
func (d DeviceMounter) Unmount() error {
	if err := unix.Unmount(d.Target, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", d.Target, err)
	}
	return nil
}

// Root returns the mount point.
func (d DeviceMounter) Root() string { return d.Target }
