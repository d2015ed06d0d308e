//go:build !linux

package storage

import (
	"fmt"
	"runtime"
)

// DeviceMounter mounts a block device holding the SD filesystem. Only
// Linux is supported.
type DeviceMounter struct {
	Device string
	Target string
	FSType string
}

// Mount always fails on this platform.
func (d DeviceMounter) Mount() error {
	return fmt.Errorf("mounting %s is not supported on %s", d.Device, runtime.GOOS)
}

// Unmount does nothing.
func (d DeviceMounter) Unmount() error { return nil }

// Root returns the mount point.
func (d DeviceMounter) Root() string { return d.Target }
