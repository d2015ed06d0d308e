// Package storage gives scoped access to the SD filesystem. Every file
// operation runs inside its own mount and the filesystem is always
// unmounted again afterwards.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
)

// Failure kinds surfaced to the operator.
var (
	ErrMount      = errors.New("mount failed")
	ErrOpen       = errors.New("file open failed")
	ErrShortWrite = errors.New("file write failed")
)

// Mounter attaches and detaches the filesystem rooted at Root.
type Mounter interface {
	Mount() error
	Unmount() error
	Root() string
}

type openFunc func(name string, flag int, perm os.FileMode) (io.WriteCloser, error)

func openFile(name string, flag int, perm os.FileMode) (io.WriteCloser, error) {
	return os.OpenFile(name, flag, perm)
}

// Session serialises file operations through a Mounter.
type Session struct {
	m    Mounter
	open openFunc
}

// NewSession returns a Session using m.
func NewSession(m Mounter) *Session {
	return &Session{m: m, open: openFile}
}

// Describe names where files end up.
func (s *Session) Describe() string {
	return s.m.Root()
}

// WithMount mounts the filesystem, runs body with the mount root and then
// unmounts, whatever body did. If the mount fails body is not called.
func (s *Session) WithMount(body func(root string) error) error {
	if err := s.m.Mount(); err != nil {
		return fmt.Errorf("%w: %v", ErrMount, err)
	}
	defer func() {
		if err := s.m.Unmount(); err != nil {
			glog.Warningf("unmount %s: %v", s.m.Root(), err)
		}
	}()
	return body(s.m.Root())
}

// Probe checks that the filesystem can be mounted at all.
func (s *Session) Probe() error {
	return s.WithMount(func(string) error { return nil })
}

// Append adds data to the end of name, creating it if needed.
func (s *Session) Append(name string, data []byte) error {
	return s.WithMount(func(root string) error {
		path := filepath.Join(root, name)
		f, err := s.open(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOpen, err)
		}
		n, err := f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrShortWrite, path, err)
		}
		if n != len(data) {
			return fmt.Errorf("%w: %s: wrote %d of %d bytes", ErrShortWrite, path, n, len(data))
		}
		return nil
	})
}

// Remove deletes name. A file that is not there is not an error.
func (s *Session) Remove(name string) error {
	return s.WithMount(func(root string) error {
		err := os.Remove(filepath.Join(root, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

// DirMounter is a filesystem that is always attached, such as a directory
// on the host.
type DirMounter struct {
	Dir string
}

// Mount checks the directory is there.
func (d DirMounter) Mount() error {
	fi, err := os.Stat(d.Dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", d.Dir)
	}
	return nil
}

// Unmount does nothing.
func (d DirMounter) Unmount() error { return nil }

// Root returns the directory.
func (d DirMounter) Root() string { return d.Dir }
