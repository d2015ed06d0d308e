// Package imagecart is a flashcart whose flash is backed by an image file
// or a block device, e.g. a flash chip read out with an external
// programmer.
package imagecart

import (
	"fmt"
	"os"
	"path/filepath"

	"ntrdump/flashcart"
	"ntrdump/ntrcard"
)

// Cart reads flash from a file.
type Cart struct {
	path     string
	size     int64
	platform flashcart.Platform
	f        *os.File
}

// New sizes the image at path.
func New(p flashcart.Platform, path string) (*Cart, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	size, err := getDeviceSize(f)
	if err != nil {
		return nil, fmt.Errorf("get image size: %w", err)
	}
	return &Cart{path: path, size: size, platform: p}, nil
}

// Name implements flashcart.Flashcart.
func (c *Cart) Name() string {
	return fmt.Sprintf("Image cart (%s)", filepath.Base(c.path))
}

// MaxLength implements flashcart.Flashcart.
func (c *Cart) MaxLength() int64 { return c.size }

// Initialize opens the image if needed and checks it has not changed size
// since the cart was created.
func (c *Cart) Initialize(card *ntrcard.Card) error {
	if err := card.Require(ntrcard.Key2); err != nil {
		return err
	}
	if c.f == nil {
		f, err := os.Open(c.path)
		if err != nil {
			c.platform.LogMessage(flashcart.LogError, "image cart: %v", err)
			return err
		}
		c.f = f
	}
	size, err := getDeviceSize(c.f)
	if err != nil {
		return err
	}
	if size != c.size {
		c.platform.LogMessage(flashcart.LogWarning, "image cart: %s changed size from %d to %d", c.path, c.size, size)
		return fmt.Errorf("image %s changed size from %d to %d bytes", c.path, c.size, size)
	}
	return nil
}

// ReadFlash implements flashcart.Flashcart.
func (c *Cart) ReadFlash(offset int64, dst []byte) error {
	if c.f == nil {
		return fmt.Errorf("image cart not initialised")
	}
	if offset < 0 || offset+int64(len(dst)) > c.size {
		return fmt.Errorf("read 0x%x+0x%x outside flash of 0x%x bytes", offset, len(dst), c.size)
	}
	if _, err := c.f.ReadAt(dst, offset); err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return nil
}

// Close releases the image.
func (c *Cart) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}
