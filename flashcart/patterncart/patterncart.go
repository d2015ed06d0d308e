// Package patterncart is a flashcart that needs no hardware. Its flash
// holds a fixed pattern derived from each byte's address, which makes it
// useful for checking a dump end to end.
package patterncart

import (
	"fmt"
	"time"

	"ntrdump/flashcart"
	"ntrdump/ntrcard"
)

// Byte is the content of the flash at offset.
func Byte(offset int64) byte {
	return byte(offset ^ offset>>8 ^ offset>>16 ^ 0x5a)
}

// Cart is an emulated flashcart.
type Cart struct {
	size     int64
	rateBps  float64
	platform flashcart.Platform
	sleep    func(time.Duration)
}

// New returns a cart with size bytes of flash. A positive rateBps slows
// reads down to that many bytes per second.
func New(p flashcart.Platform, size int64, rateBps float64) *Cart {
	return &Cart{size: size, rateBps: rateBps, platform: p, sleep: time.Sleep}
}

// Name implements flashcart.Flashcart.
func (c *Cart) Name() string { return "Pattern test cart" }

// MaxLength implements flashcart.Flashcart.
func (c *Cart) MaxLength() int64 { return c.size }

// Initialize implements flashcart.Flashcart.
func (c *Cart) Initialize(card *ntrcard.Card) error {
	if err := card.Require(ntrcard.Key2); err != nil {
		c.platform.LogMessage(flashcart.LogError, "pattern cart: %v", err)
		return err
	}
	c.platform.LogMessage(flashcart.LogDebug, "pattern cart: initialised")
	return nil
}

// ReadFlash implements flashcart.Flashcart.
func (c *Cart) ReadFlash(offset int64, dst []byte) error {
	if offset < 0 || offset+int64(len(dst)) > c.size {
		return fmt.Errorf("read 0x%x+0x%x outside flash of 0x%x bytes", offset, len(dst), c.size)
	}
	for i := range dst {
		dst[i] = Byte(offset + int64(i))
	}
	if c.rateBps > 0 {
		dt := time.Duration(float64(len(dst)) / c.rateBps * float64(time.Second))
		if dt < time.Millisecond {
			dt = time.Millisecond
		}
		c.sleep(dt)
	}
	c.platform.LogMessage(flashcart.LogDebug, "pattern cart: read 0x%x bytes at 0x%x", len(dst), offset)
	return nil
}
