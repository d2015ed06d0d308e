// Package dump streams a flashcart's flash into a file on the SD card one
// buffer at a time.
package dump

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"ntrdump/flashcart"
	"ntrdump/ntrcard"
	"ntrdump/storage"
)

// DefaultBufferSize is the transfer buffer used when none is configured.
const DefaultBufferSize = 0x4000

// Failure kinds raised by the dump loop itself. Storage failures come from
// the storage package.
var (
	ErrNoDriver   = errors.New("no flashcart selected")
	ErrDriverInit = errors.New("flashcart initialisation failed")
	ErrFlashRead  = errors.New("flash read failed")
)

// Session is everything one dump works with: the chosen driver, the card
// slot and the transfer buffer.
type Session struct {
	Driver flashcart.Flashcart
	Card   *ntrcard.Card
	Buffer []byte
}

// NewSession allocates the transfer buffer and a card slot assumed to have
// finished the key exchange already.
func NewSession(bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Session{
		Card:   ntrcard.New(ntrcard.Key2),
		Buffer: make([]byte, bufferSize),
	}
}

// Storage is where chunks are written.
type Storage interface {
	Remove(name string) error
	Append(name string, data []byte) error
}

// Progress is the secondary screen progress display.
type Progress interface {
	Report(current, total int64, status string)
	Clear()
}

// Screen receives operator messages.
type Screen interface {
	Printf(format string, args ...any)
}

// Controller runs dumps.
type Controller struct {
	storage  Storage
	progress Progress
	screen   Screen
}

// NewController wires a Controller.
func NewController(st Storage, p Progress, s Screen) *Controller {
	return &Controller{storage: st, progress: p, screen: s}
}

// Chunks returns the length of every chunk a dump of size bytes through a
// buffer of capacity bytes reads.
func Chunks(size, capacity int64) []int64 {
	if capacity <= 0 {
		return nil
	}
	var chunks []int64
	for cur := int64(0); cur < size; {
		n := min(size-cur, capacity)
		chunks = append(chunks, n)
		cur += n
	}
	return chunks
}

// Dump copies the whole flash of s.Driver into dest. Any previous dest is
// removed first. The driver is initialised again before every chunk. On
// failure the partial file is left in place and an operator message is
// printed.
func (c *Controller) Dump(s *Session, dest string) error {
	err := c.dump(s, dest)
	if err != nil {
		glog.Errorf("dump to %s: %v", dest, err)
		c.screen.Printf("%s\n", Message(err))
		return err
	}
	c.screen.Printf("Success.\n")
	c.progress.Clear()
	return nil
}

func (c *Controller) dump(s *Session, dest string) error {
	if s.Driver == nil {
		return ErrNoDriver
	}
	if err := c.storage.Remove(dest); err != nil {
		return fmt.Errorf("clear %s: %w", dest, err)
	}

	c.screen.Printf("Dumping to %s.\n", dest)

	bsz := int64(len(s.Buffer))
	sz := s.Driver.MaxLength()
	glog.Infof("dumping %d bytes from %s in %d byte chunks", sz, s.Driver.Name(), bsz)

	for cur := int64(0); cur < sz; {
		if err := s.Driver.Initialize(s.Card); err != nil {
			return fmt.Errorf("%w: %v", ErrDriverInit, err)
		}

		n := min(sz-cur, bsz)
		buf := s.Buffer[:n]
		if err := s.Driver.ReadFlash(cur, buf); err != nil {
			return fmt.Errorf("%w at 0x%x: %v", ErrFlashRead, cur, err)
		}
		if err := c.storage.Append(dest, buf); err != nil {
			return fmt.Errorf("chunk at 0x%x: %w", cur, err)
		}

		cur += n
		glog.V(1).Infof("dumped 0x%x/0x%x", cur, sz)
		c.progress.Report(cur, sz, "Writing to SD")
	}
	return nil
}

// Message is the text shown to the operator for a dump failure.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrDriverInit):
		return "Flashcart initialisation failed.\nPlease power off."
	case errors.Is(err, ErrFlashRead):
		return "Flash read failed."
	case errors.Is(err, storage.ErrMount):
		return "Failed to mount SD."
	case errors.Is(err, storage.ErrOpen):
		return "File open failed."
	case errors.Is(err, storage.ErrShortWrite):
		return "File write failed."
	}
	return "Something failed."
}
