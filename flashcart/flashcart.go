// Package flashcart defines the capability set every flashcart driver
// exposes and the registry the operator picks a driver from.
package flashcart

import (
	"errors"
	"fmt"

	"ntrdump/ntrcard"
)

// ErrRegistryEmpty is returned when there is no driver to choose from.
var ErrRegistryEmpty = errors.New("no flashcart drivers registered")

// Flashcart is one driver for one model of flashcart.
type Flashcart interface {
	Name() string

	// MaxLength is the size of the addressable flash in bytes.
	MaxLength() int64

	// Initialize brings the cart up on card. The card must already be in
	// KEY2 state.
	Initialize(card *ntrcard.Card) error

	// ReadFlash fills dst with len(dst) bytes starting at offset.
	ReadFlash(offset int64, dst []byte) error
}

// LogPriority orders driver log messages.
type LogPriority int

// Log priorities, lowest first.
const (
	LogDebug LogPriority = iota
	LogInfo
	LogNotice
	LogWarning
	LogError
)

func (p LogPriority) String() string {
	switch p {
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogNotice:
		return "notice"
	case LogWarning:
		return "warning"
	case LogError:
		return "error"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParseLogPriority is the inverse of LogPriority.String.
func ParseLogPriority(s string) (LogPriority, error) {
	for p := LogDebug; p <= LogError; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown log priority %q", s)
}

// Platform is what a driver may call back into while it works.
type Platform interface {
	ShowProgress(current, total int64, status string)
	LogMessage(priority LogPriority, format string, args ...any)
}

// Registry is the ordered list of drivers on offer.
type Registry struct {
	carts []Flashcart
}

// NewRegistry keeps carts in the order given.
func NewRegistry(carts ...Flashcart) *Registry {
	return &Registry{carts: append([]Flashcart(nil), carts...)}
}

// Len returns the number of drivers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.carts)
}

// At returns driver i. It panics if i is out of range.
func (r *Registry) At(i int) Flashcart {
	return r.carts[i]
}

// Lookup finds a driver by name.
func (r *Registry) Lookup(name string) (Flashcart, bool) {
	for _, c := range r.carts {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}
