// Package selector lets the operator scroll through the registered
// flashcart drivers and confirm one.
package selector

import (
	"github.com/golang/glog"

	"ntrdump/flashcart"
	"ntrdump/input"
)

// Screen is the surface the menu is drawn on.
type Screen interface {
	Clear()
	Printf(format string, args ...any)
}

// Poller waits for key presses.
type Poller interface {
	WaitForAny(mask input.Key) input.Key
}

// Step moves cursor i one entry up or down a list of n entries, wrapping at
// both ends.
func Step(i, n int, k input.Key) int {
	switch k {
	case input.KeyUp:
		return (i + n - 1) % n
	case input.KeyDown:
		return (i + 1) % n
	}
	return i
}

// Select runs the menu until A is pressed and returns the highlighted
// driver.
func Select(reg *flashcart.Registry, s Screen, p Poller) (flashcart.Flashcart, error) {
	n := reg.Len()
	if n == 0 {
		return nil, flashcart.ErrRegistryEmpty
	}

	i := 0
	for {
		s.Clear()
		s.Printf("<UP/DOWN> Scroll <A> Select\nCurrent cart:\n%s\n", reg.At(i).Name())

		k := p.WaitForAny(input.KeyUp | input.KeyDown | input.KeyA)
		if k == input.KeyA {
			break
		}
		i = Step(i, n, k)
	}

	s.Clear()
	glog.Infof("selected flashcart %q", reg.At(i).Name())
	return reg.At(i), nil
}
