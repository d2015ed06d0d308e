// Package ntrcard holds the cartridge slot transport state handed to
// flashcart drivers.
package ntrcard

import "fmt"

// State is the protocol state of the card bus.
type State int

// Card bus protocol states, in the order a card moves through them.
const (
	Raw State = iota
	Key1
	Key2
)

func (s State) String() string {
	switch s {
	case Raw:
		return "raw"
	case Key1:
		return "key1"
	case Key2:
		return "key2"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Card is the cartridge slot. The key exchange itself happens elsewhere;
// callers only record which state the bus has reached.
type Card struct {
	state State
}

// New returns a card in the given state.
func New(s State) *Card {
	return &Card{state: s}
}

// State returns the current protocol state.
func (c *Card) State() State {
	return c.state
}

// SetState records that the bus is now in state s.
func (c *Card) SetState(s State) {
	c.state = s
}

// Require returns an error unless the card is in state want.
func (c *Card) Require(want State) error {
	if c == nil {
		return fmt.Errorf("no card")
	}
	if c.state != want {
		return fmt.Errorf("card in %s state, need %s", c.state, want)
	}
	return nil
}
