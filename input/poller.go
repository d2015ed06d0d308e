// Package input samples the key pad once per frame and blocks the control
// loop until the operator presses what it is waiting for.
package input

import "strings"

// Key is a bit set of logical keys.
type Key uint32

// Logical keys understood by the dumper.
const (
	KeyA Key = 1 << iota
	KeyB
	KeyUp
	KeyDown
)

func (k Key) String() string {
	if k == 0 {
		return "none"
	}
	var names []string
	for _, n := range []struct {
		k    Key
		name string
	}{{KeyA, "A"}, {KeyB, "B"}, {KeyUp, "UP"}, {KeyDown, "DOWN"}} {
		if k&n.k != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// Scanner advances the input sampling state by one frame and returns the
// keys that went from up to down during that frame.
type Scanner interface {
	Scan() Key
}

// Frame blocks until the next display frame.
type Frame interface {
	WaitVBlank()
}

// Poller busy-polls a Scanner once per frame.
type Poller struct {
	keys  Scanner
	frame Frame
}

// NewPoller returns a Poller reading keys from s and pacing itself on f.
func NewPoller(s Scanner, f Frame) *Poller {
	return &Poller{keys: s, frame: f}
}

// WaitForAny blocks until any key in mask is pressed and returns the whole
// just-pressed set of that frame.
func (p *Poller) WaitForAny(mask Key) Key {
	for {
		if down := p.keys.Scan(); down&mask != 0 {
			return down
		}
		p.frame.WaitVBlank()
	}
}

// WaitForExact blocks until the just-pressed set equals mask.
func (p *Poller) WaitForExact(mask Key) {
	for {
		if p.keys.Scan() == mask {
			return
		}
		p.frame.WaitVBlank()
	}
}

// Halt never returns. Only a power cycle gets the operator out.
func (p *Poller) Halt() {
	for {
		p.frame.WaitVBlank()
	}
}
