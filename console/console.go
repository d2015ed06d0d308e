// Package console splits one terminal into the two text screens of the
// handheld, turns key presses into pad buttons and paces the control loop
// at the display frame rate.
package console

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"ntrdump/input"
)

// FrameRate is the number of vertical blanks per second.
const FrameRate = 60

const maxLines = 64

// Console owns the terminal screen.
type Console struct {
	// mu guards s and powerOff. Ctrl+C closes the screen from the event
	// goroutine while the control goroutine may be drawing.
	mu       sync.Mutex
	s        tcell.Screen
	stopChan chan struct{}
	once     sync.Once

	top    *Surface
	bottom *Surface

	keys     chan input.Key
	ticker   *time.Ticker
	powerOff func()
}

// New opens the terminal.
func New() (*Console, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return NewWithScreen(s)
}

// NewWithScreen uses an already created screen, such as a simulation
// screen.
func NewWithScreen(s tcell.Screen) (*Console, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	c := &Console{
		s:        s,
		stopChan: make(chan struct{}),
		keys:     make(chan input.Key, 16),
		ticker:   time.NewTicker(time.Second / FrameRate),
	}
	c.top = &Surface{c: c, title: " ntrdump "}
	c.bottom = &Surface{c: c, title: " Progress "}
	c.powerOff = c.defaultPowerOff
	go c.eventLoop(s)
	c.LayoutAndDraw()
	return c, nil
}

// Close restores the terminal.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s == nil {
		return
	}
	c.once.Do(func() {
		close(c.stopChan)
		c.s.PostEvent(tcell.NewEventInterrupt(nil))
	})
	c.ticker.Stop()
	c.s.Fini()
	c.s = nil
}

// Top is the primary screen for instructions and status messages.
func (c *Console) Top() *Surface { return c.top }

// Bottom is the secondary screen for menus and progress.
func (c *Console) Bottom() *Surface { return c.bottom }

// OnPowerOff replaces what Ctrl+C does. The default restores the terminal
// and exits with status 130.
func (c *Console) OnPowerOff(f func()) {
	c.mu.Lock()
	c.powerOff = f
	c.mu.Unlock()
}

func (c *Console) defaultPowerOff() {
	c.Close()
	fmt.Fprintf(os.Stderr, "\nInterrupted\n")
	os.Exit(130)
}

// Scan implements input.Scanner. It returns every button pressed since
// the previous call.
func (c *Console) Scan() input.Key {
	var down input.Key
	for {
		select {
		case k := <-c.keys:
			down |= k
		default:
			return down
		}
	}
}

// WaitVBlank implements input.Frame.
func (c *Console) WaitVBlank() {
	<-c.ticker.C
}

func keyFor(ev *tcell.EventKey) input.Key {
	switch ev.Key() {
	case tcell.KeyUp:
		return input.KeyUp
	case tcell.KeyDown:
		return input.KeyDown
	case tcell.KeyEnter:
		return input.KeyA
	case tcell.KeyEscape, tcell.KeyBackspace, tcell.KeyBackspace2:
		return input.KeyB
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'a', 'A':
			return input.KeyA
		case 'b', 'B':
			return input.KeyB
		}
	}
	return 0
}

func (c *Console) eventLoop(s tcell.Screen) {
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyCtrlC {
				c.mu.Lock()
				off := c.powerOff
				c.mu.Unlock()
				off()
				continue
			}
			if k := keyFor(ev); k != 0 {
				select {
				case c.keys <- k:
				default:
				}
			}
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt:
			return
		case nil:
			return
		}
	}
}

func putStr(s tcell.Screen, x, y int, str string) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		pos := x + i
		if pos >= w {
			break
		}
		s.SetContent(pos, y, r, nil, tcell.StyleDefault)
	}
}

func drawRegion(s tcell.Screen, y, rows int, title string, lines []string) {
	if rows <= 0 {
		return
	}
	w, _ := s.Size()
	putStr(s, 0, y, strings.Repeat("═", w))
	putStr(s, 2, y, title)
	rows--
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	for i, line := range lines {
		putStr(s, 0, y+1+i, line)
	}
}

// LayoutAndDraw redraws both screens.
func (c *Console) LayoutAndDraw() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s == nil {
		return
	}
	c.s.Clear()
	_, h := c.s.Size()
	half := h / 2
	drawRegion(c.s, 0, half, c.top.title, c.top.Lines())
	drawRegion(c.s, half, h-half, c.bottom.title, c.bottom.Lines())
	c.s.Show()
}

// Surface is one of the two text screens. Text is written like a
// terminal: Printf appends, a newline starts the next line.
type Surface struct {
	c     *Console
	title string
	text  string
}

// Clear empties the surface.
func (s *Surface) Clear() {
	s.text = ""
	s.c.LayoutAndDraw()
}

// Printf appends formatted text.
func (s *Surface) Printf(format string, args ...any) {
	s.text += fmt.Sprintf(format, args...)
	if lines := strings.Split(s.text, "\n"); len(lines) > maxLines {
		s.text = strings.Join(lines[len(lines)-maxLines:], "\n")
	}
	s.c.LayoutAndDraw()
}

// Lines returns the text split into lines. A trailing newline does not
// start an extra empty line.
func (s *Surface) Lines() []string {
	if s.text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s.text, "\n"), "\n")
}
