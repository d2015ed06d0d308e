// ntrdump
// Picks a flashcart driver and dumps the cart's flash to a file on the SD
// card, a buffer at a time.
// Cobra CLI + tcell two-screen UI.
//
// Build:
//
//	go build -o ntrdump .
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"ntrdump/console"
	"ntrdump/dump"
	"ntrdump/flashcart"
	"ntrdump/flashcart/imagecart"
	"ntrdump/flashcart/patterncart"
	"ntrdump/input"
	"ntrdump/progress"
	"ntrdump/selector"
	"ntrdump/storage"
)

const maxBuffer = 64 * 1024 * 1024

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func parseSize(s string) (int64, error) {
	ss := strings.TrimSpace(strings.ToLower(s))
	if ss == "" {
		return 0, fmt.Errorf("empty size")
	}
	hex := strings.HasPrefix(ss, "0x")
	mult := int64(1)
	switch {
	case strings.HasSuffix(ss, "k"):
		mult = 1024
		ss = strings.TrimSuffix(ss, "k")
	case strings.HasSuffix(ss, "m"):
		mult = 1024 * 1024
		ss = strings.TrimSuffix(ss, "m")
	case strings.HasSuffix(ss, "g"):
		mult = 1024 * 1024 * 1024
		ss = strings.TrimSuffix(ss, "g")
	case !hex && strings.HasSuffix(ss, "b"):
		// b is a hex digit, so 0x sizes take no byte suffix.
		ss = strings.TrimSuffix(ss, "b")
	}
	if hex {
		v, err := strconv.ParseInt(ss[2:], 16, 64)
		if err != nil {
			return 0, err
		}
		return v * mult, nil
	}
	v, err := strconv.ParseFloat(ss, 64)
	if err != nil {
		return 0, err
	}
	return int64(v * float64(mult)), nil
}

func human(b int64) string {
	if b >= 1024*1024 {
		return fmt.Sprintf("%dM", b/(1024*1024))
	}
	if b >= 1024 {
		return fmt.Sprintf("%dK", b/1024)
	}
	return fmt.Sprintf("%dB", b)
}

/* ===================== Configuration ===================== */

type options struct {
	out         string
	sdDir       string
	sdDevice    string
	sdFSType    string
	bufferSize  string
	images      []string
	patternSize string
	emulateRate float64
	logLevel    string
}

type config struct {
	out        string
	mounter    storage.Mounter
	bufferSize int
	images     []string
	patternLen int64
	rateBps    float64
	threshold  flashcart.LogPriority
}

func (o *options) resolve() (*config, error) {
	if strings.TrimSpace(o.out) == "" {
		return nil, fmt.Errorf("--out is required")
	}
	bsz, err := parseSize(o.bufferSize)
	if err != nil {
		return nil, fmt.Errorf("--buffer: %w", err)
	}
	if bsz <= 0 || bsz > maxBuffer {
		return nil, fmt.Errorf("--buffer must be between 1 and %s", human(maxBuffer))
	}
	psz, err := parseSize(o.patternSize)
	if err != nil {
		return nil, fmt.Errorf("--pattern-size: %w", err)
	}
	if psz < 0 {
		return nil, fmt.Errorf("--pattern-size must not be negative")
	}
	if o.emulateRate < 0 {
		return nil, fmt.Errorf("--emulate-rate must not be negative")
	}
	threshold, err := flashcart.ParseLogPriority(o.logLevel)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}

	var m storage.Mounter = storage.DirMounter{Dir: o.sdDir}
	if o.sdDevice != "" {
		m = storage.DeviceMounter{Device: o.sdDevice, Target: o.sdDir, FSType: o.sdFSType}
	}
	return &config{
		out:        o.out,
		mounter:    m,
		bufferSize: int(bsz),
		images:     o.images,
		patternLen: psz,
		rateBps:    o.emulateRate,
		threshold:  threshold,
	}, nil
}

// registry builds the driver list. The returned func releases image carts.
func (c *config) registry(p flashcart.Platform) (*flashcart.Registry, func(), error) {
	var carts []flashcart.Flashcart
	var images []*imagecart.Cart
	release := func() {
		for _, ic := range images {
			if err := ic.Close(); err != nil {
				glog.Warningf("close image cart: %v", err)
			}
		}
	}
	for _, path := range c.images {
		ic, err := imagecart.New(p, path)
		if err != nil {
			release()
			return nil, nil, err
		}
		images = append(images, ic)
		carts = append(carts, ic)
	}
	if c.patternLen > 0 {
		carts = append(carts, patterncart.New(p, c.patternLen, c.rateBps))
	}
	return flashcart.NewRegistry(carts...), release, nil
}

/* ===================== Interactive dump ===================== */

func runInteractive(cfg *config) error {
	con, err := console.New()
	if err != nil {
		return fmt.Errorf("ui init: %w", err)
	}
	defer con.Close()

	top := con.Top()
	poller := input.NewPoller(con, con)
	reporter := progress.NewReporter(con.Bottom(), cfg.threshold)

	reg, release, err := cfg.registry(reporter)
	if err != nil {
		return err
	}
	defer release()

	operate(cfg, reg, top, con.Bottom(), poller, reporter)
	return nil
}

// screen is one of the two console surfaces.
type screen interface {
	Clear()
	Printf(format string, args ...any)
}

// operate runs one dump and then waits on the exit gate. It does not return
// when the flashcart fails to initialise.
func operate(cfg *config, reg *flashcart.Registry, top, bottom screen, poller *input.Poller, reporter *progress.Reporter) {
	interactiveDump(cfg, reg, top, bottom, poller, reporter)

	top.Printf("Press B to exit.\n")
	poller.WaitForExact(input.KeyB)
}

func interactiveDump(cfg *config, reg *flashcart.Registry, top, bottom screen, poller *input.Poller, reporter *progress.Reporter) {
	st := storage.NewSession(cfg.mounter)
	if err := st.Probe(); err != nil {
		glog.Errorf("probe SD: %v", err)
		top.Printf("Failed to mount flashcart SD.\n")
		return
	}
	top.Printf("SD root:\n%s\n", st.Describe())
	top.Printf("Select your flashcart.\n")

	cart, err := selector.Select(reg, bottom, poller)
	if err != nil {
		glog.Errorf("select flashcart: %v", err)
		top.Printf("Something failed.\n")
		return
	}

	sess := dump.NewSession(cfg.bufferSize)
	sess.Driver = cart
	err = dump.NewController(st, reporter, top).Dump(sess, cfg.out)
	if errors.Is(err, dump.ErrDriverInit) {
		// The card bus cannot be trusted any more. Nothing is mounted
		// outside a storage scope, so halting here leaks no mount.
		glog.Flush()
		poller.Halt()
	}
}

/* ===================== Headless output ===================== */

// lineScreen renders progress on a single terminal line.
type lineScreen struct {
	w    io.Writer
	open bool
}

func (l *lineScreen) Clear() {
	if l.open {
		fmt.Fprint(l.w, "\r")
	}
}

func (l *lineScreen) Printf(format string, args ...any) {
	fmt.Fprint(l.w, strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", "  "))
	l.open = true
}

// textScreen prints operator messages on their own lines, ending any
// progress line first.
type textScreen struct {
	w    io.Writer
	line *lineScreen
}

func (t textScreen) Printf(format string, args ...any) {
	if t.line.open {
		fmt.Fprintln(t.w)
		t.line.open = false
	}
	fmt.Fprintf(t.w, format, args...)
}

func runHeadless(cfg *config, name string, w io.Writer) error {
	line := &lineScreen{w: w}
	reporter := progress.NewReporter(line, cfg.threshold)
	reg, release, err := cfg.registry(reporter)
	if err != nil {
		return err
	}
	defer release()

	cart, ok := reg.Lookup(name)
	if !ok {
		return fmt.Errorf("no flashcart named %q (see the list command)", name)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintf(os.Stderr, "\nInterrupted\n")
		os.Exit(130)
	}()

	st := storage.NewSession(cfg.mounter)
	sess := dump.NewSession(cfg.bufferSize)
	sess.Driver = cart
	fmt.Fprintf(w, "Dumping %s (%s) to %s in %s\n", cart.Name(), human(cart.MaxLength()), cfg.out, st.Describe())
	if err := dump.NewController(st, reporter, textScreen{w: w, line: line}).Dump(sess, cfg.out); err != nil {
		return err
	}
	return nil
}

// quietStderr stops glog copying errors onto the terminal while tcell
// owns it, unless -stderrthreshold was given explicitly.
func quietStderr(cmd *cobra.Command) error {
	if cmd.Flags().Changed("stderrthreshold") {
		return nil
	}
	return flag.Set("stderrthreshold", "FATAL")
}

func printRegistry(cfg *config) error {
	reg, release, err := cfg.registry(progress.NewReporter(&lineScreen{w: os.Stdout}, cfg.threshold))
	if err != nil {
		return err
	}
	defer release()

	if reg.Len() == 0 {
		fmt.Println("  <no flashcarts configured>")
		return nil
	}
	fmt.Printf("  %-3s  %-32s  %-8s  %-6s\n", "#", "Name", "Size", "Chunks")
	for i := 0; i < reg.Len(); i++ {
		c := reg.At(i)
		chunks := dump.Chunks(c.MaxLength(), int64(cfg.bufferSize))
		fmt.Printf("  %-3d  %-32s  %-8s  %-6d\n", i, c.Name(), human(c.MaxLength()), len(chunks))
	}
	return nil
}

func main() {
	var o options

	root := &cobra.Command{
		Use:   "ntrdump",
		Short: "Flashcart flash dumper",
		Long:  "Select a flashcart driver and dump its flash to a file on the SD card",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// glog complains about logging before flag.Parse otherwise.
			return flag.CommandLine.Parse(nil)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.resolve()
			if err != nil {
				return err
			}
			if err := quietStderr(cmd); err != nil {
				return err
			}
			defer glog.Flush()
			return runInteractive(cfg)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.out, "out", "backup.bin", "dump file name, relative to the SD root")
	pf.StringVar(&o.sdDir, "sd-dir", ".", "SD root directory (mount point when --sd-device is set)")
	pf.StringVar(&o.sdDevice, "sd-device", "", "block device holding the SD filesystem, mounted around every write (Linux, needs root)")
	pf.StringVar(&o.sdFSType, "sd-fstype", "vfat", "filesystem type of --sd-device")
	pf.StringVar(&o.bufferSize, "buffer", "16k", "transfer buffer size (e.g. 16k, 1m, 0x4000)")
	pf.StringSliceVar(&o.images, "image", nil, "add an image cart backed by this file or block device (repeatable)")
	pf.StringVar(&o.patternSize, "pattern-size", "512k", "flash size of the pattern test cart, 0 to disable it")
	pf.Float64Var(&o.emulateRate, "emulate-rate", 0, "throttle the pattern test cart to this many bytes per second")
	pf.StringVar(&o.logLevel, "log-level", "warning", "lowest driver log priority kept: debug|info|notice|warning|error")
	pf.AddGoFlagSet(flag.CommandLine)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available flashcart drivers",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := o.resolve()
			if err != nil {
				return err
			}
			return printRegistry(cfg)
		},
	}
	root.AddCommand(listCmd)

	var cartName string
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump a named flashcart without the interactive UI",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := o.resolve()
			if err != nil {
				return err
			}
			defer glog.Flush()
			return runHeadless(cfg, cartName, os.Stdout)
		},
	}
	dumpCmd.Flags().StringVar(&cartName, "cart", "", "flashcart name as shown by list")
	_ = dumpCmd.MarkFlagRequired("cart")
	root.AddCommand(dumpCmd)

	must(root.Execute())
}
