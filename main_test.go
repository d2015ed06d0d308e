package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"ntrdump/flashcart"
	"ntrdump/input"
	"ntrdump/ntrcard"
	"ntrdump/progress"
	"ntrdump/storage"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"16k", 16 * 1024},
		{"1m", 1024 * 1024},
		{"1.5k", 1536},
		{"512", 512},
		{"512b", 512},
		{"0x4000", 0x4000},
		{"0x10k", 16 * 1024},
		{" 2G ", 2 * 1024 * 1024 * 1024},
		{"0xab", 0xab},
		{"0x400b", 0x400b},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %d, want %d", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "k", "lots", "0xzz"} {
		if _, err := parseSize(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func defaults() options {
	return options{
		out:         "backup.bin",
		sdDir:       ".",
		sdFSType:    "vfat",
		bufferSize:  "16k",
		patternSize: "512k",
		logLevel:    "warning",
	}
}

func TestResolve(t *testing.T) {
	o := defaults()
	cfg, err := o.resolve()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.bufferSize != 0x4000 || cfg.patternLen != 512*1024 || cfg.threshold != flashcart.LogWarning {
		t.Errorf("config %+v", cfg)
	}
	if _, ok := cfg.mounter.(storage.DirMounter); !ok {
		t.Errorf("mounter %T, want DirMounter", cfg.mounter)
	}

	o.sdDevice = "/dev/sdz1"
	cfg, err = o.resolve()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg.mounter.(storage.DeviceMounter); !ok {
		t.Errorf("mounter %T, want DeviceMounter", cfg.mounter)
	}
}

func TestResolveRejects(t *testing.T) {
	for name, mod := range map[string]func(*options){
		"empty out":     func(o *options) { o.out = "" },
		"zero buffer":   func(o *options) { o.bufferSize = "0" },
		"huge buffer":   func(o *options) { o.bufferSize = "1g" },
		"bad pattern":   func(o *options) { o.patternSize = "big" },
		"negative rate": func(o *options) { o.emulateRate = -1 },
		"bad log level": func(o *options) { o.logLevel = "chatty" },
	} {
		o := defaults()
		mod(&o)
		if _, err := o.resolve(); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestRegistry(t *testing.T) {
	img := filepath.Join(t.TempDir(), "nor.img")
	if err := os.WriteFile(img, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	o := defaults()
	o.images = []string{img}
	cfg, err := o.resolve()
	if err != nil {
		t.Fatal(err)
	}
	reg, release, err := cfg.registry(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if reg.Len() != 2 {
		t.Fatalf("%d carts, want 2", reg.Len())
	}
	if reg.At(0).MaxLength() != 2048 {
		t.Errorf("image cart size %d", reg.At(0).MaxLength())
	}
	if reg.At(1).MaxLength() != 512*1024 {
		t.Errorf("pattern cart size %d", reg.At(1).MaxLength())
	}

	o.images = []string{filepath.Join(t.TempDir(), "missing.img")}
	cfg, err = o.resolve()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := cfg.registry(nil); err == nil {
		t.Error("missing image accepted")
	}
}

func TestRunHeadless(t *testing.T) {
	dir := t.TempDir()
	o := defaults()
	o.sdDir = dir
	o.bufferSize = "1k"
	o.patternSize = "10k"
	cfg, err := o.resolve()
	if err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	if err := runHeadless(cfg, "Pattern test cart", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.String(), "100%  \nSuccess.\n") {
		t.Errorf("success not on its own line: %q", out.String())
	}
	fi, err := os.Stat(filepath.Join(dir, "backup.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 10*1024 {
		t.Errorf("dump is %d bytes", fi.Size())
	}

	if err := runHeadless(cfg, "No such cart", io.Discard); err == nil {
		t.Error("unknown cart accepted")
	}
}

func TestHeadlessLines(t *testing.T) {
	var out strings.Builder
	line := &lineScreen{w: &out}
	r := progress.NewReporter(line, flashcart.LogError)
	text := textScreen{w: &out, line: line}

	text.Printf("Dumping to backup.bin.\n")
	r.Report(1, 2, "Writing to SD")
	r.Report(2, 2, "Writing to SD")
	text.Printf("Success.\n")
	r.Clear()

	want := "Dumping to backup.bin.\n" +
		"Writing to SD  1/2  50%  \rWriting to SD  2/2  100%  \n" +
		"Success.\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestQuietStderr(t *testing.T) {
	f := flag.Lookup("stderrthreshold")
	before := f.Value.String()
	t.Cleanup(func() { _ = flag.Set("stderrthreshold", before) })

	cmd := &cobra.Command{Use: "ntrdump"}
	cmd.Flags().AddGoFlagSet(flag.CommandLine)
	if err := quietStderr(cmd); err != nil {
		t.Fatal(err)
	}
	if f.Value.String() == before {
		t.Errorf("threshold still %s", before)
	}

	_ = flag.Set("stderrthreshold", before)
	cmd = &cobra.Command{Use: "ntrdump"}
	cmd.Flags().AddGoFlagSet(flag.CommandLine)
	if err := cmd.Flags().Set("stderrthreshold", "WARNING"); err != nil {
		t.Fatal(err)
	}
	chosen := f.Value.String()
	if err := quietStderr(cmd); err != nil {
		t.Fatal(err)
	}
	if f.Value.String() != chosen {
		t.Errorf("explicit threshold %s overridden with %s", chosen, f.Value.String())
	}
}

type textBuffer struct {
	text strings.Builder
}

func (b *textBuffer) Clear() { b.text.Reset() }

func (b *textBuffer) Printf(format string, args ...any) {
	fmt.Fprintf(&b.text, format, args...)
}

type keyScript struct {
	keys []input.Key
}

func (k *keyScript) Scan() input.Key {
	if len(k.keys) == 0 {
		return 0
	}
	down := k.keys[0]
	k.keys = k.keys[1:]
	return down
}

// frameLimit ends the calling goroutine once it has waited limit frames.
type frameLimit struct {
	n       int
	limit   int
	stalled chan struct{}
}

func (f *frameLimit) WaitVBlank() {
	f.n++
	if f.n == f.limit {
		close(f.stalled)
		runtime.Goexit()
	}
}

type brokenCart struct {
	initErr error
	readErr error
}

func (c brokenCart) Name() string     { return "Broken cart" }
func (c brokenCart) MaxLength() int64 { return 4096 }

func (c brokenCart) Initialize(*ntrcard.Card) error { return c.initErr }

func (c brokenCart) ReadFlash(int64, []byte) error { return c.readErr }

func TestOperate(t *testing.T) {
	tests := []struct {
		name    string
		noSD    bool
		carts   []flashcart.Flashcart // nil means the configured carts
		keys    []input.Key
		halts   bool
		want    string
		dumpLen int64
	}{
		{
			name: "no SD",
			noSD: true,
			keys: []input.Key{input.KeyB},
			want: "Failed to mount flashcart SD.\nPress B to exit.\n",
		},
		{
			name:  "no carts",
			carts: []flashcart.Flashcart{},
			keys:  []input.Key{input.KeyB},
			want:  "Select your flashcart.\nSomething failed.\nPress B to exit.\n",
		},
		{
			name:    "success",
			keys:    []input.Key{input.KeyA, input.KeyB},
			want:    "Dumping to backup.bin.\nSuccess.\nPress B to exit.\n",
			dumpLen: 10 * 1024,
		},
		{
			name:  "read failure",
			carts: []flashcart.Flashcart{brokenCart{readErr: errors.New("timeout")}},
			keys:  []input.Key{input.KeyA, input.KeyA | input.KeyB, input.KeyB},
			want:  "Dumping to backup.bin.\nFlash read failed.\nPress B to exit.\n",
		},
		{
			name:  "init failure",
			carts: []flashcart.Flashcart{brokenCart{initErr: errors.New("no response")}},
			keys:  []input.Key{input.KeyA, input.KeyB},
			halts: true,
			want:  "Flashcart initialisation failed.\nPlease power off.\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := &config{
				out:        "backup.bin",
				mounter:    storage.DirMounter{Dir: dir},
				bufferSize: 1024,
				patternLen: 10 * 1024,
				threshold:  flashcart.LogError,
			}
			if tt.noSD {
				cfg.mounter = storage.DirMounter{Dir: filepath.Join(dir, "absent")}
			}

			top, bottom := &textBuffer{}, &textBuffer{}
			reporter := progress.NewReporter(bottom, flashcart.LogError)
			reg, release, err := cfg.registry(reporter)
			if err != nil {
				t.Fatal(err)
			}
			defer release()
			if tt.carts != nil {
				reg = flashcart.NewRegistry(tt.carts...)
			}

			keys := &keyScript{keys: tt.keys}
			frames := &frameLimit{limit: 1000, stalled: make(chan struct{})}
			poller := input.NewPoller(keys, frames)

			returned := make(chan struct{})
			go func() {
				operate(cfg, reg, top, bottom, poller, reporter)
				close(returned)
			}()
			select {
			case <-returned:
				if tt.halts {
					t.Fatal("returned after a fatal initialisation failure")
				}
				if len(keys.keys) != 0 {
					t.Errorf("keys left unread: %v", keys.keys)
				}
			case <-frames.stalled:
				if !tt.halts {
					t.Fatal("stalled waiting for input")
				}
				if strings.Contains(top.text.String(), "Press B") {
					t.Error("exit gate reached after a fatal failure")
				}
			}

			if !strings.HasSuffix(top.text.String(), tt.want) {
				t.Errorf("top screen %q, want suffix %q", top.text.String(), tt.want)
			}
			if tt.dumpLen > 0 {
				fi, err := os.Stat(filepath.Join(dir, "backup.bin"))
				if err != nil {
					t.Fatal(err)
				}
				if fi.Size() != tt.dumpLen {
					t.Errorf("dump is %d bytes, want %d", fi.Size(), tt.dumpLen)
				}
			}
		})
	}
}
