package simpleupload

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// console renders operator messages and upload progress.
// On a terminal the progress line is redrawn in place;
// elsewhere only the last value is printed once.
type console struct {
	out     io.Writer
	tty     bool
	last    float64
	started bool
}

type fder interface {
	Fd() uintptr
}

func newConsole(out io.Writer) *console {
	tty := false
	if f, ok := out.(fder); ok {
		tty = term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
	}

	return &console{out: out, tty: tty}
}

func (c *console) print(s string) {
	_, _ = io.WriteString(c.out, s)
}

func (c *console) println(s string) {
	_, _ = io.WriteString(c.out, s+"\n")
}

func (c *console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// Progress implements uploader.Reporter.
func (c *console) Progress(fraction float64) {
	c.last = fraction
	c.started = true

	if c.tty {
		c.printf("\r%s  ", percent(fraction))
	}
}

// Finalizing implements uploader.Reporter. On a terminal
// the message follows the last redraw on the same line.
func (c *console) Finalizing() {
	if c.started && !c.tty {
		c.println(percent(c.last))
	}

	c.print("Finalizing Upload... ")
}

func percent(fraction float64) string {
	return fmt.Sprintf("%.2f%%", fraction*100)
}
