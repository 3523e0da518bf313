package simpleupload

import "io"

// Console is an alias for console.
type Console = console

// NewConsoleForTest builds a console with an explicit
// terminal mode.
func NewConsoleForTest(out io.Writer, tty bool) *Console {
	return &console{out: out, tty: tty}
}

// FailForTest exposes console.fail.
func FailForTest(c *Console, errCtx string, err error) error {
	return c.fail(errCtx, err)
}
