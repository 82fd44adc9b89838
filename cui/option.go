package cui

import (
	"io"
	"os"

	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
)

// Option represents an option for New.
type Option func(*basicUI)

// Writer modifies the default writer to w.
func Writer(w io.Writer) Option {
	return func(u *basicUI) {
		u.writer = w
	}
}

// ErrWriter modifies the default error writer to w.
func ErrWriter(ew io.Writer) Option {
	return func(u *basicUI) {
		u.errWriter = ew
	}
}

// Colorable replaces os.Stdout and os.Stderr with writers that understand
// ANSI escape sequences on every platform.
func Colorable() Option {
	return func(u *basicUI) {
		if u.writer == os.Stdout {
			u.writer = colorable.NewColorableStdout()
		}
		if u.errWriter == os.Stderr {
			u.errWriter = colorable.NewColorableStderr()
		}
	}
}

// IsTerminal reports whether w is connected to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
