// Package cui defines character user interfaces for I/O.
package cui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// UI provides formatted output for the application.
type UI interface {
	// WriteLine writes s to Writer with a line break.
	WriteLine(s string)
	// NewLine writes an empty line to Writer.
	NewLine()
	// Info is the same as WriteLine, but it is distinguished for decoration.
	Info(s string)
	// Warn writes s to ErrWriter with a line break.
	Warn(s string)
	// Error writes s to ErrWriter with a line break.
	Error(s string)

	Writer() io.Writer
	ErrWriter() io.Writer
}

type basicUI struct {
	writer, errWriter io.Writer
}

// New returns a new UI. By default, Writer is os.Stdout and ErrWriter is os.Stderr.
func New(opts ...Option) UI {
	ui := &basicUI{
		writer:    os.Stdout,
		errWriter: os.Stderr,
	}
	for _, opt := range opts {
		opt(ui)
	}
	return ui
}

func (u *basicUI) WriteLine(s string) {
	fmt.Fprintln(u.writer, s)
}

func (u *basicUI) NewLine() {
	fmt.Fprintln(u.writer)
}

func (u *basicUI) Info(s string) {
	u.WriteLine(s)
}

func (u *basicUI) Warn(s string) {
	fmt.Fprintln(u.errWriter, s)
}

func (u *basicUI) Error(s string) {
	fmt.Fprintln(u.errWriter, s)
}

func (u *basicUI) Writer() io.Writer {
	return u.writer
}

func (u *basicUI) ErrWriter() io.Writer {
	return u.errWriter
}

type coloredUI struct {
	UI
}

// NewColored wraps provided ui with coloredUI.
// If ui is already colored, NewColored returns it as it is.
func NewColored(ui UI) UI {
	if _, ok := ui.(*coloredUI); ok {
		return ui
	}
	return &coloredUI{ui}
}

// Info is the same as UI.Info, but the output is decorated with green.
func (u *coloredUI) Info(s string) {
	u.UI.Info(color.GreenString(s))
}

// Warn is the same as UI.Warn, but the output is decorated with yellow.
func (u *coloredUI) Warn(s string) {
	u.UI.Warn(color.YellowString(s))
}

// Error is the same as UI.Error, but the output is decorated with red.
func (u *coloredUI) Error(s string) {
	u.UI.Error(color.RedString(s))
}
