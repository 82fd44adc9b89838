// Package logger provides the logger used across grdisco.
// Logs are discarded until SetOutput is called, which happens when --verbose is passed.
package logger

import (
	"fmt"
	"io"
	"log"
)

var defaultLogger = newDefaultLogger()

func newDefaultLogger() *log.Logger {
	return log.New(io.Discard, "grdisco: ", 0)
}

// SetOutput changes the log destination to w.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// SetPrefix changes the log prefix.
func SetPrefix(p string) {
	defaultLogger.SetPrefix(p)
}

// Reset restores the logger to its initial state.
func Reset() {
	defaultLogger = newDefaultLogger()
}

func Println(v ...interface{}) {
	defaultLogger.Println(v...)
}

func Printf(format string, v ...interface{}) {
	defaultLogger.Printf(format, v...)
}

// Scriptln calls f and logs the returned values only if the output is enabled.
// It is useful when building log values is expensive.
func Scriptln(f func() []interface{}) {
	if defaultLogger.Writer() == io.Discard {
		return
	}
	defaultLogger.Output(2, fmt.Sprintln(f()...))
}
