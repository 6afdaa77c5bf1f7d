package infra

import (
	"runtime"

	"github.com/gookit/color"
)

// Build metadata, overridden at link time.
var (
	Version   = "dev"
	BuildDate = "unknown"
	Arch      = runtime.GOARCH
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)

// Status prints an operator-facing progress line in the usual "-> message" form.
func Status(format string, a ...any) {
	colArrow.Print("-> ")
	colSuccess.Printf(format+"\n", a...)
}

// Warnf prints an operator-facing warning line.
func Warnf(format string, a ...any) {
	colArrow.Print("-> ")
	colWarn.Printf(format+"\n", a...)
}

// Errorf prints an operator-facing error line. It does not construct an error.
func Errorf(format string, a ...any) {
	colArrow.Print("-> ")
	colError.Printf(format+"\n", a...)
}

// Infof prints a plain informational line.
func Infof(format string, a ...any) {
	colInfo.Printf(format+"\n", a...)
}
