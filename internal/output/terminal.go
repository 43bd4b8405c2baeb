package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SupportsColors reports whether colored output should be used on w.
// NO_COLOR disables colors and FORCE_COLOR enables them regardless of w.
func SupportsColors(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !IsTerminal(w) {
		return false
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
