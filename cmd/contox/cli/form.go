package cli

import (
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// isAccessibleMode reports whether ACCESSIBLE is set.
func isAccessibleMode() bool {
	return os.Getenv("ACCESSIBLE") != ""
}

// isInteractive reports whether stdin is a terminal, or accessible mode is
// on and prompts read plain lines from stdin.
func isInteractive() bool {
	return isAccessibleMode() || term.IsTerminal(int(os.Stdin.Fd()))
}

// NewAccessibleForm builds a huh form that honors ACCESSIBLE.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithAccessible(isAccessibleMode())
}
