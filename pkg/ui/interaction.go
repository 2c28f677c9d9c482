package ui

import (
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// ErrCancelled is returned when the operator leaves a prompt with esc or ctrl+c.
var ErrCancelled = errors.New("cancelled")

// ErrNoTerminal is returned by interactive widgets without a terminal.
var ErrNoTerminal = errors.New("an interactive terminal is required")

// Themes accepted by Configure.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
	ThemeNone  = "none"
)

// isTerminal is replaced in tests.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// IsInteractive reports whether the process can talk to an operator.
// NO_INTERACTION, CI and TERM=dumb turn interaction off.
func IsInteractive() bool {
	if envTruthy("NO_INTERACTION") || envTruthy("CI") {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	return isTerminal()
}

// Configure sets the color profile for theme. Output that is not a
// terminal, NO_COLOR and theme "none" all disable colors.
func Configure(theme string) {
	if theme == ThemeNone || os.Getenv("NO_COLOR") != "" || !isTerminal() {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ColorProfile())
	switch theme {
	case ThemeDark:
		lipgloss.SetHasDarkBackground(true)
	case ThemeLight:
		lipgloss.SetHasDarkBackground(false)
	default:
		lipgloss.SetHasDarkBackground(termenv.HasDarkBackground())
	}
}

// ColorEnabled reports whether styled output carries ANSI colors.
func ColorEnabled() bool {
	return lipgloss.ColorProfile() != termenv.Ascii
}

func envTruthy(key string) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
