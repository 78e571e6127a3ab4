package ui

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	envNoColor = "NO_COLOR"
	envCI      = "CI"
	envTerm    = "TERM"
)

type interactionConfig struct {
	initialized bool
	colorful    bool
}

var interactionState struct {
	mu  sync.RWMutex
	cfg interactionConfig
}

// ConfigureOutput detects whether clusterkitctl is writing to an
// interactive terminal and sets lipgloss's color profile accordingly — a
// CI pipe or NO_COLOR-set shell gets Ascii, a real terminal gets its
// detected profile (teacher: cmd/ployz/ui's ConfigureInteraction, adapted
// for an operator CLI with no interactive prompts of its own).
func ConfigureOutput(noColor bool) {
	colorful := detectColorfulOutput(noColor)

	interactionState.mu.Lock()
	interactionState.cfg = interactionConfig{initialized: true, colorful: colorful}
	interactionState.mu.Unlock()

	if colorful {
		lipgloss.SetColorProfile(termenv.ColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// IsColorful reports whether styled output was most recently configured as
// colorful, lazily detecting it on first call.
func IsColorful() bool {
	interactionState.mu.RLock()
	if interactionState.cfg.initialized {
		colorful := interactionState.cfg.colorful
		interactionState.mu.RUnlock()
		return colorful
	}
	interactionState.mu.RUnlock()

	ConfigureOutput(false)

	interactionState.mu.RLock()
	colorful := interactionState.cfg.colorful
	interactionState.mu.RUnlock()
	return colorful
}

func detectColorfulOutput(noColor bool) bool {
	if noColor {
		return false
	}
	if envTruthy(envNoColor) || envTruthy(envCI) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(envTerm)), "dumb") {
		return false
	}
	return stdoutIsTerminal()
}

func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func envTruthy(key string) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
