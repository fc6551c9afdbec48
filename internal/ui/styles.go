// Package ui renders CLI output markers.
//
// Colours follow the output's terminal profile: when the writer is not a
// terminal, or NO_COLOR is set, everything renders as plain text.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	mu       sync.RWMutex
	renderer = newRenderer(os.Stdout)
)

// Palette.
var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#7BD88F"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFCB6B"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF6B6B"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#82AAFF"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#888888"}
)

func newRenderer(w io.Writer) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	if termenv.EnvNoColor() {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

// SetOutput binds rendering to w's terminal capabilities.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	renderer = newRenderer(w)
}

func style(c lipgloss.TerminalColor) lipgloss.Style {
	mu.RLock()
	defer mu.RUnlock()
	return renderer.NewStyle().Foreground(c)
}

// RenderPass renders a success marker or text.
func RenderPass(s string) string { return style(colorPass).Render(s) }

// RenderWarn renders a warning marker or text.
func RenderWarn(s string) string { return style(colorWarn).Render(s) }

// RenderFail renders a failure marker or text.
func RenderFail(s string) string { return style(colorFail).Render(s) }

// RenderAccent renders highlighted text such as ids and paths.
func RenderAccent(s string) string { return style(colorAccent).Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return style(colorMuted).Render(s) }

// Status returns the marker for a pass status ("ok" or "failed").
func Status(status string) string {
	if status == "ok" {
		return RenderPass("✓")
	}
	return RenderFail("✗")
}

// Pairs writes aligned "key: value" lines.
func Pairs(w io.Writer, pairs ...[2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		pad := strings.Repeat(" ", width-len(p[0]))
		fmt.Fprintf(w, "  %s%s  %s\n", RenderMuted(p[0]+":"), pad, p[1])
	}
}
