package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the pitch banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text, color string
	}{
		{"        _ _       _     ", "#34d399"},
		{"  _ __ (_) |_ ___| |__  ", "#2dd4bf"},
		{" | '_ \\| | __/ __| '_ \\ ", "#22d3ee"},
		{" | |_) | | || (__| | | |", "#38bdf8"},
		{" | .__/|_|\\__\\___|_| |_|", "#60a5fa"},
		{" |_|                    ", "#818cf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	if v := strings.TrimSpace(version); v != "" {
		fmt.Fprintln(w, termenv.String("  v"+v).Faint())
	}
	fmt.Fprintln(w)
}
