package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders story text as markdown for
// the terminal, so authors can use emphasis and lists in their lines.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(72),
	)
	if err != nil {
		return func(s string) (string, error) { return s, nil }
	}

	return func(markdown string) (string, error) {
		out, err := r.Render(markdown)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(out, "\n") + "\n", nil
	}
}
