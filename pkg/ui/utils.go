package ui

import (
	"fmt"
	"strings"

	"github.com/muesli/reflow/wordwrap"
)

func wrapWords(s string, width int) string {
	if width <= 0 {
		return s
	}
	w := wordwrap.NewWriter(width)
	_, _ = fmt.Fprint(w, s)
	_ = w.Close()
	return strings.TrimRight(w.String(), "\n")
}

// ThinkingLabel formats the estimated reasoning time of an answer.
func ThinkingLabel(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	if seconds < 1 {
		return "thought for <1s"
	}
	return fmt.Sprintf("thought for %.1fs", seconds)
}
