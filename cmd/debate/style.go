package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stageStyle  = lipgloss.NewStyle().Width(14)
)

func printHeader(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf(format, args...)))
}

func printStageDone(w io.Writer, stage string, step int, d time.Duration) {
	fmt.Fprintf(w, "%s %s %s\n",
		okStyle.Render("✓"),
		stageStyle.Render(stage),
		mutedStyle.Render(fmt.Sprintf("step %d, %s", step, d.Round(time.Millisecond))))
}

func printFailure(w io.Writer, stage string, err error) {
	if stage == "" {
		fmt.Fprintf(w, "%s %v\n", failStyle.Render("✗"), err)
		return
	}
	fmt.Fprintf(w, "%s %s %v\n", failStyle.Render("✗"), stageStyle.Render(stage), err)
}

func printHint(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf(format, args...)))
}
