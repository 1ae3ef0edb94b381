package cmd

import (
	"io"
	"os"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/colorprofile"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF5FD2"))
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#6B50FF"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#12C78F"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EB4268"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#858392"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6B50FF")).
			Padding(0, 1)
)

// styled downsamples styled output to what w supports. Pipes and files
// get plain text.
func styled(w io.Writer) io.Writer {
	return colorprofile.NewWriter(w, os.Environ())
}

func check(ok bool) string {
	if ok {
		return okStyle.Render("✓")
	}
	return errStyle.Render("✗")
}
