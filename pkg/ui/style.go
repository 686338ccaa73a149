package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	UnselectedMessage lipgloss.Style
	SelectedMessage   lipgloss.Style
	FocusedMessage    lipgloss.Style
	SystemMessage     lipgloss.Style

	Header         lipgloss.Style
	Status         lipgloss.Style
	BranchMarker   lipgloss.Style
	Loader         lipgloss.Style
	ErrorBanner    lipgloss.Style
	BranchPicker   lipgloss.Style
	SelectedBranch lipgloss.Style
}

type BorderColors struct {
	Unselected string
	Selected   string
	Focused    string
	Error      string
}

func DefaultStyles() *Style {
	lightModeColors := BorderColors{
		Unselected: "#CCCCCC",
		Selected:   "#FFB6C1", // Light pink
		Focused:    "#FFFF99", // Light yellow
		Error:      "#D7263D",
	}

	darkModeColors := BorderColors{
		Unselected: "#444444",
		Selected:   "#DD7090",
		Focused:    "#DDDD77",
		Error:      "#FF5F5F",
	}

	unselected := lipgloss.AdaptiveColor{Light: lightModeColors.Unselected, Dark: darkModeColors.Unselected}
	selected := lipgloss.AdaptiveColor{Light: lightModeColors.Selected, Dark: darkModeColors.Selected}
	errColor := lipgloss.AdaptiveColor{Light: lightModeColors.Error, Dark: darkModeColors.Error}

	return &Style{
		UnselectedMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(unselected),
		SelectedMessage: lipgloss.NewStyle().Border(lipgloss.ThickBorder()).
			Padding(0, 1).
			BorderForeground(selected),
		FocusedMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(lipgloss.AdaptiveColor{
				Light: lightModeColors.Focused,
				Dark:  darkModeColors.Focused,
			}),
		SystemMessage: lipgloss.NewStyle().Border(lipgloss.HiddenBorder()).
			Padding(0, 1).
			Faint(true),

		Header:       lipgloss.NewStyle().Bold(true),
		Status:       lipgloss.NewStyle().Faint(true),
		BranchMarker: lipgloss.NewStyle().Foreground(selected),
		Loader:       lipgloss.NewStyle().Foreground(selected),
		ErrorBanner: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			BorderForeground(errColor),
		BranchPicker: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			BorderForeground(selected),
		SelectedBranch: lipgloss.NewStyle().Bold(true).Foreground(selected),
	}
}
