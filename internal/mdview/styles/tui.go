package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"

	"github.com/olksdr/minidump-viewer/internal/report"
)

var (
	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)

	Menu = lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)

	Selected = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Spinner  = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	Error    = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Coral.Hex())).Bold(true)
)

var methodColors = map[report.UnwindMethod]string{
	report.UnwindOk:       charmtone.Guac.Hex(),
	report.UnwindFallback: charmtone.Zest.Hex(),
	report.UnwindFailed:   charmtone.Coral.Hex(),
}

// Method renders an unwinding method as a colored badge.
func Method(m report.UnwindMethod) string {
	c, ok := methodColors[m]
	if !ok {
		return string(m)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Render(string(m))
}
