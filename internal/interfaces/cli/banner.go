package cli

import (
	"fmt"
	"runtime"

	"github.com/charmbracelet/lipgloss"
)

const appVersion = "0.1.0"

// brand colors
var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorDim     = lipgloss.Color("#4E4E4E")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")
)

// Logo lines in a clean block font, no box-drawing corners
var logoLines = []string{
	"  █████ ██  ██  ████  ██████  █████  ████  ██████ ██████",
	" ██     ██  ██ ██  ██   ██   ██     ██  ██ ██     ██    ",
	" ██     ██████ ██████   ██    ████  ██████ █████  █████ ",
	" ██     ██  ██ ██  ██   ██       ██ ██  ██ ██     ██    ",
	"  █████ ██  ██ ██  ██   ██   █████  ██  ██ ██     ██████",
}

// Gradient colors top→bottom (cyan → blue → violet)
var logoGradient = []lipgloss.Color{
	lipgloss.Color("#00FFFF"),
	lipgloss.Color("#00CFFF"),
	lipgloss.Color("#009FFF"),
	lipgloss.Color("#006FFF"),
	lipgloss.Color("#5F5FFF"),
}

// BannerInfo carries the session facts shown in the welcome banner.
type BannerInfo struct {
	Model     string
	CtxWindow int
	ServerURL string
}

// RenderBanner returns the styled welcome banner with gradient logo
func RenderBanner(info BannerInfo, width int) string {
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)
	tipStyle := lipgloss.NewStyle().Foreground(colorDim)
	greenStyle := lipgloss.NewStyle().Foreground(colorGreen)
	versionStyle := lipgloss.NewStyle().Foreground(colorDimCyan)

	// Render gradient logo
	var logo string
	if width >= 58 {
		for i, line := range logoLines {
			c := logoGradient[i%len(logoGradient)]
			logo += lipgloss.NewStyle().Foreground(c).Bold(true).Render(line) + "\n"
		}
	} else {
		// Compact fallback
		logo = lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render(" ◇  C H A T S A F E") + "\n"
	}

	ver := versionStyle.Render(fmt.Sprintf("  v%s", appVersion))

	modelLine := fmt.Sprintf("  %s %s",
		labelStyle.Render("Model"),
		valueStyle.Render(info.Model),
	)
	ctxLine := fmt.Sprintf("  %s %s",
		labelStyle.Render("Ctx  "),
		greenStyle.Render(fmt.Sprintf("%s tokens", fmtTokens(info.CtxWindow))),
	)
	hostLine := fmt.Sprintf("  %s %s",
		labelStyle.Render("Host "),
		valueStyle.Render(info.ServerURL),
	)
	envLine := fmt.Sprintf("  %s %s/%s",
		labelStyle.Render("Env  "),
		labelStyle.Render(runtime.GOOS),
		labelStyle.Render(runtime.GOARCH),
	)

	tips := tipStyle.Render("  Enter to send · /help for commands · Ctrl+C to interrupt")

	return fmt.Sprintf("\n%s%s\n\n%s\n%s\n%s\n%s\n\n%s\n",
		logo, ver,
		modelLine, ctxLine, hostLine, envLine,
		tips,
	)
}
