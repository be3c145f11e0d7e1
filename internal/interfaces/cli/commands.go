package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// commandTimeout bounds slash commands that query the gateway.
const commandTimeout = 5 * time.Second

// SlashCommand represents a parsed slash command
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlashCommand parses a slash command from user input
func ParseSlashCommand(input string) *SlashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	parts := strings.Fields(input)
	name := strings.TrimPrefix(parts[0], "/")
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &SlashCommand{Name: name, Args: args}
}

// CommandResult is the output of executing a slash command
type CommandResult struct {
	Output  string
	IsQuit  bool
	IsReset bool
}

// ExecuteCommand handles slash commands and returns the result
func ExecuteCommand(cmd *SlashCommand, st *replState) CommandResult {
	switch cmd.Name {
	case "help", "h":
		return CommandResult{Output: renderHelp()}
	case "exit", "quit", "q":
		return CommandResult{IsQuit: true}
	case "new", "reset", "clear":
		return CommandResult{Output: "✨ Conversation cleared", IsReset: true}
	case "model", "m":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: fmt.Sprintf("Current model: %s\nUsage: /model <model-id>", st.model)}
		}
		return st.switchModel(cmd.Args[0])
	case "models":
		return CommandResult{Output: st.renderModels()}
	case "status", "s":
		return CommandResult{Output: st.renderStatus()}
	case "version":
		return CommandResult{Output: fmt.Sprintf("chatsafe v%s", appVersion)}
	default:
		return CommandResult{Output: fmt.Sprintf("Unknown command: /%s  (see /help)", cmd.Name)}
	}
}

// switchModel validates the id against the gateway catalog before
// switching the session to it.
func (st *replState) switchModel(id string) CommandResult {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	models, err := st.client.Models(ctx)
	if err != nil {
		return CommandResult{Output: st.renderer.RenderError(fmt.Sprintf("cannot reach gateway: %v", err))}
	}

	for _, m := range models {
		if m.ID == id {
			st.model = id
			st.ctxWindow = m.ContextWindow
			ok := lipgloss.NewStyle().Foreground(colorGreen).Render("✓")
			return CommandResult{Output: fmt.Sprintf("%s Switched to %s", ok, id)}
		}
	}

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return CommandResult{Output: fmt.Sprintf("Unknown model: %s\nAvailable: %s", id, strings.Join(ids, ", "))}
}

func renderHelp() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	cmdStyle := lipgloss.NewStyle().Foreground(colorGreen)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	cmds := []struct {
		name string
		desc string
	}{
		{"/help", "Show this help"},
		{"/model [id]", "Show or switch the active model"},
		{"/models", "List models the gateway serves"},
		{"/new", "Clear the conversation"},
		{"/status", "Gateway health and session info"},
		{"/version", "Version info"},
		{"/exit", "Quit"},
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ Commands"))
	sb.WriteString("\n\n")

	for _, c := range cmds {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			cmdStyle.Render(fmt.Sprintf("%-16s", c.name)),
			descStyle.Render(c.desc),
		))
	}

	return sb.String()
}

func (st *replState) renderModels() string {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	models, err := st.client.Models(ctx)
	if err != nil {
		return st.renderer.RenderError(fmt.Sprintf("cannot reach gateway: %v", err))
	}

	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	idStyle := lipgloss.NewStyle().Foreground(colorWhite)
	metaStyle := lipgloss.NewStyle().Foreground(colorGray)
	markStyle := lipgloss.NewStyle().Foreground(colorGreen)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ Models"))
	sb.WriteString("\n\n")

	for _, m := range models {
		mark := " "
		if m.ID == st.model {
			mark = markStyle.Render("→")
		}
		meta := fmt.Sprintf("%s · %s ctx", m.Name, fmtTokens(m.ContextWindow))
		if m.Default {
			meta += " · default"
		}
		sb.WriteString(fmt.Sprintf("  %s %s  %s\n",
			mark,
			idStyle.Render(fmt.Sprintf("%-36s", m.ID)),
			metaStyle.Render(meta),
		))
	}

	return sb.String()
}

func (st *replState) renderStatus() string {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	health, err := st.client.Health(ctx)
	if err != nil {
		return st.renderer.RenderError(fmt.Sprintf("cannot reach gateway: %v", err))
	}

	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)

	statusColor := colorGreen
	switch health.Status {
	case "degraded":
		statusColor = colorYellow
	case "unhealthy":
		statusColor = colorRed
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ Status"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("Gateway"), lipgloss.NewStyle().Foreground(statusColor).Render(health.Status)))
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("Version"), valueStyle.Render(health.Version)))
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("Uptime "), valueStyle.Render(fmtUptime(health.UptimeSeconds))))
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("Model  "), valueStyle.Render(st.model)))
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("Host   "), valueStyle.Render(st.serverURL)))

	return sb.String()
}
