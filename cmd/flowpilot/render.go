package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/tracker"
	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func statusStyle(status models.FlowStatus) lipgloss.Style {
	switch status {
	case models.FlowStatusCompleted:
		return successStyle
	case models.FlowStatusFailed, models.FlowStatusCancelled:
		return errorStyle
	case models.FlowStatusAwaitingUser, models.FlowStatusPaused:
		return warnStyle
	default:
		return mutedStyle
	}
}

// renderState prints one progress line, followed by the error and suggestions of a failed flow.
func renderState(w io.Writer, state tracker.State) {
	_, _ = fmt.Fprintf(w, "%s %s %s\n",
		headerStyle.Render(state.FlowID),
		statusStyle(state.Status).Render(string(state.Status)),
		mutedStyle.Render(fmt.Sprintf("%d/%d steps (%d%%)",
			state.Progress.Completed, state.Progress.Total, state.Progress.Percent())),
	)

	if state.LastError != "" {
		_, _ = fmt.Fprintln(w, errorStyle.Render("error: ")+state.LastError)
	}

	for _, suggestion := range state.Suggestions {
		_, _ = fmt.Fprintln(w, mutedStyle.Render("  - ")+suggestion)
	}
}

func renderFlows(w io.Writer, flows []*models.Flow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Created"})

	for _, flow := range flows {
		tw.AppendRow(table.Row{
			flow.ID,
			truncate(flow.Title, 40),
			flow.Status,
			fmt.Sprintf("%d/%d", flow.CompletedSteps, flow.TotalSteps),
			flow.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	tw.Render()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return strings.TrimSpace(s[:limit-3]) + "..."
}
