// Package ui renders command output with lipgloss styling.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ortler/ortler/internal/journal"
	"github.com/ortler/ortler/internal/syncer"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// RenderReport formats a finished sync run for the terminal.
func RenderReport(r *syncer.Report) string {
	var b strings.Builder

	head := fmt.Sprintf("Sync %s", r.Mode)
	if r.DryRun {
		head += warnStyle.Render(" (dry run)")
	}
	b.WriteString(titleStyle.Render(head))
	b.WriteString("\n")

	row := func(label string, n int) {
		if n == 0 {
			return
		}
		b.WriteString(fmt.Sprintf("  %s %d\n", labelStyle.Render(label+":"), n))
	}
	row("new submissions", r.NewSubmissions)
	row("modified submissions", r.ModifiedSubmissions)
	row("profiles updated", r.ProfilesUpdated)
	row("profiles with new publications", r.ProfilesWithNewPubs)
	row("groups changed", r.GroupsChanged)
	row("reduced loads", r.ReducedLoads)
	row("assignments cached", r.AssignmentsCached)
	row("reviews cached", r.ReviewsCached)
	row("preferred emails patched", r.PreferredEmailsPatched)
	row("desk rejection authors", r.DeskRejectionAuthors)
	row("reversed withdrawals", r.ReversedWithdrawals)
	row("reversed desk rejections", r.ReversedDeskRejections)
	row("stage responses", r.StageResponses)

	if r.ProfilesFailed > 0 {
		b.WriteString("  ")
		b.WriteString(errStyle.Render(fmt.Sprintf("profiles failed: %d", r.ProfilesFailed)))
		b.WriteString("\n")
	}

	duration := r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)
	b.WriteString(fmt.Sprintf("  %s %s, watermark %s\n",
		labelStyle.Render("took"), duration, formatWatermark(r.Watermark)))
	return b.String()
}

// RenderHistory formats journal entries newest first.
func RenderHistory(entries []journal.Entry) string {
	if len(entries) == 0 {
		return labelStyle.Render("no sync runs recorded") + "\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-20s %-28s %6s %6s %6s",
		"started", "mode", "new", "mod", "prof")))
	b.WriteString("\n")

	for _, e := range entries {
		mode := e.Mode
		if e.DryRun {
			mode += " (dry)"
		}
		line := fmt.Sprintf("%-20s %-28s %6d %6d %6d",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			mode, e.NewSubmissions, e.ModifiedSubmissions, e.ProfilesUpdated)
		if e.ProfilesFailed > 0 {
			line += " " + errStyle.Render(fmt.Sprintf("(%d failed)", e.ProfilesFailed))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Success wraps a message in the success style.
func Success(msg string) string {
	return okStyle.Render(msg)
}

// Warning wraps a message in the warning style.
func Warning(msg string) string {
	return warnStyle.Render(msg)
}

func formatWatermark(ms int64) string {
	if ms == 0 {
		return "unset"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
