package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/summary"
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	faintStyle      = lipgloss.NewStyle().Faint(true)
	receivableStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	payableStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	panelStyle      = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// segmentColors cycles over receivable segments; payable is always red.
var segmentColors = []lipgloss.Color{"42", "35", "79", "115", "244"}

func signedAmount(value int64) string {
	switch {
	case value > 0:
		return receivableStyle.Render(money.Display(value))
	case value < 0:
		return payableStyle.Render("-" + money.Display(value))
	default:
		return faintStyle.Render(money.Display(0))
	}
}

func renderParties(parties []models.Party) string {
	if len(parties) == 0 {
		return faintStyle.Render("No parties yet.")
	}
	nameWidth := 4
	for _, p := range parties {
		nameWidth = max(nameWidth, lipgloss.Width(p.Name))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf("%-*s  %-8s  %-7s  %s", nameWidth, "Name", "Kind", "Status", "Balance")))
	for _, p := range parties {
		fmt.Fprintf(&b, "%-*s  %-8s  %-7s  %s  %s\n", nameWidth, p.Name, p.Kind, p.Status, signedAmount(p.Balance), faintStyle.Render(p.ID))
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderTransactions(txns []models.Transaction) string {
	if len(txns) == 0 {
		return faintStyle.Render("No transactions.")
	}
	var b strings.Builder
	for _, t := range txns {
		desc := ""
		if t.Description != nil {
			desc = *t.Description
		}
		fmt.Fprintf(&b, "%s  %-4s  %s  %s\n", t.Date.Format("02 Jan 2006"), t.Direction, signedAmount(t.Effect()), faintStyle.Render(desc))
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// segmentCells converts width fractions into whole cells that add up to
// total. Every non-empty segment gets at least one cell.
func segmentCells(segments []summary.Segment, total int) []int {
	cells := make([]int, len(segments))
	if total <= 0 || len(segments) == 0 {
		return cells
	}
	used := 0
	for i, seg := range segments {
		n := int(seg.Width.Mul(decimal.NewFromInt(int64(total))).Round(0).IntPart())
		if n < 1 && seg.Amount != 0 {
			n = 1
		}
		cells[i] = n
		used += n
	}
	// Absorb rounding drift in the widest segment.
	widest := 0
	for i := range cells {
		if cells[i] > cells[widest] {
			widest = i
		}
	}
	cells[widest] += total - used
	if cells[widest] < 0 {
		cells[widest] = 0
	}
	return cells
}

func renderSummary(s summary.Summary, width int) string {
	if s.Empty {
		return faintStyle.Render("Nothing outstanding.")
	}
	cells := segmentCells(s.Segments, width)
	var bar, legend strings.Builder
	colour := 0
	for i, seg := range s.Segments {
		style := payableStyle
		if seg.Kind != summary.SegmentPayable {
			style = lipgloss.NewStyle().Foreground(segmentColors[colour%len(segmentColors)])
			colour++
		}
		bar.WriteString(style.Render(strings.Repeat("█", cells[i])))
		fmt.Fprintf(&legend, "%s %s %s (%s%%)\n", style.Render("■"), seg.Label, money.Display(seg.Amount), seg.Share.Mul(decimal.NewFromInt(100)).StringFixed(0))
	}
	header := fmt.Sprintf("%s %s   %s %s   %s %s",
		titleStyle.Render("To receive"), receivableStyle.Render(money.Display(s.TotalReceivable)),
		titleStyle.Render("To pay"), payableStyle.Render(money.Display(s.TotalPayable)),
		titleStyle.Render("Net"), signedAmount(s.Net))
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "", bar.String(), "", strings.TrimRight(legend.String(), "\n")))
}
