package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/toverwu-qaq/opentypeless/internal/capsule"
)

var barGlyphs = []rune("▁▂▃▄▅▆▇█")

var (
	capsuleStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	recordingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	busyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	menuStyle      = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func (m Model) View() string {
	sections := []string{capsuleStyle.Render(renderCapsule(m.view, m.spinner.View()))}

	if m.view.MenuVisible {
		sections = append(sections, menuStyle.Render(m.renderMenu()))
	}
	if m.notice != "" {
		sections = append(sections, dimStyle.Render(m.notice))
	}
	sections = append(sections, dimStyle.Render(m.footer()))

	body := lipgloss.JoinVertical(lipgloss.Left, sections...)
	if m.width == 0 || m.height == 0 {
		return body
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Bottom, body)
}

func renderCapsule(view capsule.View, spin string) string {
	switch view.Variant {
	case capsule.VariantRecording:
		line := recordingStyle.Render("●") + " " + renderBars(view.Bars) + " " + view.Duration
		if view.Cancelable {
			line += dimStyle.Render("  ✕")
		}
		return line
	case capsule.VariantTranscribing, capsule.VariantPolishing:
		line := spin + " " + busyStyle.Render(view.Text)
		if view.Cancelable {
			line += dimStyle.Render("  ✕")
		}
		return line
	case capsule.VariantOutputting:
		return doneStyle.Render("✓ " + view.Text)
	case capsule.VariantError:
		return errorStyle.Render("! " + view.Text)
	default:
		return dimStyle.Render("🎙")
	}
}

// renderBars maps each bar height onto a block glyph.
func renderBars(bars []capsule.Bar) string {
	var b strings.Builder
	span := capsule.BarMaxHeight - capsule.BarMinHeight
	for _, bar := range bars {
		level := (bar.Height - capsule.BarMinHeight) / span
		idx := int(level * float64(len(barGlyphs)-1))
		idx = max(0, min(idx, len(barGlyphs)-1))
		b.WriteRune(barGlyphs[idx])
	}
	return b.String()
}

func (m Model) renderMenu() string {
	lines := make([]string, 0, len(m.items)+2)
	for i, item := range m.items {
		if item.SeparatorBefore && i > 0 {
			lines = append(lines, dimStyle.Render("───"))
		}
		lines = append(lines, fmt.Sprintf("%d  %s", i+1, item.Label))
	}
	return strings.Join(lines, "\n")
}

func (m Model) footer() string {
	hint := "click/space: record  right-click/m: menu  esc/x: cancel  q: quit"
	if m.window == nil {
		return hint
	}
	size, pos := m.window.Geometry()
	return fmt.Sprintf("%s  [%dx%d @ %d,%d]", hint, size.Width, size.Height, pos.X, pos.Y)
}
