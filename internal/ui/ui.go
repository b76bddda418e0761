// Package ui renders operator-facing output: banners, panels, step
// headers, status lines and tables. Diagnostics go through logrus instead.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
)

// Printer writes styled output to one writer. Colour is used only when
// the writer is a terminal.
type Printer struct {
	out io.Writer
	r   *lipgloss.Renderer

	title   lipgloss.Style
	subtle  lipgloss.Style
	step    lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	panel   lipgloss.Style
	keyName lipgloss.Style
}

// New creates a Printer for out.
func New(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:     out,
		r:       r,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		subtle:  r.NewStyle().Foreground(lipgloss.Color("240")),
		step:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		fail:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		panel:   r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
		keyName: r.NewStyle().Bold(true),
	}
}

// Stdout is a Printer on the process stdout.
func Stdout() *Printer {
	return New(os.Stdout)
}

// Banner prints a boxed title with an optional subtitle.
func (p *Printer) Banner(title, subtitle string) {
	body := p.title.Render(title)
	if subtitle != "" {
		body += "\n" + p.subtle.Render(subtitle)
	}
	fmt.Fprintln(p.out, p.panel.Render(body))
	fmt.Fprintln(p.out)
}

// Panel prints a bordered block with a heading.
func (p *Printer) Panel(title string, lines ...string) {
	body := p.keyName.Render(title)
	if len(lines) > 0 {
		body += "\n\n" + strings.Join(lines, "\n")
	}
	fmt.Fprintln(p.out, p.panel.Render(body))
}

// Step prints a numbered workflow step header.
func (p *Printer) Step(n, total int, title string) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.step.Render(fmt.Sprintf("[%d/%d] %s", n, total, title)))
}

// Success prints a passed line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.ok.Render("✓ ")+fmt.Sprintf(format, args...))
}

// Warn prints an advisory line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.out, p.warn.Render("! ")+fmt.Sprintf(format, args...))
}

// Fail prints a failure line.
func (p *Printer) Fail(format string, args ...any) {
	fmt.Fprintln(p.out, p.fail.Render("✗ ")+fmt.Sprintf(format, args...))
}

// Info prints a plain line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Subtle prints a dimmed line.
func (p *Printer) Subtle(format string, args ...any) {
	fmt.Fprintln(p.out, p.subtle.Render(fmt.Sprintf(format, args...)))
}

// Badge renders a status word coloured by severity.
func (p *Printer) Badge(status string) string {
	switch strings.ToUpper(status) {
	case "PASS", "OK", "HEALTHY":
		return p.ok.Render(status)
	case "WARN", "WARNING":
		return p.warn.Render(status)
	default:
		return p.fail.Render(status)
	}
}

// KeyValues prints aligned "key: value" pairs.
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		key := p.keyName.Render(fmt.Sprintf("%-*s", width, kv[0]))
		fmt.Fprintf(p.out, "  %s  %s\n", key, kv[1])
	}
}

// Table prints rows under header.
func (p *Printer) Table(header []string, rows [][]string) {
	table := tablewriter.NewWriter(p.out)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}
