// Package output renders command-line results.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ANSI color codes
const (
	reset = "\033[0m"

	FgRed    = 31
	FgGreen  = 32
	FgYellow = 33
	FgCyan   = 36
	FgWhite  = 37

	Bold = 1
)

// Color represents a text color configuration
type Color struct {
	params []int
}

// NewColor creates a new Color with the given attributes
func NewColor(attrs ...int) *Color {
	return &Color{params: attrs}
}

// Sprint wraps s in the color's escape sequence.
func (c *Color) Sprint(s string) string {
	if len(c.params) == 0 {
		return s
	}
	codes := make([]string, len(c.params))
	for i, p := range c.params {
		codes[i] = fmt.Sprint(p)
	}
	return "\033[" + strings.Join(codes, ";") + "m" + s + reset
}

var (
	successColor = NewColor(FgGreen, Bold)
	errorColor   = NewColor(FgRed, Bold)
	infoColor    = NewColor(FgCyan)
	warnColor    = NewColor(FgYellow)
)

// Printer writes human and machine readable output. Colors are only emitted
// when Color is set.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Color bool
}

func (p *Printer) paint(c *Color, s string) string {
	if !p.Color {
		return s
	}
	return c.Sprint(s)
}

func (p *Printer) Success(format string, a ...interface{}) {
	fmt.Fprintln(p.Out, p.paint(successColor, "✓ "+fmt.Sprintf(format, a...)))
}

func (p *Printer) Error(format string, a ...interface{}) {
	fmt.Fprintln(p.Err, p.paint(errorColor, "✗ "+fmt.Sprintf(format, a...)))
}

func (p *Printer) Info(format string, a ...interface{}) {
	fmt.Fprintln(p.Out, p.paint(infoColor, fmt.Sprintf(format, a...)))
}

func (p *Printer) Warn(format string, a ...interface{}) {
	fmt.Fprintln(p.Out, p.paint(warnColor, "⚠ "+fmt.Sprintf(format, a...)))
}

// Severity colors an alert severity.
func (p *Printer) Severity(severity string) string {
	switch severity {
	case "critical":
		return p.paint(errorColor, severity)
	case "warn":
		return p.paint(warnColor, severity)
	default:
		return p.paint(infoColor, severity)
	}
}

func (p *Printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) YAML(v interface{}) error {
	enc := yaml.NewEncoder(p.Out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers []string) *Table {
	return &Table{
		headers: headers,
		rows:    [][]string{},
	}
}

func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

// Render writes the table to w. Widths ignore ANSI escapes so colored cells
// stay aligned.
func (t *Table) Render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := visibleLen(cell); i < len(widths) && n > widths[i] {
				widths[i] = n
			}
		}
	}

	for i, header := range t.headers {
		fmt.Fprint(w, pad(header, widths[i]))
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprint(w, pad(cell, widths[i]))
			}
		}
		fmt.Fprintln(w)
	}
}

func pad(cell string, width int) string {
	return cell + strings.Repeat(" ", width-visibleLen(cell)) + "  "
}

func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\033':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			n++
		}
	}
	return n
}
