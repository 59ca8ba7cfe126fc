// Package output renders command results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format selects how Print renders data.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json, yaml or yml. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer writes results and status lines to one writer.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter returns a Printer with color forced on or off.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, format: format, color: color}
}

// ForWriter returns a Printer that colors status lines only when out is a
// terminal and NO_COLOR is unset.
func ForWriter(out io.Writer, format Format) *Printer {
	return NewPrinter(out, format, isTerminal(out) && os.Getenv("NO_COLOR") == "")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *Printer) Format() Format     { return p.format }
func (p *Printer) Writer() io.Writer  { return p.out }
func (p *Printer) ColorEnabled() bool { return p.color }

// Structured reports whether output is machine readable.
func (p *Printer) Structured() bool { return p.format != FormatTable }

// Print renders data in the configured format. In table format data must
// implement TableRenderer; anything else falls back to YAML.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if r, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return PrintYAML(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Heading prints a section title preceded by a blank line.
func (p *Printer) Heading(title string) {
	p.line("\n", "1", title)
}

func (p *Printer) Success(msg string) { p.line("", "32", msg) }
func (p *Printer) Error(msg string)   { p.line("", "31", msg) }
func (p *Printer) Warning(msg string) { p.line("", "33", msg) }

// line writes msg with an optional SGR code when color is on.
func (p *Printer) line(prefix, sgr, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "%s\033[%sm%s\033[0m\n", prefix, sgr, msg)
		return
	}
	_, _ = fmt.Fprintf(p.out, "%s%s\n", prefix, msg)
}
