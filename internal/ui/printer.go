package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/discovery"
)

// Printer writes styled components to a writer. Commands print through it
// so their output can be captured in tests.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Width returns the width used for boxes
func (p *Printer) Width() int {
	return p.width
}

// SetWidth overrides the detected terminal width
func (p *Printer) SetWidth(width int) *Printer {
	p.width = clampWidth(width)
	return p
}

// Writer returns the underlying writer
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Printf writes formatted content
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params map[string]string) {
	p.Println(NewHeader(title, command, params).SetWidth(p.width).Render())
	p.Newline()
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details map[string]string) {
	p.Println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// PrintWarning prints a warning result box
func (p *Printer) PrintWarning(title string, details map[string]string) {
	p.Println(NewWarningResult(title, details).SetWidth(p.width).Render())
}

// PrintError prints a failure box. Troubleshooting tips come from the
// cube error classification.
func (p *Printer) PrintError(title string, err error) {
	tips := TroubleshootingTips(cube.GetTroubleshootingHint(err))
	p.Println(NewFailureResult(title, err, tips).SetWidth(p.width).Render())
}

// PrintHint prints a muted one-line hint
func (p *Printer) PrintHint(hint string) {
	p.Println(HintStyle.Render(hint))
}

// PrintCircuits prints circuits as a table
func (p *Printer) PrintCircuits(circuits []cube.Circuit) {
	if len(circuits) == 0 {
		p.PrintHint("The cube reports no circuits.")
		return
	}
	p.Println(RenderCircuitTable(circuits))
}

// PrintCubes prints scan results as a table
func (p *Printer) PrintCubes(cubes []*discovery.Cube) {
	if len(cubes) == 0 {
		p.PrintHint("No cubes found.")
		return
	}
	p.Println(RenderCubeTable(cubes))
}
