// Package preview draws a bitmap in the terminal and asks whether to print it.
package preview

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/nixxel-company-limited/catprint/binarize"
)

// ErrNotInteractive is returned when confirmation is requested without a terminal.
var ErrNotInteractive = errors.New("preview: stdin is not a terminal")

// DefaultColumns is the widest preview drawn.
const DefaultColumns = 96

// Render draws bm in at most columns characters per line. Each character
// covers two rows using half blocks; wide bitmaps are scaled down evenly.
func Render(w io.Writer, bm *binarize.Bitmap, columns int) error {
	if columns <= 0 {
		columns = DefaultColumns
	}
	step := (bm.Width() + columns - 1) / columns
	if step < 1 {
		step = 1
	}

	bw := bufio.NewWriter(w)
	for y := 0; y < bm.Height(); y += 2 * step {
		for x := 0; x < bm.Width(); x += step {
			top := cellInk(bm, x, y, step)
			bottom := cellInk(bm, x, y+step, step)
			switch {
			case top && bottom:
				bw.WriteRune('█')
			case top:
				bw.WriteRune('▀')
			case bottom:
				bw.WriteRune('▄')
			default:
				bw.WriteByte(' ')
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// cellInk reports whether at least half the dots in the step×step cell at
// (x0, y0) are inked. Cells past the bottom edge are blank.
func cellInk(bm *binarize.Bitmap, x0, y0, step int) bool {
	ink, total := 0, 0
	for y := y0; y < y0+step && y < bm.Height(); y++ {
		for x := x0; x < x0+step && x < bm.Width(); x++ {
			total++
			if bm.Ink(x, y) {
				ink++
			}
		}
	}
	return total > 0 && 2*ink >= total
}

// Prompter shows a preview and reads a [Y/n] answer.
type Prompter struct {
	in          io.Reader
	out         io.Writer
	columns     int
	interactive bool
}

// Option configures a Prompter.
type Option func(*Prompter)

// WithColumns limits the preview width.
func WithColumns(n int) Option {
	return func(p *Prompter) { p.columns = n }
}

// NewPrompter creates a prompter reading answers from in.
func NewPrompter(in io.Reader, out io.Writer, opts ...Option) *Prompter {
	p := &Prompter{in: in, out: out, columns: DefaultColumns, interactive: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewTerminalPrompter prompts on stdin/stdout and refuses to run when stdin
// is not a terminal.
func NewTerminalPrompter(opts ...Option) *Prompter {
	p := NewPrompter(os.Stdin, os.Stdout, opts...)
	fd := os.Stdin.Fd()
	p.interactive = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return p
}

// Confirm renders bm and asks whether to print it. Anything but "n" or "no"
// accepts; end of input declines.
func (p *Prompter) Confirm(ctx context.Context, bm *binarize.Bitmap) (bool, error) {
	if !p.interactive {
		return false, ErrNotInteractive
	}
	if err := Render(p.out, bm, p.columns); err != nil {
		return false, fmt.Errorf("preview: %w", err)
	}
	fmt.Fprintf(p.out, "%dx%d dots, %d inked. Go ahead with print? [Y/n] ", bm.Width(), bm.Height(), bm.InkCount())

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, fmt.Errorf("preview: read answer: %w", a.err)
		}
		if errors.Is(a.err, io.EOF) && a.line == "" {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "n", "no":
			return false, nil
		}
		return true, nil
	}
}
