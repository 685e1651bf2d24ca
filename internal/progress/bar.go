// Package progress draws a single-line download progress bar.
package progress

import (
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

const (
	// DefaultWidth is used when the output is not a terminal.
	DefaultWidth = 80

	// overhead is the space taken by "[", "] " and the "%3d%%" percentage.
	overhead = 7

	fullGlyph  = "#"
	emptyGlyph = "-"
)

// Sample is a point-in-time view of transfer progress.
type Sample struct {
	Total      int64
	Downloaded int64
}

// clamp returns the sample with Downloaded limited to [0, Total].
func (s Sample) clamp() (downloaded, total uint64) {
	if s.Total <= 0 {
		return 0, 0
	}
	d := s.Downloaded
	if d < 0 {
		d = 0
	}
	if d > s.Total {
		d = s.Total
	}
	return uint64(d), uint64(s.Total)
}

// Ratio returns Downloaded/Total clamped to [0, 1], or 0 when Total is 0.
func (s Sample) Ratio() float64 {
	d, t := s.clamp()
	if t == 0 {
		return 0
	}
	return float64(d) / float64(t)
}

// Percent returns floor(100 * Ratio()).
func (s Sample) Percent() int {
	d, t := s.clamp()
	return int(scale(d, t, 100))
}

// Complete reports whether every byte of a non-empty transfer is downloaded.
func (s Sample) Complete() bool {
	return s.Total > 0 && s.Downloaded >= s.Total
}

// scale returns floor(d * n / t) without overflowing, for d <= t.
func scale(d, t, n uint64) uint64 {
	if t == 0 {
		return 0
	}
	hi, lo := bits.Mul64(d, n)
	q, _ := bits.Div64(hi, lo, t)
	return q
}

// Bar renders samples as "[####----] 50%" lines, redrawing in place.
type Bar struct {
	w        io.Writer
	barWidth int
	full     string
	empty    string
	pending  bool
}

// NewBar creates a bar filling width columns of w.
func NewBar(w io.Writer, width int) *Bar {
	barWidth := max(1, width-overhead)
	return &Bar{
		w:        w,
		barWidth: barWidth,
		full:     strings.Repeat(fullGlyph, barWidth),
		empty:    strings.Repeat(emptyGlyph, barWidth),
	}
}

// Width returns the number of fill glyphs between the brackets.
func (b *Bar) Width() int { return b.barWidth }

// Format returns the bar for s without any terminal control characters.
func (b *Bar) Format(s Sample) string {
	d, t := s.clamp()
	filled := int(scale(d, t, uint64(b.barWidth)))

	var sb strings.Builder
	sb.Grow(b.barWidth + overhead)
	sb.WriteByte('[')
	sb.WriteString(b.full[:filled])
	sb.WriteString(b.empty[:b.barWidth-filled])
	sb.WriteString("] ")
	pct := strconv.Itoa(s.Percent())
	sb.WriteString(strings.Repeat(" ", 3-len(pct)))
	sb.WriteString(pct)
	sb.WriteByte('%')
	return sb.String()
}

// Render overwrites the current terminal line with the bar for s. A finished
// transfer ends the line so later output starts below the bar.
func (b *Bar) Render(s Sample) error {
	line := "\r" + b.Format(s)
	b.pending = true
	if s.Complete() {
		line += "\n"
		b.pending = false
	}
	_, err := io.WriteString(b.w, line)
	return err
}

// Break ends a partially drawn line, if any.
func (b *Bar) Break() error {
	if !b.pending {
		return nil
	}
	b.pending = false
	_, err := io.WriteString(b.w, "\n")
	return err
}

// TerminalWidth returns the column count of w when it is a terminal, or
// DefaultWidth otherwise.
func TerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return DefaultWidth
	}

	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultWidth
	}
	return width
}
