package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/nixxel-company-limited/catprint/binarize"
)

var (
	// ErrInvalidRowWidth is returned when a bitmap is not exactly PrintWidth dots wide.
	ErrInvalidRowWidth = errors.New("protocol: row width does not match print width")

	// ErrInvalidConfig is returned by NewEncoder for unusable settings.
	ErrInvalidConfig = errors.New("protocol: invalid encoder configuration")
)

// DefaultPrintWidth is the dot count of one print-head line on GB01/GT01 printers.
const DefaultPrintWidth = 384

// Polarity maps ink to a wire bit value.
type Polarity int

const (
	// InkIsOne sends a set bit for every printed dot.
	InkIsOne Polarity = iota
	// InkIsZero sends a cleared bit for every printed dot.
	InkIsZero
)

// BitOrder selects which bit of a packed byte carries the leftmost dot.
type BitOrder int

const (
	// LSBFirst puts the leftmost dot of each group of eight in bit 0.
	LSBFirst BitOrder = iota
	// MSBFirst puts the leftmost dot of each group of eight in bit 7.
	MSBFirst
)

// Config holds the device parameters the encoder needs.
type Config struct {
	// PrintWidth is the number of dots per line; every bitmap must match it.
	PrintWidth int
	// Energy is the print-head energy (darkness).
	Energy uint16
	// FeedLines is how far the paper advances after the image.
	FeedLines uint16
	Polarity  Polarity
	BitOrder  BitOrder
	// Compress enables run-length rows when they are not larger than packed rows.
	Compress bool
}

// DefaultConfig returns the settings used by GB01/GT01 printers.
func DefaultConfig() Config {
	return Config{
		PrintWidth: DefaultPrintWidth,
		Energy:     0xffff,
		FeedLines:  80,
		Polarity:   InkIsOne,
		BitOrder:   LSBFirst,
		Compress:   true,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.PrintWidth <= 0 {
		return fmt.Errorf("%w: print width must be positive, got %d", ErrInvalidConfig, c.PrintWidth)
	}
	if c.Polarity != InkIsOne && c.Polarity != InkIsZero {
		return fmt.Errorf("%w: unknown polarity %d", ErrInvalidConfig, c.Polarity)
	}
	if c.BitOrder != LSBFirst && c.BitOrder != MSBFirst {
		return fmt.Errorf("%w: unknown bit order %d", ErrInvalidConfig, c.BitOrder)
	}
	return nil
}

// RowBytes returns the packed size of one row.
func (c Config) RowBytes() int {
	return (c.PrintWidth + 7) / 8
}

// CommandStream is the ordered list of frames making up one print job.
type CommandStream struct {
	frames [][]byte
	size   int
}

// NewCommandStream copies frames into a stream.
func NewCommandStream(frames ...[]byte) *CommandStream {
	s := &CommandStream{}
	for _, f := range frames {
		s.append(bytes.Clone(f))
	}
	return s
}

func (s *CommandStream) append(frame []byte) {
	s.frames = append(s.frames, frame)
	s.size += len(frame)
}

// Len returns the number of frames.
func (s *CommandStream) Len() int { return len(s.frames) }

// Size returns the total number of bytes.
func (s *CommandStream) Size() int { return s.size }

// Frame returns frame i. Callers must not modify it.
func (s *CommandStream) Frame(i int) []byte { return s.frames[i] }

// Frames returns the frames in order. Callers must not modify them.
func (s *CommandStream) Frames() [][]byte {
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Count returns how many frames carry op.
func (s *CommandStream) Count(op Opcode) int {
	n := 0
	for _, f := range s.frames {
		if len(f) > 2 && f[0] == magic0 && f[1] == magic1 && Opcode(f[2]) == op {
			n++
		}
	}
	return n
}

// Bytes returns the stream as one contiguous buffer.
func (s *CommandStream) Bytes() []byte {
	buf := make([]byte, 0, s.size)
	for _, f := range s.frames {
		buf = append(buf, f...)
	}
	return buf
}

// Encoder turns bitmaps into command streams.
type Encoder struct {
	cfg Config
}

// NewEncoder creates an encoder for cfg.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{cfg: cfg}, nil
}

// Config returns the encoder configuration.
func (e *Encoder) Config() Config { return e.cfg }

// Encode builds the full command stream for bm: initialization, one frame per
// inked row, feeds for blank rows, then the trailing feed and finalization.
// Identical input always yields an identical stream.
func (e *Encoder) Encode(bm *binarize.Bitmap) (*CommandStream, error) {
	if bm == nil {
		return nil, fmt.Errorf("%w: nil bitmap", ErrInvalidRowWidth)
	}
	if bm.Width() != e.cfg.PrintWidth {
		return nil, fmt.Errorf("%w: bitmap is %d dots wide, printer expects %d", ErrInvalidRowWidth, bm.Width(), e.cfg.PrintWidth)
	}

	s := &CommandStream{}
	s.append(getDeviceState())
	s.append(setQuality200DPI())
	s.append(setEnergy(e.cfg.Energy))
	s.append(applyEnergy())
	s.append(startLattice())

	blank := 0
	for y := 0; y < bm.Height(); y++ {
		row := bm.Row(y)
		if !hasInk(row) {
			blank++
			continue
		}
		e.appendFeed(s, blank)
		blank = 0
		s.append(e.encodeRow(row))
	}
	e.appendFeed(s, blank)

	e.appendFeed(s, int(e.cfg.FeedLines))
	s.append(endLattice())
	s.append(getDeviceState())

	return s, nil
}

// appendFeed advances the paper by n lines, split across frames when needed.
func (e *Encoder) appendFeed(s *CommandStream, n int) {
	for n > 0 {
		step := n
		if step > maxFeedLines {
			step = maxFeedLines
		}
		s.append(feedPaper(uint16(step)))
		n -= step
	}
}

func (e *Encoder) encodeRow(row []bool) []byte {
	packed := e.packRow(row)
	if e.cfg.Compress {
		if runs := e.runLengthRow(row); len(runs) <= len(packed) {
			return printRowRLE(runs)
		}
	}
	return printRowPacked(packed)
}

// packRow packs eight dots per byte. Padding bits in a trailing partial byte
// are sent as blank dots under the configured polarity.
func (e *Encoder) packRow(row []bool) []byte {
	packed := make([]byte, e.cfg.RowBytes())
	for x := 0; x < len(packed)*8; x++ {
		ink := x < len(row) && row[x]
		if !e.wireBit(ink) {
			continue
		}
		bit := uint(x % 8)
		if e.cfg.BitOrder == MSBFirst {
			bit = 7 - bit
		}
		packed[x/8] |= 1 << bit
	}
	return packed
}

// runLengthRow encodes row as runs of at most 127 dots, each byte carrying the
// wire bit in bit 7 and the run length in bits 0-6.
func (e *Encoder) runLengthRow(row []bool) []byte {
	var runs []byte
	emit := func(ink bool, n int) {
		var hi byte
		if e.wireBit(ink) {
			hi = 0x80
		}
		for n > 0x7f {
			runs = append(runs, hi|0x7f)
			n -= 0x7f
		}
		if n > 0 {
			runs = append(runs, hi|byte(n))
		}
	}

	start := 0
	for x := 1; x <= len(row); x++ {
		if x == len(row) || row[x] != row[start] {
			emit(row[start], x-start)
			start = x
		}
	}
	return runs
}

func (e *Encoder) wireBit(ink bool) bool {
	if e.cfg.Polarity == InkIsZero {
		return !ink
	}
	return ink
}

func hasInk(row []bool) bool {
	for _, v := range row {
		if v {
			return true
		}
	}
	return false
}
