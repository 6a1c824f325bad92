package preview

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/catprint/binarize"
)

func bitmap(t *testing.T, rows ...string) *binarize.Bitmap {
	t.Helper()
	ink := make([][]bool, len(rows))
	for y, r := range rows {
		ink[y] = make([]bool, len(r))
		for x, c := range r {
			ink[y][x] = c == '#'
		}
	}
	bm, err := binarize.NewBitmap(ink)
	require.NoError(t, err)
	return bm
}

func TestRenderHalfBlocks(t *testing.T) {
	bm := bitmap(t,
		"##..",
		"#.#.",
	)
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, bm, 10))
	assert.Equal(t, "█▀▄ \n", buf.String())
}

func TestRenderOddHeight(t *testing.T) {
	bm := bitmap(t, "#.", "..", ".#")
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, bm, 10))
	assert.Equal(t, "▀ \n ▀\n", buf.String())
}

func TestRenderScalesDown(t *testing.T) {
	bm := bitmap(t,
		"####....",
		"####....",
		"........",
		"........",
	)
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, bm, 4))
	assert.Equal(t, "▀▀  \n", buf.String())
}

func TestRenderMajorityRule(t *testing.T) {
	bm := bitmap(t,
		"#...",
		"....",
		"##..",
		"....",
	)
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, bm, 2))
	assert.Equal(t, "▄ \n", buf.String())
}

func TestConfirmDefaultsToYes(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("\n"), &out)

	ok, err := p.Confirm(context.Background(), bitmap(t, "#."))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "[Y/n]")
	assert.Contains(t, out.String(), "2x1 dots, 1 inked")
}

func TestConfirmAnswers(t *testing.T) {
	cases := map[string]bool{
		"y\n":    true,
		"YES\n":  true,
		"n\n":    false,
		" No \n": false,
		"N":      false,
		"":       false,
	}
	for input, want := range cases {
		p := NewPrompter(strings.NewReader(input), io.Discard)
		ok, err := p.Confirm(context.Background(), bitmap(t, "#"))
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, ok, "input %q", input)
	}
}

func TestConfirmNotInteractive(t *testing.T) {
	p := NewPrompter(strings.NewReader("y\n"), io.Discard)
	p.interactive = false

	_, err := p.Confirm(context.Background(), bitmap(t, "#"))
	assert.ErrorIs(t, err, ErrNotInteractive)
}

func TestConfirmCancelled(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()
	p := NewPrompter(in, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := p.Confirm(ctx, bitmap(t, "#"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
