// Package imageload fetches an image from a URL or file, converts it to
// grayscale and scales it to the printer's width.
package imageload

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nfnt/resize"

	"github.com/nixxel-company-limited/catprint/binarize"
	"github.com/nixxel-company-limited/catprint/logging"
)

var (
	// ErrFetch is returned when the image source cannot be read.
	ErrFetch = errors.New("imageload: fetch failed")

	// ErrDecode is returned when the data is not a supported image.
	ErrDecode = errors.New("imageload: decode failed")
)

// DefaultFetchTimeout bounds a single HTTP download.
const DefaultFetchTimeout = 30 * time.Second

// Loader turns image sources into pixel grids of a fixed width.
type Loader struct {
	width  int
	client *http.Client
	logger logging.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient replaces the client used for http and https sources.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithLogger sets the loader's logger.
func WithLogger(lg logging.Logger) Option {
	return func(l *Loader) { l.logger = logging.OrNoop(lg) }
}

// NewLoader creates a loader scaling every image to width pixels.
func NewLoader(width int, opts ...Option) (*Loader, error) {
	if width <= 0 {
		return nil, fmt.Errorf("imageload: width must be positive, got %d", width)
	}
	l := &Loader{
		width:  width,
		client: &http.Client{Timeout: DefaultFetchTimeout},
		logger: logging.NoopLogger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load reads source, which is an http(s) URL, a file URL or a plain path.
func (l *Loader) Load(ctx context.Context, source string) (binarize.PixelGrid, error) {
	rc, err := l.open(ctx, source)
	if err != nil {
		return binarize.PixelGrid{}, err
	}
	defer rc.Close()

	l.logger.Info("loading image", logging.String("source", source))
	return l.Decode(rc)
}

func (l *Loader) open(ctx context.Context, source string) (io.ReadCloser, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		return openFile(source)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, source, resp.Status)
		}
		return resp.Body, nil
	case "file":
		return openFile(u.Path)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrFetch, u.Scheme)
	}
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return f, nil
}

// Decode reads a PNG, JPEG or GIF image from r and converts it.
func (l *Loader) Decode(r io.Reader) (binarize.PixelGrid, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return binarize.PixelGrid{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	b := img.Bounds()
	l.logger.Debug("decoded image",
		logging.String("format", format),
		logging.Int("width", b.Dx()),
		logging.Int("height", b.Dy()))
	return ToGrid(img, l.width)
}

// ToGrid scales img to width pixels, keeping its aspect ratio, and converts
// it to 8-bit luminance. Transparent pixels become white.
func ToGrid(img image.Image, width int) (binarize.PixelGrid, error) {
	b := img.Bounds()
	if b.Empty() {
		return binarize.PixelGrid{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if b.Dx() != width {
		img = resize.Resize(uint(width), 0, img, resize.Lanczos3)
		b = img.Bounds()
	}

	w, h := b.Dx(), b.Dy()
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pix[y*w+x] = luminance(img, b.Min.X+x, b.Min.Y+y)
		}
	}
	return binarize.NewPixelGrid(w, h, pix)
}

// luminance composites the pixel over white and applies Rec. 601 weights.
func luminance(img image.Image, x, y int) uint8 {
	r, g, bl, a := img.At(x, y).RGBA()
	if a == 0 {
		return 0xff
	}
	// Premultiplied, so adding the uncovered share of white composites it.
	white := 0xffff - a
	r, g, bl = r+white, g+white, bl+white
	return uint8((299*(r>>8) + 587*(g>>8) + 114*(bl>>8) + 500) / 1000)
}
