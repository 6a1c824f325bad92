package binarize

const (
	white     = 255.0
	black     = 0.0
	midpoint  = 127.0
	errWeight = 16.0
)

// diffusion lists the Floyd-Steinberg neighbours as (dx, dy, weight/16).
var diffusion = [...]struct {
	dx, dy int
	weight float64
}{
	{1, 0, 7},
	{-1, 1, 3},
	{0, 1, 5},
	{1, 1, 1},
}

// floydSteinberg dithers grid in raster order over a float buffer and returns
// the ink marks together with the total error that fell outside the grid.
//
// Values are not clamped, so sum(input) - sum(quantized) == dropped.
func floydSteinberg(grid PixelGrid) (ink []bool, dropped float64) {
	w, h := grid.width, grid.height
	buf := make([]float64, len(grid.pix))
	for i, p := range grid.pix {
		buf[i] = float64(p)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			old := buf[i]
			quantized := black
			if old > midpoint {
				quantized = white
			}
			buf[i] = quantized
			e := old - quantized
			if e == 0 {
				continue
			}

			for _, d := range diffusion {
				share := e * d.weight / errWeight
				nx, ny := x+d.dx, y+d.dy
				if nx < 0 || nx >= w || ny >= h {
					dropped += share
					continue
				}
				buf[ny*w+nx] += share
			}
		}
	}

	ink = make([]bool, len(buf))
	for i, v := range buf {
		ink[i] = v <= midpoint
	}
	return ink, dropped
}
