package flowmap

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// plane is an RGB buffer stored as signed float deviations from the
// background colour. Keeping the working buffers unquantised lets decay and
// blur shrink small deviations instead of pinning them at ±1 levels.
type plane struct {
	w, h int
	pix  []float64 // 3 values per pixel, row-major
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float64, w*h*3)}
}

// l1 is the sum of absolute channel deviations from the background.
func (p *plane) l1() float64 {
	return floats.Norm(p.pix, 1)
}

// fillCircle paints a filled disc of radius r centred on (cx, cy), clipped
// to the plane.
func (p *plane) fillCircle(cx, cy, r int, dev [3]float64) {
	if r < 0 {
		return
	}
	y0, y1 := max(cy-r, 0), min(cy+r, p.h-1)
	for y := y0; y <= y1; y++ {
		dy := y - cy
		span := int(math.Sqrt(float64(r*r - dy*dy)))
		x0, x1 := max(cx-span, 0), min(cx+span, p.w-1)
		row := y * p.w * 3
		for x := x0; x <= x1; x++ {
			i := row + x*3
			p.pix[i] = dev[0]
			p.pix[i+1] = dev[1]
			p.pix[i+2] = dev[2]
		}
	}
}

// clampTo limits every channel to [lo, hi].
func (p *plane) clampTo(lo, hi [3]float64) {
	for i := 0; i < len(p.pix); i += 3 {
		for c := 0; c < 3; c++ {
			if p.pix[i+c] < lo[c] {
				p.pix[i+c] = lo[c]
			} else if p.pix[i+c] > hi[c] {
				p.pix[i+c] = hi[c]
			}
		}
	}
}

// image renders the plane on top of bg as an opaque 8-bit image.
func (p *plane) image(bg color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.w, p.h))
	base := [3]float64{float64(bg.R), float64(bg.G), float64(bg.B)}
	for i, j := 0, 0; i < len(p.pix); i, j = i+3, j+4 {
		img.Pix[j] = quantize(base[0] + p.pix[i])
		img.Pix[j+1] = quantize(base[1] + p.pix[i+1])
		img.Pix[j+2] = quantize(base[2] + p.pix[i+2])
		img.Pix[j+3] = 0xff
	}
	return img
}

func quantize(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// boxRadii returns the radii of three successive box filters whose combined
// response approximates a Gaussian of the given sigma.
func boxRadii(sigma float64) [3]int {
	const n = 3
	wIdeal := math.Sqrt(12*sigma*sigma/n + 1)
	wl := int(math.Floor(wIdeal))
	if wl%2 == 0 {
		wl--
	}
	wu := wl + 2
	mIdeal := (12*sigma*sigma - n*float64(wl*wl) - 4*n*float64(wl) - 3*n) / (-4*float64(wl) - 4)
	m := int(math.Round(mIdeal))

	var radii [3]int
	for i := range radii {
		size := wu
		if i < m {
			size = wl
		}
		radii[i] = (size - 1) / 2
	}
	return radii
}

// blur applies three box passes per axis, approximating a Gaussian. Pixels
// outside the plane count as background, so the total deviation never
// grows. Each pass costs the same regardless of radius.
func (p *plane) blur(radii [3]int, tmp *plane) {
	w, h := p.w, p.h
	rowStride, colStride := 3, w*3

	for _, r := range radii {
		if r <= 0 {
			continue
		}
		parallelRows(h, func(y int) {
			boxLine(p.pix, tmp.pix, y*w*3, rowStride, w, r)
		})
		parallelRows(w, func(x int) {
			boxLine(tmp.pix, p.pix, x*3, colStride, h, r)
		})
	}
}

// boxLine writes the radius-r box average of the n pixels of src starting at
// off and spaced stride apart into dst, for all three channels, using a
// running sum.
func boxLine(src, dst []float64, off, stride, n, r int) {
	inv := 1 / float64(2*r+1)
	for c := 0; c < 3; c++ {
		var sum float64
		for i := 0; i <= min(r, n-1); i++ {
			sum += src[off+i*stride+c]
		}
		for i := 0; i < n; i++ {
			dst[off+i*stride+c] = sum * inv
			if j := i + r + 1; j < n {
				sum += src[off+j*stride+c]
			}
			if j := i - r; j >= 0 {
				sum -= src[off+j*stride+c]
			}
		}
	}
}

// parallelRows runs fn for every row in [0, n) across GOMAXPROCS workers.
func parallelRows(n int, fn func(y int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for y := 0; y < n; y++ {
			fn(y)
		}
		return
	}
	rows := make(chan int, n)
	for y := 0; y < n; y++ {
		rows <- y
	}
	close(rows)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for y := range rows {
				fn(y)
			}
		}()
	}
	wg.Wait()
}
