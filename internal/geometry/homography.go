package geometry

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Homography is a 3×3 projective transform stored row-major.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// PerspectiveTransform returns the homography mapping each src[i] onto
// dst[i], with the bottom-right element fixed at 1. It returns
// ErrDegenerate when the correspondences do not determine a transform
// (three collinear points, repeated points).
func PerspectiveTransform(src, dst [4]Point) (Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return Homography{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}

	var out Homography
	for i := 0; i < 8; i++ {
		out[i] = h.AtVec(i)
	}
	out[8] = 1
	return out, nil
}

// Apply maps p through the transform.
func (h Homography) Apply(p Point) Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if w == 0 {
		return Point{math.Inf(1), math.Inf(1)}
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// ApplyAll maps every point in pts.
func (h Homography) ApplyAll(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = h.Apply(p)
	}
	return out
}

// Inverse returns the inverse transform normalised so the bottom-right
// element is 1.
func (h Homography) Inverse() (Homography, error) {
	m := mat.NewDense(3, 3, h[:])
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Homography{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = inv.At(r, c)
		}
	}
	if out[8] != 0 {
		s := out[8]
		for i := range out {
			out[i] /= s
		}
	}
	return out, nil
}

// Warp renders src through the transform into a w×h image using
// nearest-neighbour sampling. Destination pixels that map outside src are
// black.
func (h Homography) Warp(src image.Image, w, hgt int) (*image.RGBA, error) {
	inv, err := h.Inverse()
	if err != nil {
		return nil, err
	}

	in, ok := src.(*image.RGBA)
	if !ok {
		b := src.Bounds()
		in = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(in, in.Bounds(), src, b.Min, draw.Src)
	}
	bounds := in.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, w, hgt))
	for y := 0; y < hgt; y++ {
		for x := 0; x < w; x++ {
			p := inv.Apply(Point{float64(x), float64(y)})
			di := out.PixOffset(x, y)
			out.Pix[di+3] = 0xff
			if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
				continue
			}
			sx := int(math.Round(p.X)) + bounds.Min.X
			sy := int(math.Round(p.Y)) + bounds.Min.Y
			if !image.Pt(sx, sy).In(bounds) {
				continue
			}
			si := in.PixOffset(sx, sy)
			copy(out.Pix[di:di+3], in.Pix[si:si+3])
		}
	}
	return out, nil
}
