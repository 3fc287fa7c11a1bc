package geometry

import (
	"math"
	"sort"
)

// RotatedRect is a minimum-area bounding rectangle.
type RotatedRect struct {
	Center Point
	Width  float64
	Height float64
	// Angle is the rotation of the Width edge in degrees.
	Angle float64
	// Corners are the four box vertices in winding order.
	Corners [4]Point
}

// Aspect returns Width/Height, or 0 for a zero-height rectangle.
func (r RotatedRect) Aspect() float64 {
	if r.Height == 0 {
		return 0
	}
	return r.Width / r.Height
}

// FitRectangle returns the minimum-area rectangle enclosing pts. It needs
// strictly more than four points: the four perspective corners alone are
// rejected, the six jet start points qualify.
func FitRectangle(pts []Point) (RotatedRect, error) {
	if len(pts) <= 4 {
		return RotatedRect{}, ErrInsufficientPoints
	}

	hull := convexHull(pts)
	if len(hull) < 3 {
		return RotatedRect{}, ErrDegenerate
	}

	best := RotatedRect{}
	bestArea := math.Inf(1)
	for i := range hull {
		edge := hull[(i+1)%len(hull)].Sub(hull[i])
		l := edge.Norm()
		if l == 0 {
			continue
		}
		// Unit axes along and across the edge.
		ax := edge.Scale(1 / l)
		ay := Point{-ax.Y, ax.X}

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			u := p.X*ax.X + p.Y*ax.Y
			v := p.X*ay.X + p.Y*ay.Y
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}

		area := (maxU - minU) * (maxV - minV)
		if area >= bestArea {
			continue
		}
		bestArea = area

		back := func(u, v float64) Point {
			return Point{u*ax.X + v*ay.X, u*ax.Y + v*ay.Y}
		}
		best = RotatedRect{
			Center: back((minU+maxU)/2, (minV+maxV)/2),
			Width:  maxU - minU,
			Height: maxV - minV,
			Angle:  math.Atan2(ax.Y, ax.X) * 180 / math.Pi,
			Corners: [4]Point{
				back(minU, minV),
				back(maxU, minV),
				back(maxU, maxV),
				back(minU, maxV),
			},
		}
	}

	if math.IsInf(bestArea, 1) || best.Width == 0 || best.Height == 0 {
		return RotatedRect{}, ErrDegenerate
	}
	return best, nil
}

// SortRectangleCorners orders four corners as top-left, top-right,
// bottom-right, bottom-left in image coordinates (y down).
//
// Points are sorted by angle about their centroid, rotated so the point
// nearest the origin comes first, and re-wound keeping that point fixed if
// the first two edges turn clockwise. Collinear or self-intersecting input
// yields an unspecified order.
func SortRectangleCorners(pts [4]Point) [4]Point {
	c := Centroid(pts[:])
	sorted := pts
	sort.SliceStable(sorted[:], func(i, j int) bool {
		ai := math.Atan2(sorted[i].Y-c.Y, sorted[i].X-c.X)
		aj := math.Atan2(sorted[j].Y-c.Y, sorted[j].X-c.X)
		return ai < aj
	})

	first := 0
	for i := 1; i < 4; i++ {
		if sq(sorted[i]) < sq(sorted[first]) {
			first = i
		}
	}
	var out [4]Point
	for i := range out {
		out[i] = sorted[(first+i)%4]
	}

	v1 := out[1].Sub(out[0])
	v2 := out[2].Sub(out[1])
	if v1.Cross(v2) < 0 {
		out = [4]Point{out[0], out[3], out[2], out[1]}
	}
	return out
}

func sq(p Point) float64 { return p.X*p.X + p.Y*p.Y }

// convexHull returns the hull of pts in counter-clockwise order (monotone
// chain). Collinear points on the hull boundary are dropped.
func convexHull(pts []Point) []Point {
	ps := append([]Point(nil), pts...)
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].X != ps[j].X {
			return ps[i].X < ps[j].X
		}
		return ps[i].Y < ps[j].Y
	})

	turn := func(o, a, b Point) float64 { return a.Sub(o).Cross(b.Sub(o)) }

	hull := make([]Point, 0, 2*len(ps))
	for _, p := range ps {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(ps) - 2; i >= 0; i-- {
		p := ps[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
