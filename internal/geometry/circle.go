package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Circle is a fitted circle.
type Circle struct {
	Center Point
	Radius float64
}

// FitCircle fits a circle to pts with the algebraic (Kåsa) least-squares
// method. At least three points are required.
//
// The fit centres the points on their mean and solves
//
//	[Suu Suv] [uc]   1 [Suuu + Suvv]
//	[Suv Svv] [vc] = - [Svvv + Suuv]
//	                 2
//
// for the centre offset. When that system is singular (for example all
// points collinear) the centroid and mean radial distance are returned
// instead; that case is not an error.
func FitCircle(pts []Point) (Circle, error) {
	if len(pts) < 3 {
		return Circle{}, ErrInsufficientPoints
	}

	mean := Centroid(pts)
	var suu, suv, svv, suuv, suvv, suuu, svvv float64
	for _, p := range pts {
		u := p.X - mean.X
		v := p.Y - mean.Y
		suu += u * u
		suv += u * v
		svv += v * v
		suuv += u * u * v
		suvv += u * v * v
		suuu += u * u * u
		svvv += v * v * v
	}

	a := mat.NewDense(2, 2, []float64{suu, suv, suv, svv})
	b := mat.NewVecDense(2, []float64{0.5 * (suuu + suvv), 0.5 * (svvv + suuv)})
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return centroidCircle(pts, mean), nil
	}

	uc, vc := x.AtVec(0), x.AtVec(1)
	r := math.Sqrt(uc*uc + vc*vc + (suu+svv)/float64(len(pts)))
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return centroidCircle(pts, mean), nil
	}
	return Circle{Center: Point{mean.X + uc, mean.Y + vc}, Radius: r}, nil
}

func centroidCircle(pts []Point, mean Point) Circle {
	var sum float64
	for _, p := range pts {
		sum += p.Dist(mean)
	}
	return Circle{Center: mean, Radius: sum / float64(len(pts))}
}
