// Package geometry holds the numerical fitting and projective routines used
// to calibrate the camera against the pool: least-squares circle fits,
// minimum-area rectangles, corner canonicalisation and 4-point homographies.
package geometry

import (
	"errors"
	"math"
)

var (
	// ErrInsufficientPoints is returned when a fit is attempted with fewer
	// points than it needs.
	ErrInsufficientPoints = errors.New("geometry: insufficient points")

	// ErrDegenerate is returned when the input points are collinear or
	// coincident and no meaningful shape can be fitted.
	ErrDegenerate = errors.New("geometry: degenerate point set")
)

// Point is a 2D point in pixel or canvas space.
type Point struct {
	X, Y float64
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Scale returns p*s.
func (p Point) Scale(s float64) Point { return Point{p.X * s, p.Y * s} }

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 { return math.Hypot(p.X, p.Y) }

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 { return p.Sub(q).Norm() }

// Cross returns the z component of the cross product p×q.
func (p Point) Cross(q Point) float64 { return p.X*q.Y - p.Y*q.X }

// Centroid returns the arithmetic mean of pts. It returns the zero point
// for an empty slice.
func Centroid(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return Point{c.X / n, c.Y / n}
}

// PolygonArea returns the unsigned area of the polygon with the given
// vertices in order (shoelace formula).
func PolygonArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var s float64
	for i := range pts {
		j := (i + 1) % len(pts)
		s += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(s) / 2
}
