// Package geometry provides the 2-D primitives the capability detector runs
// on: polygon scaling between coordinate systems, point-in-polygon tests with
// a jitter tolerance, and segment crossing with direction.
package geometry

import "math"

// Point is a 2-D point in frame coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a frame or screenshot size in pixels.
type Size struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Polygon is an ordered vertex list. Operators draw these on a reference
// screenshot; ScalePolygon converts them to live frame coordinates.
type Polygon []Point

// Line is a two-point segment (entrance lines).
type Line [2]Point

// DefaultTolerance is the signed-distance slack, in pixels, applied when
// deciding whether a centroid is inside a polygon. It absorbs detector
// jitter at polygon borders.
const DefaultTolerance = 5.0

// ScalePolygon maps polygon vertices from the reference screenshot coordinate
// system to the live frame coordinate system. Coordinates are clamped to
// [0, to-1] on each axis.
func ScalePolygon(poly Polygon, from, to Size) Polygon {
	if from.Width <= 0 || from.Height <= 0 || to.Width <= 0 || to.Height <= 0 {
		return poly
	}
	sx := float64(to.Width) / float64(from.Width)
	sy := float64(to.Height) / float64(from.Height)

	out := make(Polygon, len(poly))
	for i, p := range poly {
		out[i] = Point{
			X: clamp(math.Trunc(p.X*sx), 0, float64(to.Width-1)),
			Y: clamp(math.Trunc(p.Y*sy), 0, float64(to.Height-1)),
		}
	}
	return out
}

// ScaleLine maps a segment the same way ScalePolygon maps vertices.
func ScaleLine(line Line, from, to Size) Line {
	scaled := ScalePolygon(Polygon{line[0], line[1]}, from, to)
	return Line{scaled[0], scaled[1]}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PointInPolygon reports whether p is inside poly, treating any point whose
// signed distance to the polygon is >= -tolerance as inside. Ray casting
// decides strict containment; points outside but within tolerance pixels of
// an edge also count.
func PointInPolygon(p Point, poly Polygon, tolerance float64) bool {
	if len(poly) < 3 {
		return false
	}
	if rayCast(p, poly) {
		return true
	}
	return distanceToBoundary(p, poly) <= tolerance
}

// rayCast is the standard even-odd crossing test.
func rayCast(p Point, poly Polygon) bool {
	inside := false
	n := len(poly)
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			xCross := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// distanceToBoundary returns the minimum distance from p to any polygon edge.
func distanceToBoundary(p Point, poly Polygon) float64 {
	min := math.Inf(1)
	n := len(poly)
	for i := 0; i < n; i++ {
		d := distanceToSegment(p, poly[i], poly[(i+1)%n])
		if d < min {
			min = d
		}
	}
	return min
}

func distanceToSegment(p, a, b Point) float64 {
	abx, aby := b.X-a.X, b.Y-a.Y
	apx, apy := p.X-a.X, p.Y-a.Y

	lenSq := abx*abx + aby*aby
	if lenSq == 0 {
		return math.Hypot(apx, apy)
	}
	t := clamp((apx*abx+apy*aby)/lenSq, 0, 1)
	cx := a.X + t*abx
	cy := a.Y + t*aby
	return math.Hypot(p.X-cx, p.Y-cy)
}

// ccw reports whether the triple (a, b, c) winds counter-clockwise.
func ccw(a, b, c Point) bool {
	return (c.Y-a.Y)*(b.X-a.X) > (b.Y-a.Y)*(c.X-a.X)
}

// LineCrossing reports whether the movement segment prev→curr crosses the
// segment p1→p2.
func LineCrossing(prev, curr, p1, p2 Point) bool {
	return ccw(prev, p1, p2) != ccw(curr, p1, p2) && ccw(prev, curr, p1) != ccw(prev, curr, p2)
}

// Direction of an entrance crossing.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// CrossingDirection classifies a crossing by the sign of the cross product of
// the line vector and the movement vector. Positive cross product means "in";
// operators orient the line so that convention matches the floor plan.
func CrossingDirection(prev, curr, p1, p2 Point) Direction {
	lineX, lineY := p2.X-p1.X, p2.Y-p1.Y
	moveX, moveY := curr.X-prev.X, curr.Y-prev.Y
	cross := lineX*moveY - lineY*moveX
	if cross > 0 {
		return DirectionIn
	}
	return DirectionOut
}
