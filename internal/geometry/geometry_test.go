package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalePolygon(t *testing.T) {
	ref := Size{Width: 640, Height: 360}
	frame := Size{Width: 1280, Height: 720}

	poly := Polygon{{X: 10, Y: 20}, {X: 100, Y: 200}, {X: 320, Y: 180}}
	scaled := ScalePolygon(poly, ref, frame)

	require.Len(t, scaled, 3)
	assert.Equal(t, Point{X: 20, Y: 40}, scaled[0])
	assert.Equal(t, Point{X: 200, Y: 400}, scaled[1])
	assert.Equal(t, Point{X: 640, Y: 360}, scaled[2])
}

func TestScalePolygonClampsToFrame(t *testing.T) {
	ref := Size{Width: 100, Height: 100}
	frame := Size{Width: 200, Height: 200}

	poly := Polygon{{X: 100, Y: 100}, {X: -5, Y: 0}}
	scaled := ScalePolygon(poly, ref, frame)

	assert.Equal(t, Point{X: 199, Y: 199}, scaled[0])
	assert.Equal(t, Point{X: 0, Y: 0}, scaled[1])
}

func TestScalePolygonInvalidSizesPassThrough(t *testing.T) {
	poly := Polygon{{X: 1, Y: 2}}
	assert.Equal(t, poly, ScalePolygon(poly, Size{}, Size{Width: 10, Height: 10}))
}

func TestPointInPolygon(t *testing.T) {
	square := Polygon{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}

	assert.True(t, PointInPolygon(Point{X: 50, Y: 50}, square, DefaultTolerance))
	assert.False(t, PointInPolygon(Point{X: 150, Y: 50}, square, DefaultTolerance))

	// Just outside, but within the jitter tolerance.
	assert.True(t, PointInPolygon(Point{X: 103, Y: 50}, square, DefaultTolerance))
	assert.False(t, PointInPolygon(Point{X: 106, Y: 50}, square, DefaultTolerance))
}

func TestPointInPolygonDegenerate(t *testing.T) {
	assert.False(t, PointInPolygon(Point{X: 1, Y: 1}, Polygon{{X: 0, Y: 0}, {X: 2, Y: 2}}, DefaultTolerance))
	assert.False(t, PointInPolygon(Point{X: 1, Y: 1}, nil, DefaultTolerance))
}

func TestLineCrossing(t *testing.T) {
	// Vertical entrance line x=50 from (50,0) to (50,100).
	p1, p2 := Point{X: 50, Y: 0}, Point{X: 50, Y: 100}

	assert.True(t, LineCrossing(Point{X: 40, Y: 50}, Point{X: 60, Y: 50}, p1, p2))
	assert.False(t, LineCrossing(Point{X: 40, Y: 50}, Point{X: 45, Y: 50}, p1, p2))
	assert.False(t, LineCrossing(Point{X: 60, Y: 50}, Point{X: 70, Y: 50}, p1, p2))
}

func TestCrossingDirectionFlipsWithMovement(t *testing.T) {
	p1, p2 := Point{X: 50, Y: 0}, Point{X: 50, Y: 100}
	a, b := Point{X: 40, Y: 50}, Point{X: 60, Y: 50}

	forward := CrossingDirection(a, b, p1, p2)
	reverse := CrossingDirection(b, a, p1, p2)
	assert.NotEqual(t, forward, reverse)

	// Flipping the line endpoints flips the classification too.
	flipped := CrossingDirection(a, b, p2, p1)
	assert.NotEqual(t, forward, flipped)
}
